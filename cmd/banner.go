/*
 * Copyright 2024 Department for International Trade
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package cmd

import (
	"fmt"

	figure "github.com/common-nighthawk/go-figure"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/uktrade/ipfilter-sidecar/internal/envconfig"
	"github.com/uktrade/ipfilter-sidecar/internal/version"
)

// printStartupBanner prints the ASCII banner and a summary table of the
// effective configuration.
func printStartupBanner(cfg *envconfig.EffectiveConfig) {
	figure.NewFigure("ipfilter-sidecar", "", true).Print()
	fmt.Printf("version: %s\n\n", version.Version)

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Setting", "Value"})
	t.AppendRow(table.Row{"environment", cfg.Environment})
	t.AppendRow(table.Row{"origin", fmt.Sprintf("%s://%s", cfg.ServerProto, cfg.Server)})
	t.AppendRow(table.Row{"port", cfg.Port})
	t.AppendRow(table.Row{"profiles", cfg.AppConfigProfiles})
	t.AppendRow(table.Row{"filter_enabled", cfg.FilterEnabled})
	t.AppendRow(table.Row{"xff_index", cfg.XFFIndex})
	t.AppendRow(table.Row{"refresh_interval", cfg.RefreshInterval})
	fmt.Println(t.Render())
}
