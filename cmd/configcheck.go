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
	"os"

	"github.com/spf13/cobra"

	"github.com/uktrade/ipfilter-sidecar/internal/envconfig"
)

// ConfigCmd groups configuration-related subcommands.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate the sidecar's configuration",
}

// checkCmd resolves the effective configuration from the process
// environment and reports any ConfigError without starting the server.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate environment configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := envconfig.Resolve()
		if err != nil {
			fmt.Printf("configuration check failed: %s\n", err)
			os.Exit(1)
		}
		if err := cfg.ValidateOriginReachable(); err != nil {
			fmt.Printf("configuration check failed: %s\n", err)
			os.Exit(1)
		}
		fmt.Println("configuration OK")
		printStartupBanner(cfg)
	},
}

func init() {
	ConfigCmd.AddCommand(checkCmd)
}
