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
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/uktrade/ipfilter-sidecar/internal/authengine"
	"github.com/uktrade/ipfilter-sidecar/internal/classifier"
	"github.com/uktrade/ipfilter-sidecar/internal/envconfig"
	"github.com/uktrade/ipfilter-sidecar/internal/metrics"
	"github.com/uktrade/ipfilter-sidecar/internal/profile"
	"github.com/uktrade/ipfilter-sidecar/internal/proxyhttp"
	"github.com/uktrade/ipfilter-sidecar/internal/refresher"
)

// ServeCmd starts the sidecar's HTTP listener and the background
// profile refresher.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sidecar",
	Run: func(cmd *cobra.Command, args []string) {
		if err := serve(); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	},
}

func serve() error {
	cfg, err := envconfig.Resolve()
	if err != nil {
		return err
	}

	printStartupBanner(cfg)

	m := metrics.New()

	fetcher := profile.NewFetcher(cfg.AppConfigURL, cfg.RefreshTimeout)
	r := refresher.New(fetcher, cfg.AppConfigProfiles, cfg.RefreshInterval, cfg.RefreshTimeout, cfg.RedisURL)
	r.SetMetrics(m)

	if err := r.Start(context.Background()); err != nil {
		return fmt.Errorf("initial refresh: %w", err)
	}
	defer r.Stop()

	cl := classifier.New(cfg.FilterEnabled, cfg.PublicPaths, cfg.ProtectedPaths, cfg.PubHostList, cfg.PrivHostList)
	engine := authengine.New(cfg.XFFIndex, cfg.AdditionalIPs)
	denial := proxyhttp.NewDenialRenderer(cfg.Email, cfg.EmailName)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv, err := proxyhttp.NewServer(addr, cfg.ServerProto, cfg.Server, proxyhttp.Server{
		Classifier:            cl,
		Engine:                engine,
		Snapshots:             r,
		Denial:                denial,
		Metrics:               m,
		MetricsAddr:           cfg.MetricsAddr,
		ConnectTimeout:        cfg.UpstreamConnectTimeout,
		ReadTimeout:           cfg.UpstreamReadTimeout,
		MaxConcurrentRequests: cfg.MaxConcurrentRequests,
	})
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	return srv.Start()
}

