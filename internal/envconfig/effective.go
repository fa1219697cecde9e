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

package envconfig

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// EffectiveConfig is the full set of settings EnvConfig derives at
// process start. It is immutable thereafter and none of its settings are
// re-read. The logger still reads LOG_LEVEL and SIDECAR_LOG_FILE from the
// process environment on each call, and profile decoding expands ${VAR}
// references from it.
type EffectiveConfig struct {
	Environment string

	Server      string
	ServerProto string
	Port        int

	LogLevel string

	AppConfigURL      string
	AppConfigProfiles []string

	XFFIndex int

	Email      string
	EmailName  string

	FilterEnabled   bool
	PublicPaths     []string
	ProtectedPaths  []string

	AdditionalIPs []string
	PubHostList   []string
	PrivHostList  []string

	RefreshInterval time.Duration
	RefreshTimeout  time.Duration

	UpstreamConnectTimeout time.Duration
	UpstreamReadTimeout    time.Duration

	MaxConcurrentRequests int

	RedisURL    string
	MetricsAddr string
}

// Resolve builds an EffectiveConfig from the process environment,
// applying every default and per-environment override rule.
func Resolve() (*EffectiveConfig, error) {
	env, err := Load("COPILOT_ENVIRONMENT_NAME")
	if err != nil {
		return nil, err
	}

	server, err := env.Required("SERVER")
	if err != nil {
		return nil, err
	}
	profilesRaw, err := env.Required("APPCONFIG_PROFILES")
	if err != nil {
		return nil, err
	}
	profiles := splitCSV(profilesRaw)
	if len(profiles) == 0 {
		return nil, &ConfigError{Var: "APPCONFIG_PROFILES", Reason: "must list at least one profile"}
	}

	cfg := &EffectiveConfig{
		Environment:       env.Name(),
		Server:            server,
		ServerProto:       env.String("SERVER_PROTO", "http"),
		Port:              env.Int("PORT", 8080),
		LogLevel:          env.String("LOG_LEVEL", "INFO"),
		AppConfigProfiles: profiles,
		XFFIndex:          env.Int("IP_DETERMINED_BY_X_FORWARDED_FOR_INDEX", -2),
		Email:             env.String("EMAIL", ""),
		EmailName:         env.String("EMAIL_NAME", "the platform team"),
		FilterEnabled:     env.Bool("IPFILTER_ENABLED", true),
		PublicPaths:       env.List("PUBLIC_PATHS", []string{}),
		ProtectedPaths:    env.List("PROTECTED_PATHS", []string{}),
		AdditionalIPs:     env.List("ADDITIONAL_IP_LIST", []string{}),
		PubHostList:       env.List("PUB_HOST_LIST", []string{}),
		PrivHostList:      env.List("PRIV_HOST_LIST", []string{}),

		RefreshInterval: durationOrDefault(env.String("REFRESH_INTERVAL", ""), 30*time.Second),
		RefreshTimeout:  durationOrDefault(env.String("REFRESH_TIMEOUT", ""), 5*time.Second),

		UpstreamConnectTimeout: durationOrDefault(env.String("UPSTREAM_CONNECT_TIMEOUT", ""), 10*time.Second),
		UpstreamReadTimeout:    durationOrDefault(env.String("UPSTREAM_READ_TIMEOUT", ""), 30*time.Second),

		MaxConcurrentRequests: env.Int("MAX_CONCURRENT_REQUESTS", 0),

		RedisURL:    env.String("REDIS_URL", ""),
		MetricsAddr: env.String("METRICS_ADDR", ""),
	}

	appConfigURL, err := env.URL("APPCONFIG_URL", "http://localhost:2772")
	if err != nil {
		return nil, &ConfigError{Var: "APPCONFIG_URL", Reason: err.Error()}
	}
	cfg.AppConfigURL = appConfigURL.String()

	if cfg.ServerProto != "http" && cfg.ServerProto != "https" {
		return nil, &ConfigError{Var: "SERVER_PROTO", Reason: fmt.Sprintf("must be http or https, got %q", cfg.ServerProto)}
	}
	if cfg.XFFIndex == 0 {
		return nil, &ConfigError{Var: "IP_DETERMINED_BY_X_FORWARDED_FOR_INDEX", Reason: "must not be 0"}
	}

	return cfg, nil
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationOrDefault(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// ValidateOriginReachable is a cheap sanity check used by `config check`:
// it does not dial the origin, it only confirms SERVER parses as a host[:port].
func (c *EffectiveConfig) ValidateOriginReachable() error {
	if _, _, err := net.SplitHostPort(c.Server); err != nil {
		if !strings.Contains(c.Server, ":") {
			// Bare hostname without a port is valid; SplitHostPort only
			// fails because there's no colon.
			return nil
		}
		return fmt.Errorf("SERVER %q: %w", c.Server, err)
	}
	return nil
}
