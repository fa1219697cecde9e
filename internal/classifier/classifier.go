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

// Package classifier decides, for a given request, whether the
// authorisation engine applies at all.
package classifier

import (
	"strings"
	"sync"

	"github.com/uktrade/ipfilter-sidecar/internal/logger"
)

// Decision is the outcome of classifying a request.
type Decision int

const (
	// Apply means the request must pass through AuthEngine.
	Apply Decision = iota
	// Bypass means the request is forwarded without an authorisation check.
	Bypass
)

func (d Decision) String() string {
	if d == Bypass {
		return "Bypass"
	}
	return "Apply"
}

// Classifier decides whether a request should be exempted from
// authorisation entirely, based on its path and the host-gate
// supplement from the original sidecar's PUB_HOST_LIST/PRIV_HOST_LIST:
// a request may also be exempted based on the Host header.
type Classifier struct {
	Enabled        bool
	PublicPaths    []string
	ProtectedPaths []string
	PubHostList    []string
	PrivHostList   []string

	pathWarnOnce sync.Once
	hostWarnOnce sync.Once
}

// New builds a Classifier from resolved configuration values.
func New(enabled bool, publicPaths, protectedPaths, pubHosts, privHosts []string) *Classifier {
	return &Classifier{
		Enabled:        enabled,
		PublicPaths:    publicPaths,
		ProtectedPaths: protectedPaths,
		PubHostList:    pubHosts,
		PrivHostList:   privHosts,
	}
}

// Classify decides whether rawPath/host should bypass authorisation.
// Path matching is byte-exact prefix matching against the raw
// request-target, never the URL-decoded path, to avoid smuggling via
// percent-encoding.
//
// Authorisation starts required and is independently disabled by any
// one of four rules below, mirroring the original sidecar's single
// ip_filter_enabled_and_required_for_path boolean: each rule can only
// turn a required request into a bypassed one, never the reverse, so
// their order doesn't matter.
func (c *Classifier) Classify(rawPath, host string) Decision {
	if !c.Enabled {
		return Bypass
	}

	publicPaths := c.PublicPaths
	protectedPaths := c.ProtectedPaths
	if len(publicPaths) > 0 && len(protectedPaths) > 0 {
		c.pathWarnOnce.Do(func() {
			logger.Warn("both PUBLIC_PATHS and PROTECTED_PATHS are set; ignoring PROTECTED_PATHS")
		})
		protectedPaths = nil
	}

	privHosts := c.PrivHostList
	pubHosts := c.PubHostList
	if len(privHosts) > 0 && len(pubHosts) > 0 {
		c.hostWarnOnce.Do(func() {
			logger.Warn("both PUB_HOST_LIST and PRIV_HOST_LIST are set; ignoring PRIV_HOST_LIST")
		})
		privHosts = nil
	}

	host = strings.ToLower(host)

	// A configured PROTECTED_PATHS restricts authorisation to listed
	// paths; any other path bypasses.
	if len(protectedPaths) > 0 && !hasPrefixAny(rawPath, protectedPaths) {
		return Bypass
	}
	// A configured PUBLIC_PATHS exempts listed paths.
	if len(publicPaths) > 0 && hasPrefixAny(rawPath, publicPaths) {
		return Bypass
	}
	// A configured PRIV_HOST_LIST restricts authorisation to member
	// hosts; a non-member host bypasses unconditionally.
	if len(privHosts) > 0 && !containsHostFold(privHosts, host) {
		return Bypass
	}
	// A configured PUB_HOST_LIST exempts member hosts, unless the
	// request also falls under a still-active PROTECTED_PATHS rule.
	if len(pubHosts) > 0 && containsHostFold(pubHosts, host) &&
		(len(protectedPaths) == 0 || !hasPrefixAny(rawPath, protectedPaths)) {
		return Bypass
	}

	return Apply
}

func containsHostFold(hosts []string, host string) bool {
	for _, h := range hosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

func hasPrefixAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
