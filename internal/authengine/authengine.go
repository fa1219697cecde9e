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

// Package authengine implements the disjunctive authorisation
// predicate evaluated per request against the current ruleset.Snapshot.
package authengine

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/uktrade/ipfilter-sidecar/internal/ruleset"
)

// Reason identifies why a request was denied. The HTTP response body is
// identical across reasons; Reason is only ever surfaced in logs.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonNoMatchingRule         Reason = "NoMatchingRule"
	ReasonBasicAuthFailed        Reason = "BasicAuthFailed"
	ReasonMalformedXForwardedFor Reason = "MalformedXForwardedFor"
	ReasonMissingSharedToken     Reason = "MissingSharedToken"
)

// reasonPriority governs which reason is logged when more than one
// check fails: BasicAuthFailed > MissingSharedToken >
// MalformedXForwardedFor > NoMatchingRule.
var reasonPriority = map[Reason]int{
	ReasonBasicAuthFailed:        4,
	ReasonMissingSharedToken:     3,
	ReasonMalformedXForwardedFor: 2,
	ReasonNoMatchingRule:         1,
}

// Decision is the outcome of Authorise: either Allow, or Deny carrying
// the highest-priority failure reason.
type Decision struct {
	Allowed bool
	Reason  Reason
	// ClientIP is the address extracted via the XFF index rule, or the
	// zero value if extraction failed. Logged regardless of outcome.
	ClientIP net.IP
}

func allow(ip net.IP) Decision {
	return Decision{Allowed: true, ClientIP: ip}
}

func deny(reason Reason, ip net.IP) Decision {
	return Decision{Allowed: false, Reason: reason, ClientIP: ip}
}

// Engine evaluates the disjunctive IP/basic-auth/shared-token predicate
// against a fixed XFF index and an optional list of additional trusted
// IPs/CIDRs supplied out-of-band of any fetched profile (the
// ADDITIONAL_IP_LIST supplement).
type Engine struct {
	XFFIndex      int
	AdditionalIPs []ruleset.IpRange
}

// New builds an Engine. Each additionalCIDRs entry is a CIDR or a single
// IP (treated as a /32 or /128). Entries that fail to parse are dropped
// with no effect on startup (they're operator-supplied config, not a
// fetched profile, so the fetch/parse error taxonomy applied to
// profiles does not apply; callers should validate these at
// `config check` time instead).
func New(xffIndex int, additionalCIDRs []string) *Engine {
	e := &Engine{XFFIndex: xffIndex}
	for _, cidr := range additionalCIDRs {
		cidr = strings.TrimSpace(cidr)
		if ip := net.ParseIP(cidr); ip != nil {
			if ip.To4() != nil {
				cidr += "/32"
			} else {
				cidr += "/128"
			}
		}
		if r, err := ruleset.ParseIpRange(cidr); err == nil {
			e.AdditionalIPs = append(e.AdditionalIPs, r)
		}
	}
	return e
}

// Authorise implements the evaluation order: IP check, then basic-auth
// check, then shared-token check, short-circuiting on the first Allow
// and otherwise keeping the highest-priority deny reason encountered.
func (e *Engine) Authorise(r *http.Request, snapshot *ruleset.Snapshot) Decision {
	clientIP, xffErr := e.extractClientIP(r.Header.Get("X-Forwarded-For"))

	if xffErr == nil && e.ipAllowed(clientIP, snapshot) {
		return allow(clientIP)
	}

	best := ReasonNoMatchingRule
	if xffErr != nil {
		best = higherPriority(best, ReasonMalformedXForwardedFor)
	}

	path := r.URL.Path
	matchingBasicAuth := snapshot.MatchingBasicAuth(path)
	if len(matchingBasicAuth) > 0 {
		if user, pass, ok := basicAuthCredentials(r); ok && credentialsMatch(user, pass, matchingBasicAuth) {
			return allow(clientIP)
		}
		best = higherPriority(best, ReasonBasicAuthFailed)
	}

	if len(snapshot.SharedToken) > 0 {
		if _, ok := snapshot.MatchingSharedToken(r.Header); ok {
			return allow(clientIP)
		}
		best = higherPriority(best, ReasonMissingSharedToken)
	}

	return deny(best, clientIP)
}

func higherPriority(current, candidate Reason) Reason {
	if reasonPriority[candidate] > reasonPriority[current] {
		return candidate
	}
	return current
}

func (e *Engine) ipAllowed(ip net.IP, snapshot *ruleset.Snapshot) bool {
	if ip == nil {
		return false
	}
	if snapshot.ContainsIP(ip) {
		return true
	}
	for _, r := range e.AdditionalIPs {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

// extractClientIP selects the client IP from a comma-separated
// X-Forwarded-For header using the configured index. Negative indices
// are Python-style: -1 is last, -2 is second-last.
func (e *Engine) extractClientIP(xff string) (net.IP, error) {
	if xff == "" {
		return nil, fmt.Errorf("X-Forwarded-For header missing")
	}

	parts := strings.Split(xff, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	idx := e.XFFIndex
	if idx < 0 {
		idx = len(parts) + idx
	}
	if idx < 0 || idx >= len(parts) {
		return nil, fmt.Errorf("X-Forwarded-For index %d out of range for %d entries", e.XFFIndex, len(parts))
	}

	ip := net.ParseIP(parts[idx])
	if ip == nil {
		return nil, fmt.Errorf("X-Forwarded-For entry %q does not parse as an IP", parts[idx])
	}
	return ip, nil
}

func basicAuthCredentials(r *http.Request) (username, password string, ok bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func credentialsMatch(username, password string, entries []ruleset.BasicAuthEntry) bool {
	for _, e := range entries {
		if e.Username == username && validatePassword(password, e.Password) {
			return true
		}
	}
	return false
}
