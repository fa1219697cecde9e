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

// Package ruleset holds the in-memory authorisation rules: merged IP
// ranges, basic-auth entries and shared-token entries. A Snapshot is
// immutable once built; the refresher swaps snapshots atomically so that
// request handlers never see a torn mix of two versions.
package ruleset

import (
	"fmt"
	"net"
	"strings"

	"github.com/uktrade/ipfilter-sidecar/internal/logger"
)

// IpRange is a parsed CIDR block, IPv4 or IPv6.
type IpRange struct {
	CIDR string
	net  *net.IPNet
}

// ParseIpRange parses a textual CIDR. Malformed input is reported to the
// caller, which is expected to drop the entry and log a warning rather
// than fail the whole merge.
func ParseIpRange(cidr string) (IpRange, error) {
	_, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
	if err != nil {
		return IpRange{}, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
	}
	return IpRange{CIDR: network.String(), net: network}, nil
}

// Contains reports whether ip falls inside the range.
func (r IpRange) Contains(ip net.IP) bool {
	return r.net != nil && r.net.Contains(ip)
}

// BasicAuthEntry is a path-scoped HTTP Basic credential.
type BasicAuthEntry struct {
	PathPrefix string
	Username   string
	Password   string
}

// Matches reports whether the entry's path prefix covers the request path.
// "/" matches all paths.
func (e BasicAuthEntry) Matches(path string) bool {
	if e.PathPrefix == "" || e.PathPrefix == "/" {
		return true
	}
	return strings.HasPrefix(path, e.PathPrefix)
}

// SharedTokenEntry is a header name (matched case-insensitively) and the
// shared secret value it must carry.
type SharedTokenEntry struct {
	HeaderName string
	Value      string
}

// RuleFragment is the decoded content of a single fetched profile, before
// merging. It carries no version: fragments are ephemeral inputs to Merge.
type RuleFragment struct {
	IpRanges    []IpRange
	BasicAuth   []BasicAuthEntry
	SharedToken []SharedTokenEntry
}

// Snapshot is the immutable, published authorisation rule set. Once
// returned by Merge it must never be mutated; a refresh produces a new
// Snapshot and the Refresher swaps it in atomically.
type Snapshot struct {
	IpRanges    []IpRange
	BasicAuth   []BasicAuthEntry
	SharedToken []SharedTokenEntry
	Version     uint64
}

// Empty returns a zero-rule Snapshot at version 0, used before the very
// first successful refresh and in tests.
func Empty() *Snapshot {
	return &Snapshot{Version: 0}
}

// Merge unions IpRanges (by CIDR string, duplicates collapsed) and
// concatenates BasicAuth/SharedToken preserving encounter order across
// fragments in encounter order. version is the version number assigned
// to the resulting Snapshot.
func Merge(fragments []RuleFragment, version uint64) *Snapshot {
	seen := make(map[string]struct{})
	var ranges []IpRange
	var basicAuth []BasicAuthEntry
	var sharedTokens []SharedTokenEntry

	for _, f := range fragments {
		for _, r := range f.IpRanges {
			if _, ok := seen[r.CIDR]; ok {
				continue
			}
			seen[r.CIDR] = struct{}{}
			ranges = append(ranges, r)
		}
		basicAuth = append(basicAuth, f.BasicAuth...)
		sharedTokens = append(sharedTokens, f.SharedToken...)
	}

	return &Snapshot{
		IpRanges:    ranges,
		BasicAuth:   basicAuth,
		SharedToken: sharedTokens,
		Version:     version,
	}
}

// MatchingBasicAuth returns every BasicAuthEntry whose path prefix covers
// path, in encounter order.
func (s *Snapshot) MatchingBasicAuth(path string) []BasicAuthEntry {
	if s == nil {
		return nil
	}
	var out []BasicAuthEntry
	for _, e := range s.BasicAuth {
		if e.Matches(path) {
			out = append(out, e)
		}
	}
	return out
}

// ContainsIP reports whether ip lies within any range of the Snapshot.
func (s *Snapshot) ContainsIP(ip net.IP) bool {
	if s == nil || ip == nil {
		return false
	}
	for _, r := range s.IpRanges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

// MatchingSharedToken returns the SharedTokenEntry whose header name
// matches (case-insensitively) and whose value equals the supplied
// header value, or false if none match.
func (s *Snapshot) MatchingSharedToken(headers map[string][]string) (SharedTokenEntry, bool) {
	if s == nil {
		return SharedTokenEntry{}, false
	}
	for _, entry := range s.SharedToken {
		values, ok := lookupHeaderCaseInsensitive(headers, entry.HeaderName)
		if !ok {
			continue
		}
		for _, v := range values {
			if v == entry.Value {
				return entry, true
			}
		}
	}
	return SharedTokenEntry{}, false
}

func lookupHeaderCaseInsensitive(headers map[string][]string, name string) ([]string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// Summary renders a short diagnostic description of the snapshot.
func (s *Snapshot) Summary() string {
	if s == nil {
		return "snapshot=<nil>"
	}
	return fmt.Sprintf("version=%d ip_ranges=%d basic_auth=%d shared_tokens=%d",
		s.Version, len(s.IpRanges), len(s.BasicAuth), len(s.SharedToken))
}

// LogDroppedCIDR is a small helper shared by the profile parser so the
// warning format is consistent wherever a malformed entry is dropped.
func LogDroppedCIDR(profile string, index int, cidr string, err error) {
	logger.Warn("dropping malformed IP range", "profile", profile, "index", index, "cidr", cidr, "error", err)
}
