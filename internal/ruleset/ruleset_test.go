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

package ruleset

import (
	"net"
	"testing"
)

func TestParseIpRangeRejectsMalformedCIDR(t *testing.T) {
	if _, err := ParseIpRange("not-a-cidr"); err == nil {
		t.Fatal("expected an error for a malformed CIDR")
	}
}

func TestParseIpRangeNormalisesToNetworkAddress(t *testing.T) {
	r, err := ParseIpRange("10.1.2.3/8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.CIDR != "10.0.0.0/8" {
		t.Fatalf("expected host bits masked off, got %q", r.CIDR)
	}
}

func TestIpRangeContains(t *testing.T) {
	r, err := ParseIpRange("192.168.0.0/16")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Contains(net.ParseIP("192.168.1.1")) {
		t.Error("expected 192.168.1.1 to be inside 192.168.0.0/16")
	}
	if r.Contains(net.ParseIP("10.0.0.1")) {
		t.Error("expected 10.0.0.1 to be outside 192.168.0.0/16")
	}
}

func TestBasicAuthEntryMatchesRootPrefix(t *testing.T) {
	e := BasicAuthEntry{PathPrefix: "/"}
	if !e.Matches("/anything/at/all") {
		t.Error("expected \"/\" prefix to match every path")
	}
}

func TestBasicAuthEntryMatchesScopedPrefix(t *testing.T) {
	e := BasicAuthEntry{PathPrefix: "/admin"}
	if !e.Matches("/admin/users") {
		t.Error("expected /admin prefix to match /admin/users")
	}
	if e.Matches("/public") {
		t.Error("expected /admin prefix not to match /public")
	}
}

func TestMergeDedupesIpRangesAcrossFragments(t *testing.T) {
	r1, _ := ParseIpRange("10.0.0.0/8")
	r2, _ := ParseIpRange("10.0.0.0/8")
	r3, _ := ParseIpRange("192.168.0.0/16")

	snap := Merge([]RuleFragment{
		{IpRanges: []IpRange{r1}},
		{IpRanges: []IpRange{r2, r3}},
	}, 3)

	if len(snap.IpRanges) != 2 {
		t.Fatalf("expected duplicate CIDR to collapse, got %d ranges", len(snap.IpRanges))
	}
	if snap.Version != 3 {
		t.Fatalf("expected version 3, got %d", snap.Version)
	}
}

func TestMergePreservesEncounterOrderForBasicAuthAndSharedToken(t *testing.T) {
	snap := Merge([]RuleFragment{
		{
			BasicAuth:   []BasicAuthEntry{{PathPrefix: "/a"}},
			SharedToken: []SharedTokenEntry{{HeaderName: "X-First"}},
		},
		{
			BasicAuth:   []BasicAuthEntry{{PathPrefix: "/b"}},
			SharedToken: []SharedTokenEntry{{HeaderName: "X-Second"}},
		},
	}, 1)

	if len(snap.BasicAuth) != 2 || snap.BasicAuth[0].PathPrefix != "/a" || snap.BasicAuth[1].PathPrefix != "/b" {
		t.Fatalf("expected basic auth entries in encounter order, got %+v", snap.BasicAuth)
	}
	if len(snap.SharedToken) != 2 || snap.SharedToken[0].HeaderName != "X-First" {
		t.Fatalf("expected shared token entries in encounter order, got %+v", snap.SharedToken)
	}
}

func TestSnapshotMatchingBasicAuthFiltersByPath(t *testing.T) {
	snap := Merge([]RuleFragment{{
		BasicAuth: []BasicAuthEntry{
			{PathPrefix: "/admin", Username: "admin"},
			{PathPrefix: "/reports", Username: "reports"},
		},
	}}, 1)

	got := snap.MatchingBasicAuth("/admin/panel")
	if len(got) != 1 || got[0].Username != "admin" {
		t.Fatalf("expected only the /admin entry to match, got %+v", got)
	}
}

func TestSnapshotContainsIPAcrossMultipleRanges(t *testing.T) {
	r1, _ := ParseIpRange("10.0.0.0/8")
	r2, _ := ParseIpRange("172.16.0.0/12")
	snap := Merge([]RuleFragment{{IpRanges: []IpRange{r1, r2}}}, 1)

	if !snap.ContainsIP(net.ParseIP("172.16.5.5")) {
		t.Error("expected IP within the second range to match")
	}
	if snap.ContainsIP(net.ParseIP("8.8.8.8")) {
		t.Error("expected an unrelated IP not to match")
	}
}

func TestSnapshotContainsIPOnNilSnapshotIsFalse(t *testing.T) {
	var snap *Snapshot
	if snap.ContainsIP(net.ParseIP("10.0.0.1")) {
		t.Error("expected a nil snapshot to contain no IPs")
	}
}

func TestSnapshotMatchingSharedTokenIsCaseInsensitiveOnHeaderName(t *testing.T) {
	snap := Merge([]RuleFragment{{
		SharedToken: []SharedTokenEntry{{HeaderName: "X-Shared-Secret", Value: "s3cret"}},
	}}, 1)

	headers := map[string][]string{"x-shared-secret": {"s3cret"}}
	entry, ok := snap.MatchingSharedToken(headers)
	if !ok {
		t.Fatal("expected a case-insensitive header match")
	}
	if entry.Value != "s3cret" {
		t.Fatalf("unexpected matched entry: %+v", entry)
	}
}

func TestSnapshotMatchingSharedTokenRejectsWrongValue(t *testing.T) {
	snap := Merge([]RuleFragment{{
		SharedToken: []SharedTokenEntry{{HeaderName: "X-Shared-Secret", Value: "s3cret"}},
	}}, 1)

	headers := map[string][]string{"X-Shared-Secret": {"wrong"}}
	if _, ok := snap.MatchingSharedToken(headers); ok {
		t.Error("expected a mismatched token value to fail")
	}
}

func TestEmptySnapshotHasZeroVersionAndNoRules(t *testing.T) {
	snap := Empty()
	if snap.Version != 0 {
		t.Fatalf("expected version 0, got %d", snap.Version)
	}
	if len(snap.IpRanges) != 0 || len(snap.BasicAuth) != 0 || len(snap.SharedToken) != 0 {
		t.Fatal("expected no rules in an empty snapshot")
	}
}

func TestSummaryReportsCountsAndVersion(t *testing.T) {
	r, _ := ParseIpRange("10.0.0.0/8")
	snap := Merge([]RuleFragment{{
		IpRanges:    []IpRange{r},
		BasicAuth:   []BasicAuthEntry{{PathPrefix: "/"}},
		SharedToken: []SharedTokenEntry{{HeaderName: "X-Token"}},
	}}, 5)

	got := snap.Summary()
	want := "version=5 ip_ranges=1 basic_auth=1 shared_tokens=1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSummaryOnNilSnapshot(t *testing.T) {
	var snap *Snapshot
	if got := snap.Summary(); got != "snapshot=<nil>" {
		t.Fatalf("got %q, want snapshot=<nil>", got)
	}
}
