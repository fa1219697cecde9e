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

package classifier

import "testing"

func TestDefaultIsApply(t *testing.T) {
	c := New(true, nil, nil, nil, nil)
	if got := c.Classify("/", "example.com"); got != Apply {
		t.Fatalf("expected Apply, got %v", got)
	}
}

func TestDisabledIsAlwaysBypass(t *testing.T) {
	c := New(false, []string{"/x"}, nil, nil, nil)
	if got := c.Classify("/protected", "example.com"); got != Bypass {
		t.Fatalf("expected Bypass when disabled, got %v", got)
	}
}

func TestPublicPathsBypassOnMatch(t *testing.T) {
	c := New(true, []string{"/healthcheck"}, nil, nil, nil)
	if got := c.Classify("/healthcheck", ""); got != Bypass {
		t.Fatalf("expected Bypass, got %v", got)
	}
	if got := c.Classify("/other", ""); got != Apply {
		t.Fatalf("expected Apply, got %v", got)
	}
}

func TestProtectedPathsApplyOnMatch(t *testing.T) {
	c := New(true, nil, []string{"/admin"}, nil, nil)
	if got := c.Classify("/admin/users", ""); got != Apply {
		t.Fatalf("expected Apply, got %v", got)
	}
	if got := c.Classify("/public", ""); got != Bypass {
		t.Fatalf("expected Bypass, got %v", got)
	}
}

func TestBothListsSetIgnoresProtected(t *testing.T) {
	c := New(true, []string{"/healthcheck"}, []string{"/admin"}, nil, nil)
	if got := c.Classify("/admin/users", ""); got != Apply {
		t.Fatalf("expected Apply since PROTECTED_PATHS is ignored and path isn't public, got %v", got)
	}
	if got := c.Classify("/healthcheck", ""); got != Bypass {
		t.Fatalf("expected Bypass, got %v", got)
	}
}

func TestPrivHostListBypassesNonMemberHost(t *testing.T) {
	c := New(true, nil, nil, nil, []string{"internal.example.com"})
	if got := c.Classify("/anything", "elsewhere.example.com"); got != Bypass {
		t.Fatalf("expected Bypass for a host not in PRIV_HOST_LIST, got %v", got)
	}
}

func TestPrivHostListAppliesToMemberHost(t *testing.T) {
	c := New(true, nil, nil, nil, []string{"internal.example.com"})
	if got := c.Classify("/anything", "internal.example.com"); got != Apply {
		t.Fatalf("expected Apply for a host in PRIV_HOST_LIST, got %v", got)
	}
}

func TestPrivHostListAndPublicPathStillBypassesOnPublicPath(t *testing.T) {
	c := New(true, []string{"/healthcheck"}, nil, nil, []string{"internal.example.com"})
	if got := c.Classify("/healthcheck", "internal.example.com"); got != Bypass {
		t.Fatalf("expected Bypass: the PUBLIC_PATHS rule disables independently of PRIV_HOST_LIST membership, got %v", got)
	}
}

func TestPubHostListBypassesMemberHostWithoutProtectedPaths(t *testing.T) {
	c := New(true, nil, nil, []string{"public.example.com"}, nil)
	if got := c.Classify("/anything", "public.example.com"); got != Bypass {
		t.Fatalf("expected Bypass for a host in PUB_HOST_LIST with no PROTECTED_PATHS, got %v", got)
	}
}

func TestPubHostListAndProtectedPathStillAppliesOnProtectedPath(t *testing.T) {
	c := New(true, nil, []string{"/admin"}, []string{"public.example.com"}, nil)
	if got := c.Classify("/admin", "public.example.com"); got != Apply {
		t.Fatalf("expected Apply: PUB_HOST_LIST does not exempt a path still covered by PROTECTED_PATHS, got %v", got)
	}
	if got := c.Classify("/other", "public.example.com"); got != Bypass {
		t.Fatalf("expected Bypass for a public host on a path outside PROTECTED_PATHS, got %v", got)
	}
}

func TestBothHostListsSetIgnoresPrivHostList(t *testing.T) {
	c := New(true, nil, nil, []string{"shared.example.com"}, []string{"shared.example.com"})
	if got := c.Classify("/anything", "shared.example.com"); got != Bypass {
		t.Fatalf("expected Bypass: PUB_HOST_LIST wins when both lists share a host, got %v", got)
	}
}
