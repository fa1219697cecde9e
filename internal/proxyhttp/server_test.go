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

package proxyhttp

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/uktrade/ipfilter-sidecar/internal/authengine"
	"github.com/uktrade/ipfilter-sidecar/internal/classifier"
	"github.com/uktrade/ipfilter-sidecar/internal/metrics"
	"github.com/uktrade/ipfilter-sidecar/internal/refresher"
	"github.com/uktrade/ipfilter-sidecar/internal/ruleset"
)

type stubSnapshots struct {
	snap  *ruleset.Snapshot
	stats refresher.Stats
}

func (s *stubSnapshots) Current() *ruleset.Snapshot { return s.snap }
func (s *stubSnapshots) Stats() refresher.Stats     { return s.stats }

func newTestServer(t *testing.T, origin *httptest.Server, snap *ruleset.Snapshot, enabled bool, maxConcurrent int) *Server {
	t.Helper()
	snapshots := &stubSnapshots{snap: snap, stats: refresher.Stats{LastSuccess: time.Now()}}
	cl := classifier.New(enabled, nil, nil, nil, nil)
	engine := authengine.New(-2, nil)
	denial := NewDenialRenderer("ops@example.com", "ops team")
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())

	srv, err := NewServer("127.0.0.1:0", "http", origin.Listener.Addr().String(), Server{
		Classifier:            cl,
		Engine:                engine,
		Snapshots:             snapshots,
		Denial:                denial,
		Metrics:               m,
		ConnectTimeout:        time.Second,
		ReadTimeout:           time.Second,
		MaxConcurrentRequests: maxConcurrent,
	})
	if err != nil {
		t.Fatalf("unexpected error building server: %v", err)
	}
	return srv
}

func TestHealthzReturns503BeforeFirstSuccess(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer origin.Close()

	srv := newTestServer(t, origin, ruleset.Empty(), true, 0)
	srv.Snapshots.(*stubSnapshots).stats = refresher.Stats{}

	rec := httptest.NewRecorder()
	srv.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHealthzReturns200AfterSuccess(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer origin.Close()

	srv := newTestServer(t, origin, ruleset.Empty(), true, 0)

	rec := httptest.NewRecorder()
	srv.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthorisingHandlerDeniesWithoutReachingOrigin(t *testing.T) {
	reached := false
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))
	defer origin.Close()

	snap := ruleset.Empty()
	srv := newTestServer(t, origin, snap, true, 0)

	handler := srv.authorisingHandler(newReverseProxy(originURL("http", origin.Listener.Addr().String()), time.Second, time.Second))

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if reached {
		t.Fatal("expected the origin never to be dialed for a denied request")
	}
}

func TestAuthorisingHandlerBypassesWhenClassifierDisabled(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("upstream ok"))
	}))
	defer origin.Close()

	snap := ruleset.Empty()
	srv := newTestServer(t, origin, snap, false, 0)

	handler := srv.authorisingHandler(newReverseProxy(originURL("http", origin.Listener.Addr().String()), time.Second, time.Second))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from bypassed+forwarded request, got %d", rec.Code)
	}
	if rec.Body.String() != "upstream ok" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestAuthorisingHandlerAllowsViaIPRange(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("upstream ok"))
	}))
	defer origin.Close()

	ipRange, err := ruleset.ParseIpRange("10.0.0.0/8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := ruleset.Merge([]ruleset.RuleFragment{{IpRanges: []ruleset.IpRange{ipRange}}}, 1)
	srv := newTestServer(t, origin, snap, true, 0)

	handler := srv.authorisingHandler(newReverseProxy(originURL("http", origin.Listener.Addr().String()), time.Second, time.Second))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.1.2.3, 127.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
