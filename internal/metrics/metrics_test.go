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

package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequestIncrementsCountersAndHistogram(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.ObserveRequest("GET", "allow", 10*time.Millisecond)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET")); got != 1 {
		t.Fatalf("expected RequestsTotal=1, got %v", got)
	}
	if got := testutil.CollectAndCount(m.RequestDuration); got != 1 {
		t.Fatalf("expected one RequestDuration series, got %d", got)
	}
}

func TestObserveDecisionLabelsOutcomeAndReason(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.ObserveDecision("deny", "NoMatchingRule")

	if got := testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("deny", "NoMatchingRule")); got != 1 {
		t.Fatalf("expected DecisionsTotal=1, got %v", got)
	}
}

func TestObserveRefreshSetsSnapshotVersionGauge(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.ObserveRefresh("success", 7)

	if got := testutil.ToFloat64(m.SnapshotVersion); got != 7 {
		t.Fatalf("expected SnapshotVersion=7, got %v", got)
	}
	if got := testutil.ToFloat64(m.RefreshTotal.WithLabelValues("success")); got != 1 {
		t.Fatalf("expected RefreshTotal{success}=1, got %v", got)
	}
}

func TestStatusClassGroupsByHundreds(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		301: "3xx",
		404: "4xx",
		500: "5xx",
		http.StatusBadGateway:     "502",
		http.StatusGatewayTimeout: "504",
	}
	for status, want := range cases {
		if got := statusClass(status); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestObserveUpstreamStatusUsesStatusClass(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.ObserveUpstreamStatus(503)

	if got := testutil.ToFloat64(m.UpstreamStatus.WithLabelValues("5xx")); got != 1 {
		t.Fatalf("expected UpstreamStatus{5xx}=1, got %v", got)
	}
}
