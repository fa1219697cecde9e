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
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uktrade/ipfilter-sidecar/internal/authengine"
	"github.com/uktrade/ipfilter-sidecar/internal/classifier"
	"github.com/uktrade/ipfilter-sidecar/internal/logger"
	"github.com/uktrade/ipfilter-sidecar/internal/metrics"
	"github.com/uktrade/ipfilter-sidecar/internal/refresher"
	"github.com/uktrade/ipfilter-sidecar/internal/ruleset"
)

// SnapshotSource is the minimal Refresher surface the server needs.
type SnapshotSource interface {
	Current() *ruleset.Snapshot
	Stats() refresher.Stats
}

// Server is the sidecar's own HTTP listener: health, metrics, and the
// authorising proxy catch-all.
type Server struct {
	Addr                  string
	Classifier            *classifier.Classifier
	Engine                *authengine.Engine
	Snapshots             SnapshotSource
	Denial                *DenialRenderer
	Metrics               *metrics.Metrics
	MetricsAddr           string
	ConnectTimeout        time.Duration
	ReadTimeout           time.Duration
	MaxConcurrentRequests int

	httpServer *http.Server
	metricsSrv *http.Server
	// inflight bounds concurrent origin dispatches when
	// MaxConcurrentRequests > 0, so a slow or hung origin can't exhaust
	// file descriptors. nil means unbounded.
	inflight chan struct{}
}

// NewServer wires the router: a catch-all authorising reverse proxy,
// plus /healthz and (on its own listener, if MetricsAddr is set)
// /metrics.
func NewServer(addr, serverProto, serverHost string, cfg Server) (*Server, error) {
	s := cfg
	s.Addr = addr
	if s.MaxConcurrentRequests > 0 {
		s.inflight = make(chan struct{}, s.MaxConcurrentRequests)
	}

	origin := originURL(serverProto, serverHost)
	reverseProxy := newReverseProxy(origin, s.ConnectTimeout, s.ReadTimeout)

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealthz)
	if s.MetricsAddr == "" {
		router.Handle("/metrics", promhttp.Handler())
	}
	router.PathPrefix("/").Handler(s.authorisingHandler(reverseProxy))

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}

	if s.MetricsAddr != "" {
		metricsRouter := mux.NewRouter()
		metricsRouter.Handle("/metrics", promhttp.Handler())
		s.metricsSrv = &http.Server{Addr: s.MetricsAddr, Handler: metricsRouter}
	}

	return &s, nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.Snapshots.Stats()
	if stats.LastSuccess.IsZero() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "no successful refresh yet")
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "ok snapshot_version=%d last_success=%s\n",
		s.Snapshots.Current().Version, stats.LastSuccess.Format(time.RFC3339))
}

func (s *Server) authorisingHandler(proxy http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, cancel := context.WithCancel(r.Context())
		r = r.WithContext(ctx)
		defer cancel()

		decision := authengine.Decision{Allowed: true}
		bypassed := false
		snap := s.Snapshots.Current()

		classification := s.Classifier.Classify(r.URL.EscapedPath(), r.Host)
		if classification == classifier.Bypass {
			bypassed = true
		} else {
			decision = s.Engine.Authorise(r, snap)
		}

		rec := &countingResponseWriter{ResponseWriter: w}

		if !bypassed && !decision.Allowed {
			s.Metrics.ObserveDecision("deny", string(decision.Reason))
			s.Denial.Render(rec)
			logAccess(r, decision, bypassed, rec.status, rec.written, time.Since(start), snap.Version, false)
			s.Metrics.ObserveRequest(r.Method, "deny", time.Since(start))
			return
		}

		if !bypassed {
			s.Metrics.ObserveDecision("allow", "")
		}

		if s.inflight != nil {
			s.inflight <- struct{}{}
			defer func() { <-s.inflight }()
		}
		proxy.ServeHTTP(rec, r)

		clientAbort := errors.Is(r.Context().Err(), context.Canceled)
		outcome := "allow"
		if bypassed {
			outcome = "bypass"
		}
		logAccess(r, decision, bypassed, rec.status, rec.written, time.Since(start), snap.Version, clientAbort)
		s.Metrics.ObserveRequest(r.Method, outcome, time.Since(start))
		s.Metrics.ObserveUpstreamStatus(rec.status)
	})
}

// Start begins serving. It blocks until the process receives SIGINT or
// SIGTERM, then performs a graceful shutdown.
func (s *Server) Start() error {
	errs := make(chan error, 2)

	go func() {
		logger.Info("starting sidecar HTTP server", "addr", s.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("sidecar HTTP server: %w", err)
		}
	}()

	if s.metricsSrv != nil {
		go func() {
			logger.Info("starting metrics server", "addr", s.metricsSrv.Addr)
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		return err
	case <-quit:
		logger.Info("shutting down ipfilter-sidecar...")
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Error("error shutting down sidecar HTTP server", "error", err)
	}
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Shutdown(ctx); err != nil {
			logger.Error("error shutting down metrics server", "error", err)
		}
	}
	logger.Info("ipfilter-sidecar stopped")
	return nil
}
