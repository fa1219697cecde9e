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

// Package refresher keeps the published ruleset.Snapshot up to date. It
// performs a synchronous initial load at start-up and then re-fetches on
// a cron schedule, publishing a new Snapshot only when at least one
// profile fetch succeeds.
package refresher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/uktrade/ipfilter-sidecar/internal/logger"
	"github.com/uktrade/ipfilter-sidecar/internal/ruleset"
)

// Fetcher retrieves and decodes a single named profile. profile.Fetcher
// satisfies this.
type Fetcher interface {
	Fetch(profileName string) (ruleset.RuleFragment, error)
}

// MetricsRecorder receives refresh-cycle outcomes. metrics.Metrics
// satisfies this; kept as an interface here so this package doesn't
// import metrics.
type MetricsRecorder interface {
	ObserveRefresh(outcome string, version uint64)
}

// Stats summarises the most recent refresh cycle, surfaced on /healthz.
type Stats struct {
	LastAttempt time.Time
	LastSuccess time.Time
	LastError   string
	Succeeded   int
	Failed      int
	CycleCount  uint64
}

// Refresher owns the currently-published Snapshot and periodically
// replaces it. The zero value is not usable; construct with New.
type Refresher struct {
	fetcher  Fetcher
	profiles []string
	interval time.Duration
	timeout  time.Duration

	snapshot atomic.Pointer[ruleset.Snapshot]
	stats    atomic.Pointer[Stats]
	version  atomic.Uint64

	redis   *redisSeed
	metrics MetricsRecorder

	cron *cron.Cron
}

// SetMetrics attaches a MetricsRecorder. Optional; nil-safe if never
// called.
func (r *Refresher) SetMetrics(m MetricsRecorder) {
	r.metrics = m
}

// New constructs a Refresher. redisURL may be empty, disabling the
// best-effort Redis mirror entirely.
func New(fetcher Fetcher, profiles []string, interval, timeout time.Duration, redisURL string) *Refresher {
	r := &Refresher{
		fetcher:  fetcher,
		profiles: profiles,
		interval: interval,
		timeout:  timeout,
	}
	r.snapshot.Store(ruleset.Empty())
	r.stats.Store(&Stats{})
	if redisURL != "" {
		r.redis = newRedisSeed(redisURL)
	}
	return r
}

// Current returns the currently-published Snapshot. Safe for concurrent
// use; callers should load it once per request and reuse the reference.
func (r *Refresher) Current() *ruleset.Snapshot {
	return r.snapshot.Load()
}

// Stats returns a copy of the most recent refresh-cycle statistics.
func (r *Refresher) Stats() Stats {
	if s := r.stats.Load(); s != nil {
		return *s
	}
	return Stats{}
}

// Start performs the mandatory synchronous initial refresh and then
// schedules periodic refreshes via cron at r.interval. It returns an
// error only if the initial refresh produced zero usable profiles and
// no Redis seed could take its place — the caller should treat that as
// fatal.
func (r *Refresher) Start(ctx context.Context) error {
	if err := r.initial(ctx); err != nil {
		return err
	}

	r.cron = cron.New()
	spec := fmt.Sprintf("@every %s", r.interval)
	if _, err := r.cron.AddFunc(spec, func() {
		r.refreshCycle(ctx)
	}); err != nil {
		return fmt.Errorf("invalid refresh interval %s: %w", r.interval, err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the periodic schedule. It does not block on an in-flight
// cycle finishing.
func (r *Refresher) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

func (r *Refresher) initial(ctx context.Context) error {
	fragments, failed := r.fetchAll(ctx)
	r.recordStats(len(fragments), failed)

	if len(fragments) > 0 {
		r.publish(fragments)
		r.observeOutcome(failed)
		return nil
	}

	if r.redis != nil {
		if snap, err := r.redis.load(ctx); err == nil && snap != nil {
			logger.Warn("initial refresh produced no usable profiles, seeding from Redis", "version", snap.Version)
			r.snapshot.Store(snap)
			r.version.Store(snap.Version)
			if r.metrics != nil {
				r.metrics.ObserveRefresh("seeded", snap.Version)
			}
			return nil
		}
	}

	if r.metrics != nil {
		r.metrics.ObserveRefresh("failure", r.snapshot.Load().Version)
	}
	return fmt.Errorf("initial refresh failed for all %d configured profiles", len(r.profiles))
}

func (r *Refresher) refreshCycle(ctx context.Context) {
	fragments, failed := r.fetchAll(ctx)
	r.recordStats(len(fragments), failed)

	if len(fragments) == 0 {
		logger.Warn("refresh cycle produced no usable profiles, retaining prior snapshot",
			"version", r.snapshot.Load().Version)
		if r.metrics != nil {
			r.metrics.ObserveRefresh("failure", r.snapshot.Load().Version)
		}
		return
	}
	r.publish(fragments)
	r.observeOutcome(failed)
}

func (r *Refresher) observeOutcome(failed int) {
	if r.metrics == nil {
		return
	}
	outcome := "success"
	if failed > 0 {
		outcome = "partial"
	}
	r.metrics.ObserveRefresh(outcome, r.snapshot.Load().Version)
}

func (r *Refresher) fetchAll(ctx context.Context) ([]ruleset.RuleFragment, int) {
	var fragments []ruleset.RuleFragment
	failed := 0

	for _, name := range r.profiles {
		fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
		frag, err := fetchWithTimeout(fetchCtx, r.fetcher, name)
		cancel()
		if err != nil {
			logger.Warn("profile fetch failed", "profile", name, "error", err)
			failed++
			continue
		}
		fragments = append(fragments, frag)
	}
	return fragments, failed
}

// fetchWithTimeout races the fetch against the context deadline. The
// underlying Fetcher does not take a context (it's a plain HTTP GET with
// its own client timeout), so a timed-out fetch is reported as a
// failure for that profile without cancelling the in-flight request.
func fetchWithTimeout(ctx context.Context, f Fetcher, name string) (ruleset.RuleFragment, error) {
	type result struct {
		frag ruleset.RuleFragment
		err  error
	}
	done := make(chan result, 1)
	go func() {
		frag, err := f.Fetch(name)
		done <- result{frag, err}
	}()

	select {
	case <-ctx.Done():
		return ruleset.RuleFragment{}, fmt.Errorf("profile %q: %w", name, ctx.Err())
	case res := <-done:
		return res.frag, res.err
	}
}

func (r *Refresher) publish(fragments []ruleset.RuleFragment) {
	next := r.version.Add(1)
	snap := ruleset.Merge(fragments, next)
	r.snapshot.Store(snap)
	logger.Debug("snapshot published", "version", snap.Version, "ip_ranges", len(snap.IpRanges),
		"basic_auth", len(snap.BasicAuth), "shared_tokens", len(snap.SharedToken))

	if r.redis != nil {
		r.redis.save(context.Background(), snap)
	}
}

func (r *Refresher) recordStats(succeeded, failed int) {
	prev := r.stats.Load()
	s := &Stats{
		LastAttempt: timeNow(),
		Succeeded:   succeeded,
		Failed:      failed,
		CycleCount:  prev.CycleCount + 1,
		LastSuccess: prev.LastSuccess,
	}
	if succeeded > 0 {
		s.LastSuccess = s.LastAttempt
	}
	if failed > 0 && succeeded == 0 {
		s.LastError = fmt.Sprintf("%d of %d profile fetches failed", failed, failed+succeeded)
	}
	r.stats.Store(s)
}

// timeNow is a thin indirection so tests can observe that a timestamp
// was set without depending on wall-clock values.
func timeNow() time.Time {
	return timeSource()
}

var timeSource = time.Now

// redisSeed mirrors the currently-published snapshot into Redis on
// every successful publish, and can seed a brand-new replica's first
// refresh if every profile fetch fails on cold start. It is strictly
// best-effort: any Redis error is logged and otherwise ignored.
type redisSeed struct {
	client *redis.Client
	key    string
}

const redisSeedKey = "ipfilter-sidecar:snapshot"

func newRedisSeed(redisURL string) *redisSeed {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL, disabling snapshot seeding", "error", err)
		return nil
	}
	return &redisSeed{client: redis.NewClient(opts), key: redisSeedKey}
}

type wireSnapshot struct {
	IpRanges    []string                   `json:"ip_ranges"`
	BasicAuth   []ruleset.BasicAuthEntry   `json:"basic_auth"`
	SharedToken []ruleset.SharedTokenEntry `json:"shared_tokens"`
	Version     uint64                     `json:"version"`
}

func (s *redisSeed) save(ctx context.Context, snap *ruleset.Snapshot) {
	if s == nil {
		return
	}
	cidrs := make([]string, 0, len(snap.IpRanges))
	for _, r := range snap.IpRanges {
		cidrs = append(cidrs, r.CIDR)
	}
	wire := wireSnapshot{
		IpRanges:    cidrs,
		BasicAuth:   snap.BasicAuth,
		SharedToken: snap.SharedToken,
		Version:     snap.Version,
	}
	data, err := json.Marshal(wire)
	if err != nil {
		logger.Error("failed to marshal snapshot for Redis seed", "error", err)
		return
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		logger.Warn("failed to mirror snapshot to Redis", "error", err)
	}
}

func (s *redisSeed) load(ctx context.Context) (*ruleset.Snapshot, error) {
	if s == nil {
		return nil, fmt.Errorf("redis seeding disabled")
	}
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		return nil, err
	}
	var wire wireSnapshot
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}

	snap := &ruleset.Snapshot{
		BasicAuth:   wire.BasicAuth,
		SharedToken: wire.SharedToken,
		Version:     wire.Version,
	}
	for _, cidr := range wire.IpRanges {
		if r, err := ruleset.ParseIpRange(cidr); err == nil {
			snap.IpRanges = append(snap.IpRanges, r)
		}
	}
	return snap, nil
}
