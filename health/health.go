// Copyright 2026 The Gpd-Runtime Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package health wraps the single-shot probe in a periodic liveness
// monitor.  After a configurable number of consecutive transport
// failures it injects a reload command into the control plane, which
// replaces the pool with a fresh generation without dropping
// connections.
package health

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	gpd "github.com/aschulz-kairox/git-push-deploy-daemon"
	"github.com/aschulz-kairox/git-push-deploy-daemon/probe"
)

const (
	DefaultInterval  = 10 * time.Second
	DefaultThreshold = 3
)

// Monitor periodically probes a liveness URL.
type Monitor struct {
	url       string
	interval  time.Duration
	threshold int
	sink      gpd.CommandSink
	log       zerolog.Logger

	failures int
}

// NewMonitor builds a monitor for url.  Non-positive interval or
// threshold fall back to the defaults.
func NewMonitor(url string, interval time.Duration, threshold int,
	sink gpd.CommandSink, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Monitor{
		url:       url,
		interval:  interval,
		threshold: threshold,
		sink:      sink,
		log:       log,
	}
}

// Run probes until ctx is done.  Any HTTP-level response counts as
// alive and resets the failure streak; threshold consecutive transport
// failures trigger one reload and reset the streak so a still-broken
// pool is retried after another full streak.
func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.check()
		}
	}
}

func (m *Monitor) check() {
	r := probe.Do(m.url, m.interval)
	if r.Reachable() {
		if m.failures > 0 {
			m.log.Info().Int("failures", m.failures).
				Msg("Health restored")
		}
		m.failures = 0
		return
	}
	m.failures++
	m.log.Warn().Err(r.Err).Int("failures", m.failures).
		Int("threshold", m.threshold).Msg("Health probe failed")
	if m.failures >= m.threshold {
		m.log.Error().Str("url", m.url).
			Msg("Health threshold exceeded; requesting reload")
		m.sink.Enqueue(gpd.CmdReload)
		m.failures = 0
	}
}
