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

package gpd

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics carries the supervisor's prometheus collectors.  The IPC
// surface mounts Handler at /metrics.
type Metrics struct {
	reg *prometheus.Registry

	Spawns        prometheus.Counter
	SpawnFailures prometheus.Counter
	Restarts      prometheus.Counter
	Reloads       prometheus.Counter
	ForcedKills   prometheus.Counter
	Rejected      prometheus.Counter
}

// NewMetrics builds the collectors and registers them, together with a
// live-worker gauge fed from the registry.
func NewMetrics(workers *Registry) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Spawns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpd_worker_spawns_total",
			Help: "Worker processes forked.",
		}),
		SpawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpd_worker_spawn_failures_total",
			Help: "Worker forks that failed synchronously.",
		}),
		Restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpd_worker_restarts_total",
			Help: "Crash restarts of workers that exited unexpectedly.",
		}),
		Reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpd_reloads_total",
			Help: "Rolling reloads started.",
		}),
		ForcedKills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpd_worker_forced_kills_total",
			Help: "Workers killed after a drain or ready deadline expired.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpd_commands_rejected_total",
			Help: "Lifecycle commands rejected because a transition was active.",
		}),
	}
	m.reg.MustRegister(m.Spawns, m.SpawnFailures, m.Restarts,
		m.Reloads, m.ForcedKills, m.Rejected)
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gpd_workers",
		Help: "Workers currently tracked by the registry.",
	}, func() float64 {
		return float64(workers.Size())
	}))
	return m
}

// Handler serves the metrics in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
