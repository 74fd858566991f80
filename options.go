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
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

// Defaults for the supervisor tuning knobs.  All of them can be
// overridden through options, which in turn are usually populated from
// the GPDD_* environment (see the config package).
const (
	DefaultGraceTimeout      = 30 * time.Second
	DefaultReadyTimeout      = 10 * time.Second
	DefaultReadyPollInterval = 500 * time.Millisecond
)

type options struct {
	workers      int
	graceTimeout time.Duration
	readyTimeout time.Duration
	readyPoll    time.Duration
	readyURL     string
	listenAddr   string
	runtimeDir   string
	logger       zerolog.Logger
	launcher     Launcher
	events       *EventLog
}

func defaultOptions() options {
	return options{
		workers:      runtime.NumCPU(),
		graceTimeout: DefaultGraceTimeout,
		readyTimeout: DefaultReadyTimeout,
		readyPoll:    DefaultReadyPollInterval,
		runtimeDir:   ".",
		logger:       zerolog.Nop(),
		launcher:     ExecLauncher,
	}
}

// Option configures a Supervisor.
// See Rob Pike's post on self-referential functions for the pattern.
type Option func(*options)

// WithWorkers sets the target pool size.  Values below one fall back to
// the host CPU count.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.workers = n
		}
	}
}

// WithGraceTimeout bounds every drain: a worker that has not exited
// this long after being asked to is force-killed.  The same duration
// bounds a full graceful shutdown.
func WithGraceTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.graceTimeout = d
		}
	}
}

// WithReadyTimeout bounds how long a freshly forked worker may take to
// reach ready during a rolling reload step.
func WithReadyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.readyTimeout = d
		}
	}
}

// WithReadyPollInterval sets the cadence of URL readiness probes.
func WithReadyPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.readyPoll = d
		}
	}
}

// WithReadyURL enables probe based ready detection.  Any HTTP-level
// response obtained from the URL marks a starting worker ready; only a
// transport failure keeps polling.
func WithReadyURL(url string) Option {
	return func(o *options) {
		o.readyURL = url
	}
}

// WithListenAddr makes the master bind the given TCP address once and
// pass the listener to every worker, so overlapping generations share
// one kernel accept queue.
func WithListenAddr(addr string) Option {
	return func(o *options) {
		o.listenAddr = addr
	}
}

// WithRuntimeDir sets the directory holding the pid file and the IPC
// port sidecar.  Defaults to the working directory.
func WithRuntimeDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.runtimeDir = dir
		}
	}
}

// WithLogger configures the logger used for supervisor events.
// By default nothing is logged.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithLauncher overrides how worker processes are created.  Tests use
// this to inject fake processes; everyone else wants the default
// ExecLauncher.
func WithLauncher(l Launcher) Option {
	return func(o *options) {
		if l != nil {
			o.launcher = l
		}
	}
}

// WithEventLog attaches an event ring that lifecycle events are
// recorded into, for the IPC log endpoint.
func WithEventLog(el *EventLog) Option {
	return func(o *options) {
		o.events = el
	}
}
