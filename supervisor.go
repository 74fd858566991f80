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
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/aschulz-kairox/git-push-deploy-daemon/probe"
)

// Supervisor is the master state machine.  It is the sole writer of the
// worker registry and of the transition flags; every mutation happens
// on the goroutine executing Run.  Collaborators (IPC surface, signal
// watcher, health monitor) inject commands through Enqueue and read the
// registry through snapshots.
type Supervisor struct {
	appFile   string
	opts      options
	log       zerolog.Logger
	startTime time.Time

	workers *Registry
	metrics *Metrics
	procs   map[int]*workerProc
	nextID  int

	lock     *PidLock
	ln       net.Listener
	lnFile   *os.File
	cmds     chan Command
	exits    chan exitEvent
	msgs     chan workerMsg

	// Transition flags.  Written only by the run loop; the IPC status
	// surface never reads them directly.
	shuttingDown bool
	reloading    bool
	scalingDown  bool
	graceC       <-chan time.Time
	graceExpired bool

	done     chan struct{}
	doneOnce sync.Once
}

// New allocates a supervisor for the given worker binary.  Nothing is
// forked until Start.
func New(appFile string, opts ...Option) *Supervisor {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	s := &Supervisor{
		appFile: appFile,
		opts:    o,
		log:     o.logger,
		workers: NewRegistry(),
		procs:   make(map[int]*workerProc),
		nextID:  1,
		cmds:    make(chan Command, 16),
		exits:   make(chan exitEvent, 64),
		msgs:    make(chan workerMsg, 64),
		done:    make(chan struct{}),
	}
	s.metrics = NewMetrics(s.workers)
	return s
}

// Start acquires the pid lock, binds the shared listening socket when
// one is configured, and forks the initial pool.  It returns
// ErrAlreadyRunning when the pid file names a live master, and
// ErrSpawnFailed when the very first child cannot be created.
func (s *Supervisor) Start() error {
	if _, err := os.Stat(s.appFile); err != nil {
		return errors.Wrapf(err, "app file %s", s.appFile)
	}
	lock, err := AcquirePidLock(s.opts.runtimeDir)
	if err != nil {
		return err
	}
	s.lock = lock
	s.startTime = time.Now()

	if s.opts.listenAddr != "" {
		ln, err := net.Listen("tcp", s.opts.listenAddr)
		if err != nil {
			s.lock.Release()
			return errors.Wrapf(err, "binding %s", s.opts.listenAddr)
		}
		s.ln = ln
		if tl, ok := ln.(*net.TCPListener); ok {
			if f, ferr := tl.File(); ferr != nil {
				ln.Close()
				s.lock.Release()
				return errors.Wrap(ferr, "duplicating listener")
			} else {
				s.lnFile = f
			}
		}
		s.log.Info().Str("addr", s.opts.listenAddr).
			Msg("Listening socket bound for worker inheritance")
	}

	for i := 0; i < s.opts.workers; i++ {
		if _, err := s.spawn(); err != nil {
			if i == 0 {
				s.closeListener()
				s.lock.Release()
				return ErrSpawnFailed
			}
			s.log.Warn().Err(err).Msg("Failed to fork worker during initial fill")
		}
	}

	if s.opts.readyURL != "" {
		go s.probeLoop()
	}
	s.log.Info().Str("app", s.appFile).Int("workers", s.opts.workers).
		Msg("Supervisor started")
	return nil
}

// Enqueue adds a command to the control-plane stream.  Delivery order
// is arrival order; duplicates are resolved by the idempotence guards
// in the run loop.
func (s *Supervisor) Enqueue(c Command) {
	select {
	case s.cmds <- c:
	case <-s.done:
	}
}

// Metrics returns the supervisor's prometheus collectors.
func (s *Supervisor) Metrics() *Metrics {
	return s.metrics
}

// Lock exposes the runtime file claim, so the IPC surface can publish
// its bound port to the sidecar.
func (s *Supervisor) Lock() *PidLock {
	return s.lock
}

// AppFile returns the resolved worker binary path.
func (s *Supervisor) AppFile() string {
	return s.appFile
}

// StartTime returns when the master came up.
func (s *Supervisor) StartTime() time.Time {
	return s.startTime
}

// Workers returns a consistent snapshot of the registry.
func (s *Supervisor) Workers() []WorkerInfo {
	return s.workers.Snapshot()
}

// Serial returns the registry change serial, usable as an Etag.
func (s *Supervisor) Serial() int64 {
	return s.workers.Serial()
}

// Events returns all retained lifecycle event records and the current
// record id; when last equals that id it returns nil records.
func (s *Supervisor) Events(last int64) ([]EventRecord, int64) {
	if s.opts.events == nil {
		return nil, last
	}
	return s.opts.events.GetRecords(last)
}

// Run executes the command loop until a graceful shutdown completes.
// It returns nil when every worker exited inside the grace window, and
// ErrGraceExpired when the shutdown deadline forced the exit.
func (s *Supervisor) Run() error {
	defer s.cleanup()
	for {
		select {
		case c := <-s.cmds:
			s.dispatch(c)
		case e := <-s.exits:
			s.handleExit(e)
		case m := <-s.msgs:
			s.handleMsg(m)
		case <-s.graceC:
			s.onGraceExpired()
		}
		if s.shuttingDown {
			if s.graceExpired {
				return ErrGraceExpired
			}
			if s.workers.Size() == 0 {
				s.log.Info().Msg("All workers exited; shutdown complete")
				return nil
			}
		}
	}
}

func (s *Supervisor) cleanup() {
	s.doneOnce.Do(func() { close(s.done) })
	s.closeListener()
	if s.lock != nil {
		s.lock.Release()
	}
}

func (s *Supervisor) closeListener() {
	if s.lnFile != nil {
		s.lnFile.Close()
		s.lnFile = nil
	}
	if s.ln != nil {
		s.ln.Close()
		s.ln = nil
	}
}

// dispatch runs one command from the top of the loop, where no
// transition is active.
func (s *Supervisor) dispatch(c Command) {
	switch c {
	case CmdReload:
		s.reload()
	case CmdStop:
		s.beginShutdown()
	case CmdScaleUp:
		s.scaleUp()
	case CmdScaleDown:
		s.scaleDown()
	}
}

// interpose handles a command observed at a suspension point inside an
// active transition.  Everything except stop is rejected; stop
// supersedes and flips the terminal flag, which the transition observes
// at its next await.
func (s *Supervisor) interpose(c Command) {
	if c == CmdStop {
		s.beginShutdown()
		return
	}
	s.metrics.Rejected.Inc()
	s.log.Warn().Str("command", c.String()).
		Msg("Rejected: another lifecycle transition is active")
}

func (s *Supervisor) reject(c Command, why error) {
	s.metrics.Rejected.Inc()
	s.log.Warn().Str("command", c.String()).Err(why).Msg("Rejected")
}

// spawn forks one worker and registers it in state starting.
func (s *Supervisor) spawn() (*workerProc, error) {
	if s.shuttingDown {
		return nil, ErrShuttingDown
	}
	id := s.nextID
	s.nextID++
	proc, err := s.opts.launcher(LaunchSpec{
		AppFile:  s.appFile,
		Listener: s.lnFile,
		Logger:   s.log.With().Int("worker", id).Logger(),
	})
	if err != nil {
		s.metrics.SpawnFailures.Inc()
		s.log.Error().Err(err).Int("worker", id).Msg("Failed to fork worker")
		return nil, err
	}
	s.metrics.Spawns.Inc()
	s.workers.Insert(id, proc.Pid(), time.Now())
	w := &workerProc{id: id, proc: proc}
	s.procs[id] = w
	go forwardMessages(id, proc, s.msgs)
	go func() {
		err := proc.Wait()
		s.exits <- exitEvent{id: id, err: err}
	}()
	s.log.Info().Int("worker", id).Int("pid", proc.Pid()).Msg("Forked worker")
	return w, nil
}

// handleMsg applies one token from a child, or a synthetic readiness
// observation from the probe loop.
func (s *Supervisor) handleMsg(m workerMsg) {
	if m.id == probeSource {
		for _, id := range s.workers.Starting() {
			s.workers.MarkReady(id)
			s.log.Info().Int("worker", id).Msg("Worker ready (probe)")
		}
		return
	}
	switch m.token {
	case TokenReady:
		if w, ok := s.workers.Get(m.id); ok && w.State == StateStarting {
			s.workers.MarkReady(m.id)
			s.log.Info().Int("worker", m.id).Msg("Worker ready")
		}
	default:
		s.log.Debug().Int("worker", m.id).Str("token", m.token).
			Msg("Ignoring unknown token")
	}
}

// handleExit applies one observed process exit.  Outside of any
// transition the worker is replaced immediately; during a transition
// the death is expected and the ongoing step observes it as its
// completion signal.
func (s *Supervisor) handleExit(e exitEvent) {
	w, tracked := s.procs[e.id]
	if !tracked {
		// Already killed and removed by a transition step.
		return
	}
	delete(s.procs, e.id)
	s.workers.Remove(e.id)
	evt := s.log.Info().Int("worker", e.id).Int("pid", w.proc.Pid())
	if e.err != nil {
		evt = evt.Err(e.err)
	}
	evt.Msg("Worker exited")

	if s.shuttingDown || s.reloading || s.scalingDown {
		return
	}
	s.metrics.Restarts.Inc()
	if _, err := s.spawn(); err != nil {
		// Do not busy-loop on back-to-back fork failures; wait for the
		// next command instead.
		s.log.Error().Err(err).Msg("Crash restart failed; awaiting next command")
	}
}

// probeLoop polls the configured readiness URL while any worker is
// still starting.  Any HTTP-level response marks the starting workers
// ready; only transport failure keeps polling.  Results funnel through
// the message channel so all registry writes stay on the run loop.
func (s *Supervisor) probeLoop() {
	t := time.NewTicker(s.opts.readyPoll)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			if len(s.workers.Starting()) == 0 {
				continue
			}
			r := probe.Do(s.opts.readyURL, s.opts.readyPoll)
			if r.Err != nil {
				continue
			}
			select {
			case s.msgs <- workerMsg{id: probeSource, token: TokenReady}:
			case <-s.done:
				return
			}
		}
	}
}

// reload executes the rolling reload protocol: for every worker present
// at entry, fork a replacement, wait for it to become ready, and only
// then retire the old one.  A replacement that does not come up leaves
// the old worker untouched.
func (s *Supervisor) reload() {
	if s.shuttingDown {
		s.reject(CmdReload, ErrShuttingDown)
		return
	}
	if s.reloading || s.scalingDown {
		s.reject(CmdReload, ErrTransitionActive)
		return
	}
	s.reloading = true
	defer func() { s.reloading = false }()
	s.metrics.Reloads.Inc()

	snapshot := s.workers.Snapshot()
	s.log.Info().Int("workers", len(snapshot)).Msg("Rolling reload started")

	for _, old := range snapshot {
		if s.shuttingDown {
			s.log.Info().Msg("Reload aborted by shutdown")
			return
		}
		if _, ok := s.workers.Get(old.ID); !ok {
			// Died since the snapshot; nothing to replace.
			continue
		}
		nw, err := s.spawn()
		if err != nil {
			s.log.Warn().Int("worker", old.ID).
				Msg("Reload step skipped: replacement fork failed")
			continue
		}
		ready := s.waitReady(nw.id, s.opts.readyTimeout)
		if s.shuttingDown {
			// The replacement, ready or not, is drained by shutdown
			// along with everyone else.
			s.log.Info().Msg("Reload aborted by shutdown")
			return
		}
		if !ready {
			if _, alive := s.workers.Get(nw.id); alive {
				s.log.Warn().Int("worker", nw.id).
					Msg("Replacement missed ready deadline; keeping old worker")
				s.metrics.ForcedKills.Inc()
				s.killWorker(nw.id)
			} else {
				s.log.Warn().Int("worker", nw.id).
					Msg("Replacement died before ready; keeping old worker")
			}
			continue
		}
		s.drain(old.ID)
		if s.shuttingDown {
			s.log.Info().Msg("Reload aborted by shutdown")
			return
		}
	}
	s.log.Info().Msg("Rolling reload complete")
}

// waitReady parks at a suspension point until the worker reaches ready,
// dies, the deadline passes, or shutdown supersedes.  Messages, exits
// and commands keep flowing while parked.
func (s *Supervisor) waitReady(id int, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		w, ok := s.workers.Get(id)
		if !ok {
			return false
		}
		if w.State == StateReady {
			return true
		}
		if s.shuttingDown {
			return false
		}
		select {
		case m := <-s.msgs:
			s.handleMsg(m)
		case e := <-s.exits:
			s.handleExit(e)
		case c := <-s.cmds:
			s.interpose(c)
		case <-timer.C:
			return false
		case <-s.graceC:
			s.onGraceExpired()
			return false
		}
	}
}

// waitExit parks until the worker's exit has been observed or the
// deadline passes.
func (s *Supervisor) waitExit(id int, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if s.graceExpired {
			return true
		}
		if _, ok := s.workers.Get(id); !ok {
			return true
		}
		select {
		case m := <-s.msgs:
			s.handleMsg(m)
		case e := <-s.exits:
			s.handleExit(e)
		case c := <-s.cmds:
			s.interpose(c)
		case <-timer.C:
			return false
		case <-s.graceC:
			s.onGraceExpired()
			return true
		}
	}
}

// drain retires one worker: mark it draining, ask it to shut down,
// request disconnect, and wait up to the grace timeout before forcing
// the issue.
func (s *Supervisor) drain(id int) {
	w, ok := s.procs[id]
	if !ok {
		return
	}
	s.workers.MarkDraining(id)
	s.log.Info().Int("worker", id).Msg("Draining worker")
	w.proc.Send(TokenShutdown)
	w.proc.CloseControl()
	if s.waitExit(id, s.opts.graceTimeout) {
		return
	}
	s.log.Warn().Int("worker", id).Msg("Drain deadline expired; killing worker")
	s.metrics.ForcedKills.Inc()
	w.proc.Kill()
	if !s.waitExit(id, s.opts.graceTimeout) {
		// The kernel would not even reap it; stop tracking.
		s.killWorker(id)
	}
}

// killWorker force-terminates a worker and removes it from the
// registry without waiting for the exit event, which is ignored when it
// eventually arrives.
func (s *Supervisor) killWorker(id int) {
	if w, ok := s.procs[id]; ok {
		w.proc.Kill()
		delete(s.procs, id)
	}
	s.workers.Remove(id)
}

// scaleUp appends one worker to the pool.
func (s *Supervisor) scaleUp() {
	if s.shuttingDown {
		s.reject(CmdScaleUp, ErrShuttingDown)
		return
	}
	if _, err := s.spawn(); err != nil {
		s.log.Error().Err(err).Msg("Scale-up failed")
	}
}

// scaleDown retires the oldest worker.  Refused while another
// transition is active, and never below a single worker.
func (s *Supervisor) scaleDown() {
	if s.shuttingDown {
		s.reject(CmdScaleDown, ErrShuttingDown)
		return
	}
	if s.reloading || s.scalingDown {
		s.reject(CmdScaleDown, ErrTransitionActive)
		return
	}
	if s.workers.Size() <= 1 {
		s.reject(CmdScaleDown, ErrMinWorkers)
		return
	}
	s.scalingDown = true
	defer func() { s.scalingDown = false }()
	oldest, ok := s.workers.Oldest()
	if !ok {
		return
	}
	s.log.Info().Int("worker", oldest).Msg("Scaling down")
	s.drain(oldest)
}

// beginShutdown enters the terminal state: every worker is asked to
// drain at once, and a single grace timer bounds the whole retreat.
// Safe to call repeatedly; only the first call has any effect.
func (s *Supervisor) beginShutdown() {
	if s.shuttingDown {
		s.log.Debug().Msg("Shutdown already in progress")
		return
	}
	s.shuttingDown = true
	s.log.Info().Int("workers", s.workers.Size()).Msg("Graceful shutdown started")
	for _, w := range s.procs {
		s.workers.MarkDraining(w.id)
		w.proc.Send(TokenShutdown)
		w.proc.CloseControl()
	}
	s.graceC = time.After(s.opts.graceTimeout)
}

// onGraceExpired force-kills whatever is left and marks the run as a
// failed shutdown.
func (s *Supervisor) onGraceExpired() {
	if s.graceExpired {
		return
	}
	s.graceExpired = true
	s.log.Error().Int("workers", s.workers.Size()).
		Msg("Shutdown grace period expired; killing remaining workers")
	for id, w := range s.procs {
		w.proc.Kill()
		delete(s.procs, id)
		s.workers.Remove(id)
	}
}
