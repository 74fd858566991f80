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
	"sort"
	"sync"
	"time"
)

// WorkerState is the lifecycle state of a single worker process, as
// tracked by the registry.  A worker is born starting, becomes ready
// when its accept loop is known to be serving, and is draining once it
// has been asked to retire.  There is no dead state; a worker whose
// process exited is simply removed.
type WorkerState int

const (
	StateStarting WorkerState = iota
	StateReady
	StateDraining
)

func (s WorkerState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	}
	return "unknown"
}

// WorkerInfo is one registry entry.  Ids are assigned monotonically by
// the supervisor and are never reused within a master lifetime.
type WorkerInfo struct {
	ID        int
	Pid       int
	State     WorkerState
	StartTime time.Time
}

// Registry is the in-memory table of live workers.  The supervisor core
// is the only writer; the IPC surface and the monitor UI read consistent
// snapshots.  All accesses are serialized under one lock, so readers
// never observe a torn entry.
type Registry struct {
	workers map[int]*WorkerInfo
	serial  int64
	mx      sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[int]*WorkerInfo),
		serial:  time.Now().UnixNano(),
	}
}

func (r *Registry) lock() {
	r.mx.Lock()
}

func (r *Registry) unlock() {
	r.mx.Unlock()
}

// bump increments the serial.  Call with lock held.  The serial is
// usable as a cheap change detector (Etag) by status consumers.
func (r *Registry) bump() {
	r.serial++
}

// Insert records a freshly forked worker in state starting.
func (r *Registry) Insert(id, pid int, startTime time.Time) error {
	r.lock()
	defer r.unlock()
	if _, ok := r.workers[id]; ok {
		return ErrDuplicateWorker
	}
	r.workers[id] = &WorkerInfo{
		ID:        id,
		Pid:       pid,
		State:     StateStarting,
		StartTime: startTime,
	}
	r.bump()
	return nil
}

// MarkReady moves a worker from starting to ready.  Marking a draining
// worker ready leaves it draining and returns nil; retirement is a
// one-way street.
func (r *Registry) MarkReady(id int) error {
	r.lock()
	defer r.unlock()
	w, ok := r.workers[id]
	if !ok {
		return ErrNoSuchWorker
	}
	if w.State == StateStarting {
		w.State = StateReady
		r.bump()
	}
	return nil
}

// MarkDraining moves a worker into the draining state.
func (r *Registry) MarkDraining(id int) error {
	r.lock()
	defer r.unlock()
	w, ok := r.workers[id]
	if !ok {
		return ErrNoSuchWorker
	}
	if w.State != StateDraining {
		w.State = StateDraining
		r.bump()
	}
	return nil
}

// Remove deletes a worker from the table, normally in response to an
// observed process exit.
func (r *Registry) Remove(id int) error {
	r.lock()
	defer r.unlock()
	if _, ok := r.workers[id]; !ok {
		return ErrNoSuchWorker
	}
	delete(r.workers, id)
	r.bump()
	return nil
}

// Get returns a copy of the entry for id.
func (r *Registry) Get(id int) (WorkerInfo, bool) {
	r.lock()
	defer r.unlock()
	w, ok := r.workers[id]
	if !ok {
		return WorkerInfo{}, false
	}
	return *w, true
}

// ByPid returns a copy of the entry whose operating system pid matches.
func (r *Registry) ByPid(pid int) (WorkerInfo, bool) {
	r.lock()
	defer r.unlock()
	for _, w := range r.workers {
		if w.Pid == pid {
			return *w, true
		}
	}
	return WorkerInfo{}, false
}

// Snapshot returns copies of all entries ordered by id.
func (r *Registry) Snapshot() []WorkerInfo {
	r.lock()
	defer r.unlock()
	rv := make([]WorkerInfo, 0, len(r.workers))
	for _, w := range r.workers {
		rv = append(rv, *w)
	}
	sort.Slice(rv, func(i, j int) bool { return rv[i].ID < rv[j].ID })
	return rv
}

// Size returns the number of tracked workers.
func (r *Registry) Size() int {
	r.lock()
	defer r.unlock()
	return len(r.workers)
}

// Serial returns the current change serial.
func (r *Registry) Serial() int64 {
	r.lock()
	defer r.unlock()
	return r.serial
}

// Oldest returns the id of the oldest live worker (the lowest id, since
// ids are assigned in fork order).  Returns false when the table is
// empty.
func (r *Registry) Oldest() (int, bool) {
	r.lock()
	defer r.unlock()
	oldest := -1
	for id := range r.workers {
		if oldest < 0 || id < oldest {
			oldest = id
		}
	}
	return oldest, oldest >= 0
}

// Starting returns the ids of all workers still in the starting state,
// in id order.  Used by the probe loop to decide who a URL response
// should promote.
func (r *Registry) Starting() []int {
	r.lock()
	defer r.unlock()
	var rv []int
	for id, w := range r.workers {
		if w.State == StateStarting {
			rv = append(rv, id)
		}
	}
	sort.Ints(rv)
	return rv
}
