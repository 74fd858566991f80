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
	"errors"
)

var (
	ErrAlreadyRunning   = errors.New("Another master is already running")
	ErrSpawnFailed      = errors.New("Cannot spawn initial worker")
	ErrShuttingDown     = errors.New("Supervisor is shutting down")
	ErrTransitionActive = errors.New("Another lifecycle transition is active")
	ErrMinWorkers       = errors.New("Cannot scale below one worker")
	ErrGraceExpired     = errors.New("Shutdown grace period expired")
	ErrNoSuchWorker     = errors.New("No such worker")
	ErrDuplicateWorker  = errors.New("Worker id already registered")
	ErrNotRunning       = errors.New("No running instance")
)
