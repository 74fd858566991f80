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
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Names of the runtime state files, created in the runtime directory.
const (
	PidFileName  = ".gpd-runtime.pid"
	PortFileName = ".gpd-runtime.port"
)

// PidLock is the master's claim on a runtime directory: the pid file,
// and the port sidecar the IPC surface publishes its bound port to.
type PidLock struct {
	dir      string
	pidPath  string
	portPath string
}

// PidAlive reports whether a process with the given pid exists.  An
// EPERM answer still means the process is there, we just may not signal
// it.
func PidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// AcquirePidLock creates the pid file for this process.  A pid file
// naming a live process means another master owns the directory and
// startup must abort; a pid file naming a dead process is stale and is
// reclaimed.
func AcquirePidLock(dir string) (*PidLock, error) {
	l := &PidLock{
		dir:      dir,
		pidPath:  filepath.Join(dir, PidFileName),
		portPath: filepath.Join(dir, PortFileName),
	}
	// Two attempts: the second one runs after reclaiming a stale file.
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.pidPath,
			os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			f.Close()
			if werr != nil {
				os.Remove(l.pidPath)
				return nil, errors.Wrap(werr, "writing pid file")
			}
			return l, nil
		}
		if !os.IsExist(err) {
			return nil, errors.Wrap(err, "creating pid file")
		}
		pid, rerr := ReadPidFile(dir)
		if rerr == nil && PidAlive(pid) {
			return nil, ErrAlreadyRunning
		}
		// Stale or unreadable; reclaim.
		if rmerr := os.Remove(l.pidPath); rmerr != nil && !os.IsNotExist(rmerr) {
			return nil, errors.Wrap(rmerr, "reclaiming stale pid file")
		}
	}
	return nil, ErrAlreadyRunning
}

// WritePort publishes the bound IPC port to the sidecar file.
func (l *PidLock) WritePort(port int) error {
	err := os.WriteFile(l.portPath, []byte(strconv.Itoa(port)), 0644)
	return errors.Wrap(err, "writing port sidecar")
}

// Release removes the pid file and the port sidecar.
func (l *PidLock) Release() {
	os.Remove(l.portPath)
	os.Remove(l.pidPath)
}

// ReadPidFile returns the master pid recorded in dir.
func ReadPidFile(dir string) (int, error) {
	b, err := os.ReadFile(filepath.Join(dir, PidFileName))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, errors.Wrapf(err, "bad pid file contents %q", string(b))
	}
	return pid, nil
}

// ReadPortFile returns the IPC port recorded in dir.  A missing sidecar
// means the IPC surface is unavailable and callers should fall back to
// host signals where applicable.
func ReadPortFile(dir string) (int, error) {
	b, err := os.ReadFile(filepath.Join(dir, PortFileName))
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || port <= 0 || port > 65535 {
		return 0, errors.Errorf("bad port sidecar contents %q", string(b))
	}
	return port, nil
}
