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
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestPidLock(t *testing.T) {
	Convey("Given a runtime directory", t, func() {
		dir := t.TempDir()

		Convey("Acquiring writes our pid", func() {
			l, err := AcquirePidLock(dir)
			So(err, ShouldBeNil)
			pid, err := ReadPidFile(dir)
			So(err, ShouldBeNil)
			So(pid, ShouldEqual, os.Getpid())

			Convey("A second acquire sees the live master", func() {
				_, err := AcquirePidLock(dir)
				So(err, ShouldEqual, ErrAlreadyRunning)
			})

			Convey("The port sidecar is written and removed", func() {
				So(l.WritePort(4321), ShouldBeNil)
				port, err := ReadPortFile(dir)
				So(err, ShouldBeNil)
				So(port, ShouldEqual, 4321)
				l.Release()
				_, err = ReadPortFile(dir)
				So(err, ShouldNotBeNil)
				_, err = ReadPidFile(dir)
				So(err, ShouldNotBeNil)
			})
		})

		Convey("A stale pid file is reclaimed", func() {
			// A pid far beyond the kernel's default maximum cannot
			// name a live process.
			path := filepath.Join(dir, PidFileName)
			So(os.WriteFile(path, []byte("99999999"), 0644), ShouldBeNil)
			l, err := AcquirePidLock(dir)
			So(err, ShouldBeNil)
			pid, _ := ReadPidFile(dir)
			So(pid, ShouldEqual, os.Getpid())
			l.Release()
		})

		Convey("A garbage pid file is reclaimed too", func() {
			path := filepath.Join(dir, PidFileName)
			So(os.WriteFile(path, []byte("not-a-pid"), 0644), ShouldBeNil)
			l, err := AcquirePidLock(dir)
			So(err, ShouldBeNil)
			l.Release()
		})

		Convey("A missing port sidecar is an error for readers", func() {
			_, err := ReadPortFile(dir)
			So(err, ShouldNotBeNil)
		})
	})
}
