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
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRegistryBasics(t *testing.T) {
	Convey("Given an empty registry", t, func() {
		r := NewRegistry()
		So(r.Size(), ShouldEqual, 0)
		_, ok := r.Oldest()
		So(ok, ShouldBeFalse)

		Convey("Inserted workers start in state starting", func() {
			now := time.Now()
			So(r.Insert(1, 100, now), ShouldBeNil)
			So(r.Insert(2, 101, now), ShouldBeNil)
			w, ok := r.Get(1)
			So(ok, ShouldBeTrue)
			So(w.State, ShouldEqual, StateStarting)
			So(w.Pid, ShouldEqual, 100)
			So(r.Size(), ShouldEqual, 2)

			Convey("Duplicate ids are refused", func() {
				So(r.Insert(1, 102, now), ShouldEqual, ErrDuplicateWorker)
			})

			Convey("Lookup by pid works", func() {
				w, ok := r.ByPid(101)
				So(ok, ShouldBeTrue)
				So(w.ID, ShouldEqual, 2)
				_, ok = r.ByPid(9999)
				So(ok, ShouldBeFalse)
			})

			Convey("MarkReady only promotes starting workers", func() {
				So(r.MarkReady(1), ShouldBeNil)
				w, _ := r.Get(1)
				So(w.State, ShouldEqual, StateReady)

				So(r.MarkDraining(1), ShouldBeNil)
				So(r.MarkReady(1), ShouldBeNil)
				w, _ = r.Get(1)
				So(w.State, ShouldEqual, StateDraining)
			})

			Convey("Remove deletes the entry", func() {
				So(r.Remove(1), ShouldBeNil)
				So(r.Size(), ShouldEqual, 1)
				So(r.Remove(1), ShouldEqual, ErrNoSuchWorker)
			})

			Convey("Oldest is the lowest id", func() {
				id, ok := r.Oldest()
				So(ok, ShouldBeTrue)
				So(id, ShouldEqual, 1)
				r.Remove(1)
				id, _ = r.Oldest()
				So(id, ShouldEqual, 2)
			})

			Convey("Snapshot is ordered by id and is a copy", func() {
				ws := r.Snapshot()
				So(len(ws), ShouldEqual, 2)
				So(ws[0].ID, ShouldEqual, 1)
				So(ws[1].ID, ShouldEqual, 2)
				ws[0].State = StateDraining
				w, _ := r.Get(1)
				So(w.State, ShouldEqual, StateStarting)
			})

			Convey("Starting lists only unpromoted workers", func() {
				r.MarkReady(1)
				So(r.Starting(), ShouldResemble, []int{2})
			})
		})

		Convey("Unknown ids yield ErrNoSuchWorker", func() {
			So(r.MarkReady(7), ShouldEqual, ErrNoSuchWorker)
			So(r.MarkDraining(7), ShouldEqual, ErrNoSuchWorker)
		})

		Convey("The serial bumps on every mutation", func() {
			s0 := r.Serial()
			r.Insert(1, 100, time.Now())
			s1 := r.Serial()
			So(s1, ShouldBeGreaterThan, s0)
			r.MarkReady(1)
			So(r.Serial(), ShouldBeGreaterThan, s1)
		})
	})
}
