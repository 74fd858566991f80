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
	"strings"
	"sync"
	"time"
)

const (
	MaxEventRecords = 1000
)

// EventRecord is one entry of the master's lifecycle event ring.
type EventRecord struct {
	Id   int64     `json:"id,string"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// EventLog retains the newest MaxEventRecords lifecycle events.  It
// implements io.Writer so it can sit behind a zerolog multi-level
// writer and capture everything the supervisor logs, and it hands out
// records with an id suitable for use as an Etag by the IPC log
// endpoint.
//
// Storage is a fixed-capacity slice written circularly: head is the
// slot the next record lands in, and full flips once the first lap
// completes.  Record ids count up from one, so the id alone says how
// many records ever existed.
type EventLog struct {
	buf  []EventRecord
	head int
	full bool
	id   int64
	mx   sync.Mutex
}

func NewEventLog() *EventLog {
	return &EventLog{buf: make([]EventRecord, MaxEventRecords)}
}

// Write implements the Writer interface consumed by the logger.  Each
// line of the input becomes one record.
func (el *EventLog) Write(b []byte) (int, error) {
	el.mx.Lock()
	defer el.mx.Unlock()
	if el.buf == nil {
		el.buf = make([]EventRecord, MaxEventRecords)
	}
	for _, line := range strings.Split(strings.Trim(string(b), "\n"), "\n") {
		el.id++
		el.buf[el.head] = EventRecord{
			Id:   el.id,
			Time: time.Now(),
			Text: line,
		}
		el.head++
		if el.head == len(el.buf) {
			el.head = 0
			el.full = true
		}
	}
	return len(b), nil
}

// GetRecords returns the retained records oldest first, plus an id
// usable as an Etag.  If last matches the current id, nil is returned
// immediately without duplicating any records.
func (el *EventLog) GetRecords(last int64) ([]EventRecord, int64) {
	el.mx.Lock()
	defer el.mx.Unlock()
	if el.id == last {
		return nil, last
	}
	var recs []EventRecord
	if el.full {
		// The slot about to be overwritten holds the oldest record.
		recs = make([]EventRecord, 0, len(el.buf))
		recs = append(recs, el.buf[el.head:]...)
		recs = append(recs, el.buf[:el.head]...)
	} else {
		recs = append(recs, el.buf[:el.head]...)
	}
	return recs, el.id
}
