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

package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	gpd "github.com/aschulz-kairox/git-push-deploy-daemon"
)

type recordingSink struct {
	mu   sync.Mutex
	cmds []gpd.Command
}

func (s *recordingSink) Enqueue(c gpd.Command) {
	s.mu.Lock()
	s.cmds = append(s.cmds, c)
	s.mu.Unlock()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cmds)
}

func (s *recordingSink) first() gpd.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmds[0]
}

func TestHealthyPoolTriggersNothing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	sink := &recordingSink{}
	m := NewMonitor(srv.URL, 5*time.Millisecond, 2, sink, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	// Even a 404 counts as alive; only transport failures do not.
	assert.Equal(t, 0, sink.count())
}

func TestThresholdTriggersReload(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	sink := &recordingSink{}
	m := NewMonitor(url, 5*time.Millisecond, 3, sink, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	assert.GreaterOrEqual(t, sink.count(), 1)
	assert.Equal(t, gpd.CmdReload, sink.first())
}

func TestFlappingResetsStreak(t *testing.T) {
	var mu sync.Mutex
	up := true
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			if !up {
				// Hijack and slam the connection shut so the probe
				// sees a transport failure.
				hj, ok := w.(http.Hijacker)
				if ok {
					conn, _, _ := hj.Hijack()
					conn.Close()
					return
				}
			}
			w.WriteHeader(http.StatusOK)
		}))
	defer srv.Close()

	sink := &recordingSink{}
	m := NewMonitor(srv.URL, time.Minute, 2, sink, zerolog.Nop())

	m.check()
	assert.Equal(t, 0, m.failures)

	mu.Lock()
	up = false
	mu.Unlock()
	m.check()
	assert.Equal(t, 1, m.failures)

	mu.Lock()
	up = true
	mu.Unlock()
	m.check()
	assert.Equal(t, 0, m.failures)
	assert.Equal(t, 0, sink.count())

	mu.Lock()
	up = false
	mu.Unlock()
	m.check()
	m.check()
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, 0, m.failures)
}

func TestDefaultsApplied(t *testing.T) {
	m := NewMonitor("http://127.0.0.1:1/x", 0, 0, &recordingSink{}, zerolog.Nop())
	assert.Equal(t, DefaultInterval, m.interval)
	assert.Equal(t, DefaultThreshold, m.threshold)
}
