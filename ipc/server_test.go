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

package ipc

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	gpd "github.com/aschulz-kairox/git-push-deploy-daemon"
)

type fakeSource struct {
	workers []gpd.WorkerInfo
	events  []gpd.EventRecord
	start   time.Time
}

func (f *fakeSource) AppFile() string          { return "/srv/app" }
func (f *fakeSource) StartTime() time.Time     { return f.start }
func (f *fakeSource) Workers() []gpd.WorkerInfo { return f.workers }
func (f *fakeSource) Serial() int64            { return 42 }

func (f *fakeSource) Events(last int64) ([]gpd.EventRecord, int64) {
	if len(f.events) == 0 || last >= f.events[len(f.events)-1].Id {
		return nil, last
	}
	return f.events, f.events[len(f.events)-1].Id
}

type recordingSink struct {
	mu   sync.Mutex
	cmds []gpd.Command
}

func (s *recordingSink) Enqueue(c gpd.Command) {
	s.mu.Lock()
	s.cmds = append(s.cmds, c)
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() []gpd.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gpd.Command{}, s.cmds...)
}

func newTestSurface(t *testing.T) (*fakeSource, *recordingSink, *Client, func()) {
	t.Helper()
	src := &fakeSource{
		start: time.Now().Add(-time.Minute),
		workers: []gpd.WorkerInfo{
			{ID: 1, Pid: 100, State: gpd.StateReady, StartTime: time.Now()},
			{ID: 2, Pid: 101, State: gpd.StateStarting, StartTime: time.Now()},
		},
		events: []gpd.EventRecord{
			{Id: 1, Time: time.Now(), Text: "Forked worker"},
			{Id: 2, Time: time.Now(), Text: "Worker ready"},
		},
	}
	sink := &recordingSink{}
	h := NewHandler(src, sink, zerolog.Nop())
	srv := httptest.NewServer(h)
	return src, sink, NewClient(nil, srv.URL), srv.Close
}

func TestStatusRoundTrip(t *testing.T) {
	_, _, c, done := newTestSurface(t)
	defer done()

	st, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, "/srv/app", st.AppFile)
	require.Len(t, st.Workers, 2)
	assert.Equal(t, 1, st.Workers[0].Id)
	assert.Equal(t, "ready", st.Workers[0].State)
	assert.Equal(t, "starting", st.Workers[1].State)
}

func TestCommandsForwarded(t *testing.T) {
	_, sink, c, done := newTestSurface(t)
	defer done()

	require.NoError(t, c.Reload())
	require.NoError(t, c.ScaleUp())
	require.NoError(t, c.ScaleDown())
	assert.Equal(t, []gpd.Command{gpd.CmdReload, gpd.CmdScaleUp, gpd.CmdScaleDown},
		sink.snapshot())
}

func TestStopAcksBeforeEnqueue(t *testing.T) {
	_, sink, c, done := newTestSurface(t)
	defer done()

	require.NoError(t, c.Stop())
	deadline := time.Now().Add(2 * time.Second)
	for len(sink.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, []gpd.Command{gpd.CmdStop}, sink.snapshot())
}

func TestUnknownRoute(t *testing.T) {
	_, _, c, done := newTestSurface(t)
	defer done()

	err := c.post("/frobnicate")
	require.Error(t, err)
	ipcErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, ipcErr.Code)
	assert.Equal(t, "not found", ipcErr.Message)
}

func TestNoSinkIsServerError(t *testing.T) {
	src := &fakeSource{start: time.Now()}
	h := NewHandler(src, nil, zerolog.Nop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	res, err := http.Post(srv.URL+"/reload", "text/plain", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	eb := &ErrorBody{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(eb))
	assert.NotEmpty(t, eb.Error)
}

func TestStatusEtag(t *testing.T) {
	src := &fakeSource{start: time.Now()}
	h := NewHandler(src, &recordingSink{}, zerolog.Nop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	res.Body.Close()
	etag := res.Header.Get("Etag")
	require.NotEmpty(t, etag)

	req, _ := http.NewRequest("GET", srv.URL+"/status", nil)
	req.Header.Set("If-None-Match", etag)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotModified, res.StatusCode)
}

func TestGetLog(t *testing.T) {
	_, _, c, done := newTestSurface(t)
	defer done()

	recs, err := c.GetLog(0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Forked worker", recs[0].Text)

	recs, err = c.GetLog(2)
	require.NoError(t, err)
	assert.Len(t, recs, 0)
}

func TestBasicAuth(t *testing.T) {
	src := &fakeSource{start: time.Now()}
	sink := &recordingSink{}
	h := NewHandler(src, sink, zerolog.Nop())
	hash, err := bcrypt.GenerateFromPassword([]byte("sesame"), bcrypt.MinCost)
	require.NoError(t, err)
	h.SetAuth("deploy", hash)
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := NewClient(nil, srv.URL)
	_, err = c.Status()
	require.Error(t, err)
	ipcErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, ipcErr.Code)

	c.SetAuth("deploy", "sesame")
	_, err = c.Status()
	assert.NoError(t, err)

	c.SetAuth("deploy", "wrong")
	_, err = c.Status()
	assert.Error(t, err)
}

func TestListenLoopback(t *testing.T) {
	ln, err := ListenLoopback(0)
	require.NoError(t, err)
	defer ln.Close()
	port := Port(ln)
	assert.Greater(t, port, 0)
	assert.LessOrEqual(t, port, 65535)
	assert.Equal(t, "127.0.0.1", ln.Addr().(*net.TCPAddr).IP.String())
}
