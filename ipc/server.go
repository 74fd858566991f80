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

// Package ipc exposes the supervisor's loopback control plane: a small
// HTTP request/response surface for status queries and lifecycle
// commands, plus the matching client used by the CLI and the monitor
// UI.  The surface never mutates the registry itself; it only forwards
// commands into the control-plane stream.
package ipc

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	gpd "github.com/aschulz-kairox/git-push-deploy-daemon"
)

// stopDelay is the pause between acknowledging POST /stop and actually
// enqueueing the shutdown, so the caller can observe its success.
const stopDelay = 100 * time.Millisecond

// Source is the read side the handler serves status and log queries
// from.  The supervisor implements it.
type Source interface {
	AppFile() string
	StartTime() time.Time
	Workers() []gpd.WorkerInfo
	Serial() int64
	Events(last int64) ([]gpd.EventRecord, int64)
}

// Handler wraps a Source and a CommandSink, adding http.Handler
// functionality.
type Handler struct {
	src  Source
	sink gpd.CommandSink
	r    *mux.Router
	log  zerolog.Logger

	authUser string
	authHash []byte
}

func NewHandler(src Source, sink gpd.CommandSink, log zerolog.Logger) *Handler {
	r := mux.NewRouter()
	h := &Handler{src: src, sink: sink, r: r, log: log}
	r.HandleFunc("/status", h.getStatus).Methods("GET")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	r.HandleFunc("/reload", h.postCommand(gpd.CmdReload)).Methods("POST")
	r.HandleFunc("/stop", h.postStop).Methods("POST")
	r.HandleFunc("/scale/up", h.postCommand(gpd.CmdScaleUp)).Methods("POST")
	r.HandleFunc("/scale/down", h.postCommand(gpd.CmdScaleDown)).Methods("POST")
	r.NotFoundHandler = http.HandlerFunc(h.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.notFound)
	return h
}

// SetAuth requires HTTP basic authentication on every request, checked
// against the given user and bcrypt password hash.
func (h *Handler) SetAuth(user string, hash []byte) {
	h.authUser = user
	h.authHash = hash
}

// SetMetrics mounts a metrics handler at /metrics.
func (h *Handler) SetMetrics(m http.Handler) {
	h.r.Handle("/metrics", m).Methods("GET")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if h.authHash != nil {
		user, pass, ok := req.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(h.authUser)) != 1 ||
			bcrypt.CompareHashAndPassword(h.authHash, []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="gpd-runtime"`)
			h.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}
	h.r.ServeHTTP(w, req)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	b, e := json.Marshal(v)
	if e != nil {
		h.writeError(w, http.StatusInternalServerError, e.Error())
		return
	}
	w.Header().Set("Content-Type", mimeJson)
	w.Write(b)
}

func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	b, e := json.Marshal(&ErrorBody{Error: msg})
	if e != nil {
		http.Error(w, msg, code)
		return
	}
	w.Header().Set("Content-Type", mimeJson)
	w.WriteHeader(code)
	w.Write(b)
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusNotFound, "not found")
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	etag := fmt.Sprintf("\"%d\"", h.src.Serial())
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	workers := h.src.Workers()
	status := &RuntimeStatus{
		AppFile:   h.src.AppFile(),
		StartTime: h.src.StartTime(),
		Workers:   make([]WorkerStatus, 0, len(workers)),
	}
	for _, wi := range workers {
		status.Workers = append(status.Workers, WorkerStatus{
			Id:        wi.ID,
			Pid:       wi.Pid,
			State:     wi.State.String(),
			StartTime: wi.StartTime,
		})
	}
	w.Header().Set("Etag", etag)
	h.writeJson(w, status)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	var last int64
	if v := r.URL.Query().Get("last"); v != "" {
		last, _ = strconv.ParseInt(v, 10, 64)
	}
	recs, id := h.src.Events(last)
	w.Header().Set("Etag", fmt.Sprintf("\"%d\"", id))
	if recs == nil {
		recs = []gpd.EventRecord{}
	}
	h.writeJson(w, recs)
}

func (h *Handler) postCommand(c gpd.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.sink == nil {
			h.writeError(w, http.StatusInternalServerError,
				"no command handler registered")
			return
		}
		h.log.Debug().Str("command", c.String()).Msg("Command forwarded")
		h.sink.Enqueue(c)
		h.writeJson(w, &Ack{Ok: true, Command: c.String()})
	}
}

// postStop acknowledges before shutdown begins; the command is
// enqueued shortly after the response is on the wire.
func (h *Handler) postStop(w http.ResponseWriter, r *http.Request) {
	if h.sink == nil {
		h.writeError(w, http.StatusInternalServerError,
			"no command handler registered")
		return
	}
	h.writeJson(w, &Ack{Ok: true, Command: gpd.CmdStop.String()})
	sink := h.sink
	time.AfterFunc(stopDelay, func() {
		sink.Enqueue(gpd.CmdStop)
	})
}

// ListenLoopback binds the control plane to the loopback interface.
// A port of zero picks an ephemeral one; Port reveals the choice so it
// can be published to the sidecar file.
func ListenLoopback(port int) (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
}

// Port returns the bound TCP port of a listener.
func Port(ln net.Listener) int {
	if a, ok := ln.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}
