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

// Package probe implements the single-shot transport probe used for
// readiness and liveness detection.  A probe succeeds as soon as any
// HTTP-level response is obtained, no matter its status code; the
// response body is never interpreted.  There is no retry at this level;
// periodic scheduling belongs to the health package.
package probe

import (
	"crypto/tls"
	"io"
	"net/http"
	"time"
)

// Result is the outcome of one probe.  Err is non-nil only on a
// transport-level failure; an HTTP error status still populates Status
// and leaves Err nil.
type Result struct {
	Status  int
	Latency time.Duration
	Err     error
}

// Reachable reports whether any HTTP-level response was obtained.
func (r Result) Reachable() bool {
	return r.Err == nil
}

// Do issues one GET against url, bounded by timeout.  Self-signed
// server certificates are accepted; probe targets are local-host by
// construction.
func Do(url string, timeout time.Duration) Result {
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	start := time.Now()
	res, err := client.Get(url)
	latency := time.Since(start)
	if err != nil {
		return Result{Latency: latency, Err: err}
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
	return Result{Status: res.StatusCode, Latency: latency}
}
