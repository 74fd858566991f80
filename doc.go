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

// Package gpd implements the process supervisor at the heart of the
// git-push-deploy runtime.  It runs a user supplied network application
// as a pool of identical worker processes, and orchestrates their
// lifecycle so that a running service can be reloaded, scaled and
// monitored without dropping in-flight client connections.
//
// The master process owns the pool.  It spawns workers, observes their
// readiness and death, serializes lifecycle transitions (rolling reload,
// scale up/down, graceful shutdown), and exposes a small control plane
// over a loopback HTTP socket (see the ipc package).
//
// Workers communicate with the master over two inherited pipes carrying
// newline delimited tokens: the child announces "ready" on the fd named
// by GPDD_CHANNEL_FD once its accept loop is up, and is asked to drain
// by the token "shutdown" arriving on the fd named by GPDD_CONTROL_FD.
// Readiness may alternatively be detected by probing a configured URL;
// any HTTP-level response, including a 4xx or 5xx, counts.
//
// When GPDD_LISTEN is configured the master binds the listening socket
// once and every worker inherits it (fd named by GPDD_LISTEN_FD), so
// overlapping worker generations accept from a single kernel queue and
// no connections are dropped during a reload window.
package gpd
