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
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Command is one lifecycle request on the control plane.  Signals, IPC
// requests and internal collaborators all funnel into the same ordered
// stream; handlers never mutate supervisor state directly.
type Command int

const (
	CmdReload Command = iota
	CmdStop
	CmdScaleUp
	CmdScaleDown
)

func (c Command) String() string {
	switch c {
	case CmdReload:
		return "reload"
	case CmdStop:
		return "stop"
	case CmdScaleUp:
		return "scale-up"
	case CmdScaleDown:
		return "scale-down"
	}
	return "unknown"
}

// CommandSink accepts lifecycle commands.  The Supervisor implements
// it; the IPC surface and the health monitor consume it.
type CommandSink interface {
	Enqueue(c Command)
}

// WatchSignals maps host signals onto the command stream: hangup
// requests a reload, terminate and interrupt request a shutdown.  It
// returns when ctx is done.
func WatchSignals(ctx context.Context, sink CommandSink, log zerolog.Logger) {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, unix.SIGHUP, unix.SIGTERM, unix.SIGINT)
	defer signal.Stop(sigs)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			var c Command
			switch sig {
			case unix.SIGHUP:
				c = CmdReload
			case unix.SIGTERM, unix.SIGINT:
				c = CmdStop
			default:
				continue
			}
			log.Info().Str("signal", sig.String()).
				Str("command", c.String()).
				Msg("Signal received")
			sink.Enqueue(c)
		}
	}
}
