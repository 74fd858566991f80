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
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Tokens exchanged on the worker message channel.  The child announces
// TokenReady once its accept loop is up; the master requests a graceful
// drain with TokenShutdown.
const (
	TokenReady    = "ready"
	TokenShutdown = "shutdown"
)

// File descriptor numbers the child finds its inherited pipes on, also
// advertised through the environment so applications need not hardcode
// them.
const (
	channelFd = 3 // child writes tokens here
	controlFd = 4 // child reads tokens here
	listenFd  = 5 // shared listening socket, when configured
)

// LaunchSpec describes one worker process to create.
type LaunchSpec struct {
	// AppFile is the resolved path of the worker binary.
	AppFile string

	// Listener is the shared listening socket to inherit, or nil when
	// workers bind their own address with reuse.
	Listener *os.File

	// Logger receives the worker's stdout and stderr, line by line.
	Logger zerolog.Logger
}

// Process is the handle the supervisor holds on a live worker.  The
// supervisor is the only caller of Wait, and calls it exactly once.
type Process interface {
	Pid() int

	// Messages yields tokens the child writes on its channel fd.  The
	// channel is closed when the child closes its end or exits.
	Messages() <-chan string

	// Send writes a token on the child's control fd.
	Send(token string) error

	// CloseControl closes the master side of the control fd, which the
	// child observes as EOF.  This is the disconnect request: no new
	// work should be dispatched to the worker afterwards.
	CloseControl() error

	Signal(sig os.Signal) error
	Kill() error

	// Wait blocks until the process exits and returns its exit error.
	Wait() error
}

// Launcher creates worker processes.  Tests substitute a fake; the
// default is ExecLauncher.
type Launcher func(spec LaunchSpec) (Process, error)

type execProcess struct {
	cmd  *exec.Cmd
	msgR *os.File
	ctlW *os.File
	msgs chan string

	ctlMx   sync.Mutex
	ctlDone bool
}

// ExecLauncher forks a real operating system process for the worker,
// wiring up the token pipes and the optional inherited listener.
func ExecLauncher(spec LaunchSpec) (Process, error) {
	msgR, msgW, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "creating message pipe")
	}
	ctlR, ctlW, err := os.Pipe()
	if err != nil {
		msgR.Close()
		msgW.Close()
		return nil, errors.Wrap(err, "creating control pipe")
	}

	cmd := exec.Command(spec.AppFile)
	cmd.ExtraFiles = []*os.File{msgW, ctlR}
	env := append(os.Environ(),
		fmt.Sprintf("GPDD_CHANNEL_FD=%d", channelFd),
		fmt.Sprintf("GPDD_CONTROL_FD=%d", controlFd))
	if spec.Listener != nil {
		cmd.ExtraFiles = append(cmd.ExtraFiles, spec.Listener)
		env = append(env, fmt.Sprintf("GPDD_LISTEN_FD=%d", listenFd))
	}
	cmd.Env = env

	if stdout, e := cmd.StdoutPipe(); e != nil {
		spec.Logger.Warn().Err(e).Msg("Failed to capture stdout")
	} else {
		go pumpOutput(stdout, spec.Logger, "stdout> ")
	}
	if stderr, e := cmd.StderrPipe(); e != nil {
		spec.Logger.Warn().Err(e).Msg("Failed to capture stderr")
	} else {
		go pumpOutput(stderr, spec.Logger, "stderr> ")
	}

	if err := cmd.Start(); err != nil {
		msgR.Close()
		msgW.Close()
		ctlR.Close()
		ctlW.Close()
		return nil, errors.Wrapf(err, "starting %s", spec.AppFile)
	}

	// The child owns its ends now.
	msgW.Close()
	ctlR.Close()

	p := &execProcess{
		cmd:  cmd,
		msgR: msgR,
		ctlW: ctlW,
		msgs: make(chan string, 8),
	}
	go p.readMessages()
	return p, nil
}

// pumpOutput gathers a worker output stream in chunks of lines.
func pumpOutput(r io.ReadCloser, log zerolog.Logger, prefix string) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) != 0 {
			log.Info().Msg(prefix + strings.Trim(line, "\n"))
		}
		if err != nil {
			return
		}
	}
}

func (p *execProcess) readMessages() {
	defer close(p.msgs)
	defer p.msgR.Close()
	scanner := bufio.NewScanner(p.msgR)
	for scanner.Scan() {
		tok := strings.TrimSpace(scanner.Text())
		if tok != "" {
			p.msgs <- tok
		}
	}
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Messages() <-chan string {
	return p.msgs
}

func (p *execProcess) Send(token string) error {
	p.ctlMx.Lock()
	defer p.ctlMx.Unlock()
	if p.ctlDone {
		return errors.New("control channel closed")
	}
	_, err := fmt.Fprintln(p.ctlW, token)
	return err
}

func (p *execProcess) CloseControl() error {
	p.ctlMx.Lock()
	defer p.ctlMx.Unlock()
	if p.ctlDone {
		return nil
	}
	p.ctlDone = true
	return p.ctlW.Close()
}

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}
