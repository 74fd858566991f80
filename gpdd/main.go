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

// Command gpdd supervises a pool of worker processes running a user
// supplied network application.  It uses subcommands.
//
// Subcommands are
//
//	start <appFile>  - run the supervisor (foreground, or --daemon)
//	reload           - roll the pool over to a new generation
//	stop             - gracefully stop the running master
//	status           - print the runtime status
//	monitor          - interactive terminal status monitor
//
// The start flags are
//
//	--workers N          - pool size (default GPDD_WORKERS, else CPUs)
//	--ready-url U        - URL probed for worker readiness
//	--health-url U       - URL probed for pool liveness
//	--health-interval MS - liveness probe cadence
//	--health-threshold N - consecutive failures before a reload
//	--listen ADDR        - bind ADDR once and share it with workers
//	--ipc-port P         - fixed loopback control port (0 = ephemeral)
//	--daemon             - detach and log to gpdd.log
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	gpd "github.com/aschulz-kairox/git-push-deploy-daemon"
	"github.com/aschulz-kairox/git-push-deploy-daemon/config"
	"github.com/aschulz-kairox/git-push-deploy-daemon/gpdd/ui"
	"github.com/aschulz-kairox/git-push-deploy-daemon/health"
	"github.com/aschulz-kairox/git-push-deploy-daemon/ipc"
)

const stopWait = 30 * time.Second

func usage() {
	fmt.Fprintf(os.Stderr,
		"Usage: %s <start|reload|stop|status|monitor> [options]\n",
		os.Args[0])
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "start":
		cmdStart(os.Args[2:])
	case "reload":
		cmdReload()
	case "stop":
		cmdStop()
	case "status":
		cmdStatus()
	case "monitor":
		cmdMonitor()
	default:
		usage()
	}
}

func cmdStart(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	workers := fs.Int("workers", 0, "pool size")
	readyURL := fs.String("ready-url", "", "readiness probe URL")
	healthURL := fs.String("health-url", "", "liveness probe URL")
	healthInterval := fs.Int("health-interval", 0, "liveness probe interval (ms)")
	healthThreshold := fs.Int("health-threshold", 0, "liveness failures before reload")
	listen := fs.String("listen", "", "shared listening address")
	ipcPort := fs.Int("ipc-port", -1, "loopback control port")
	daemon := fs.Bool("daemon", false, "run detached")
	configFile := fs.String("config", "", "config file path")
	fs.Parse(args)
	if fs.NArg() != 1 {
		usage()
	}
	appFile, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "gpdd: %v\n", err)
		os.Exit(1)
	}

	if *daemon {
		if err := daemonize(); err != nil {
			fmt.Fprintf(os.Stderr, "gpdd: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gpdd: %v\n", err)
		os.Exit(1)
	}
	// Flags beat file and environment.
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *readyURL != "" {
		cfg.ReadyURL = *readyURL
	}
	if *healthURL != "" {
		cfg.HealthURL = *healthURL
	}
	if *healthInterval > 0 {
		cfg.HealthInterval = *healthInterval
	}
	if *healthThreshold > 0 {
		cfg.HealthThreshold = *healthThreshold
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *ipcPort >= 0 {
		cfg.IpcPort = *ipcPort
	}

	os.Exit(runMaster(appFile, cfg))
}

func runMaster(appFile string, cfg *config.Config) int {
	events := gpd.NewEventLog()
	logger := newLogger(cfg, events)

	// Bind the control plane before forking anything; a bind failure
	// is fatal at startup.
	ln, err := ipc.ListenLoopback(cfg.IpcPort)
	if err != nil {
		logger.Error().Err(err).Msg("IPC bind failed")
		return 1
	}

	opts := append(cfg.SupervisorOptions(),
		gpd.WithLogger(logger),
		gpd.WithEventLog(events))
	s := gpd.New(appFile, opts...)
	if err := s.Start(); err != nil {
		ln.Close()
		logger.Error().Err(err).Msg("Startup failed")
		return 1
	}
	if err := s.Lock().WritePort(ipc.Port(ln)); err != nil {
		logger.Warn().Err(err).Msg("Cannot publish IPC port sidecar")
	}

	h := ipc.NewHandler(s, s, logger)
	h.SetMetrics(s.Metrics().Handler())
	if cfg.AuthFile != "" {
		if user, hash, err := loadAuthFile(cfg.AuthFile); err != nil {
			logger.Warn().Err(err).Msg("Ignoring unusable auth file")
		} else {
			h.SetAuth(user, hash)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		gpd.WatchSignals(ctx, s, logger)
		return nil
	})
	srv := &http.Server{Handler: h}
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Msg("IPC server stopped")
		}
		return nil
	})
	if cfg.HealthURL != "" {
		mon := health.NewMonitor(cfg.HealthURL,
			time.Duration(cfg.HealthInterval)*time.Millisecond,
			cfg.HealthThreshold, s, logger)
		g.Go(func() error {
			mon.Run(ctx)
			return nil
		})
	}

	runErr := s.Run()
	cancel()
	srv.Close()
	g.Wait()
	if runErr != nil {
		logger.Error().Err(runErr).Msg("Supervisor exited with failure")
		return 1
	}
	return 0
}

func newLogger(cfg *config.Config, events *gpd.EventLog) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out zerolog.LevelWriter
	if cfg.LogFormat == "json" {
		out = zerolog.MultiLevelWriter(os.Stderr, events)
	} else {
		cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		out = zerolog.MultiLevelWriter(cw, events)
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// loadAuthFile parses a "user:bcrypt-hash" credential file.
func loadAuthFile(path string) (string, []byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	parts := strings.SplitN(strings.TrimSpace(string(b)), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", nil, fmt.Errorf("auth file %s: want user:bcrypt-hash", path)
	}
	return parts[0], []byte(parts[1]), nil
}

// daemonize re-executes the supervisor detached, with standard I/O
// redirected to a log file.  The supervisor itself has no notion of
// detachment; this thin launcher is the only place that knows about it.
func daemonize() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	logf, err := os.OpenFile("gpdd.log",
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer logf.Close()

	args := make([]string, 0, len(os.Args)-1)
	for _, a := range os.Args[1:] {
		if a == "--daemon" || a == "-daemon" {
			continue
		}
		args = append(args, a)
	}
	cmd := exec.Command(exe, args...)
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	fmt.Printf("gpdd: master started, pid %d\n", cmd.Process.Pid)
	return nil
}

func cmdReload() {
	if c, err := ipc.NewClientForDir("."); err == nil {
		if err := c.Reload(); err != nil {
			fmt.Fprintf(os.Stderr, "gpdd: reload failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	// IPC unavailable; fall back to the hangup signal.
	pid, err := gpd.ReadPidFile(".")
	if err != nil || !gpd.PidAlive(pid) {
		fmt.Fprintln(os.Stderr, "gpdd: no running instance")
		os.Exit(1)
	}
	if err := unix.Kill(pid, unix.SIGHUP); err != nil {
		fmt.Fprintf(os.Stderr, "gpdd: signal failed: %v\n", err)
		os.Exit(1)
	}
}

func cmdStop() {
	pid, perr := gpd.ReadPidFile(".")
	if c, err := ipc.NewClientForDir("."); err == nil {
		if err := c.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "gpdd: stop failed: %v\n", err)
			os.Exit(1)
		}
	} else if perr == nil && gpd.PidAlive(pid) {
		if err := unix.Kill(pid, unix.SIGTERM); err != nil {
			fmt.Fprintf(os.Stderr, "gpdd: signal failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Fprintln(os.Stderr, "gpdd: no running instance")
		os.Exit(1)
	}
	if perr != nil {
		// Nothing to wait on without a pid.
		return
	}
	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		if !gpd.PidAlive(pid) {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "gpdd: master did not exit; killing")
	unix.Kill(pid, unix.SIGKILL)
	os.Exit(1)
}

func cmdStatus() {
	c, err := ipc.NewClientForDir(".")
	if err != nil {
		fmt.Println("no running instance")
		return
	}
	st, err := c.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gpdd: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s (up %s)\n", st.AppFile, formatDuration(time.Since(st.StartTime)))
	fmt.Printf("%5s %8s %10s %10s\n", "ID", "PID", "STATE", "UPTIME")
	for _, w := range st.Workers {
		fmt.Printf("%5d %8d %10s %10s\n", w.Id, w.Pid, w.State,
			formatDuration(time.Since(w.StartTime)))
	}
}

func cmdMonitor() {
	c, err := ipc.NewClientForDir(".")
	if err != nil {
		fmt.Fprintln(os.Stderr, "gpdd: no running instance")
		os.Exit(1)
	}
	if err := ui.Run(c); err != nil {
		fmt.Fprintf(os.Stderr, "gpdd: %v\n", err)
		os.Exit(1)
	}
}

func formatDuration(d time.Duration) string {
	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)
	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}
