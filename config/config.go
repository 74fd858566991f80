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

// Package config resolves supervisor settings from three layers, each
// overriding the previous one: built-in defaults, an optional YAML
// file, and the GPDD_* environment.  Durations are expressed in
// milliseconds throughout, matching the environment contract.
package config

import (
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"

	gpd "github.com/aschulz-kairox/git-push-deploy-daemon"
)

// DefaultConfigPaths lists where a config file is searched when no
// explicit path is given.  The first file found wins.
var DefaultConfigPaths = []string{
	"gpd-runtime.yaml",
	"gpd-runtime.yml",
}

// envPrefix is stripped from environment variables; GPDD_GRACE_TIMEOUT
// becomes the key grace_timeout.
const envPrefix = "GPDD_"

// Config is the flat settings document.
type Config struct {
	Workers         int    `koanf:"workers"`
	GraceTimeout    int    `koanf:"grace_timeout"`
	ReadyTimeout    int    `koanf:"ready_timeout"`
	ReadyPoll       int    `koanf:"ready_poll_interval"`
	ReadyURL        string `koanf:"ready_url"`
	HealthURL       string `koanf:"health_url"`
	HealthInterval  int    `koanf:"health_interval"`
	HealthThreshold int    `koanf:"health_threshold"`
	IpcPort         int    `koanf:"ipc_port"`
	Listen          string `koanf:"listen"`
	AuthFile        string `koanf:"auth_file"`
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
}

func defaultConfig() *Config {
	return &Config{
		Workers:         runtime.NumCPU(),
		GraceTimeout:    int(gpd.DefaultGraceTimeout / time.Millisecond),
		ReadyTimeout:    int(gpd.DefaultReadyTimeout / time.Millisecond),
		ReadyPoll:       int(gpd.DefaultReadyPollInterval / time.Millisecond),
		HealthInterval:  10000,
		HealthThreshold: 3,
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// Load resolves the configuration.  path may be empty, in which case
// the default locations are probed and finding none is not an error.
// An explicit path that is missing, or any malformed file, is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, errors.Wrap(err, "loading defaults")
	}

	if path == "" {
		for _, p := range DefaultConfigPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "loading config file %s", path)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, errors.Wrap(err, "loading environment")
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}
	if cfg.Workers < 1 {
		cfg.Workers = runtime.NumCPU()
	}
	return cfg, nil
}

// SupervisorOptions translates the settings into supervisor options.
func (c *Config) SupervisorOptions() []gpd.Option {
	return []gpd.Option{
		gpd.WithWorkers(c.Workers),
		gpd.WithGraceTimeout(time.Duration(c.GraceTimeout) * time.Millisecond),
		gpd.WithReadyTimeout(time.Duration(c.ReadyTimeout) * time.Millisecond),
		gpd.WithReadyPollInterval(time.Duration(c.ReadyPoll) * time.Millisecond),
		gpd.WithReadyURL(c.ReadyURL),
		gpd.WithListenAddr(c.Listen),
	}
}
