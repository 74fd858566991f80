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

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err) // explicit missing file is an error

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, 30000, cfg.GraceTimeout)
	assert.Equal(t, 10000, cfg.ReadyTimeout)
	assert.Equal(t, 500, cfg.ReadyPoll)
	assert.Equal(t, "", cfg.ReadyURL)
	assert.Equal(t, 0, cfg.IpcPort)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("GPDD_WORKERS", "5")
	t.Setenv("GPDD_GRACE_TIMEOUT", "1234")
	t.Setenv("GPDD_READY_URL", "http://127.0.0.1:8080/healthz")
	t.Setenv("GPDD_IPC_PORT", "9321")
	t.Setenv("GPDD_LISTEN", "0.0.0.0:8080")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Workers)
	assert.Equal(t, 1234, cfg.GraceTimeout)
	assert.Equal(t, "http://127.0.0.1:8080/healthz", cfg.ReadyURL)
	assert.Equal(t, 9321, cfg.IpcPort)
	assert.Equal(t, "0.0.0.0:8080", cfg.Listen)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpd-runtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"workers: 3\nready_timeout: 2500\nlog_format: json\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 2500, cfg.ReadyTimeout)
	assert.Equal(t, "json", cfg.LogFormat)
	// Untouched keys keep their defaults.
	assert.Equal(t, 30000, cfg.GraceTimeout)
}

func TestEnvironmentBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpd-runtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 3\n"), 0644))
	t.Setenv("GPDD_WORKERS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Workers)
}

func TestInvalidWorkersFallsBack(t *testing.T) {
	t.Setenv("GPDD_WORKERS", "0")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
}

func TestSupervisorOptions(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Len(t, cfg.SupervisorOptions(), 6)
}
