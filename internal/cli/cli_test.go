package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/specialistvlad/gridlaunch/internal/app"
	"github.com/specialistvlad/gridlaunch/internal/roles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Plain(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	args := []string{
		"--instances", "10.0.0.1,10.0.0.2",
		"--ssh_key_file", "/keys/id",
		"--aux_files", "vocab.txt, data.csv",
		"--env", "NCCL_DEBUG=INFO",
		"-connect_interval", "1s",
		"train.py", "--epochs", "3", "--instances", "not-ours",
	}
	var out bytes.Buffer

	// --- Act ---
	cfg, exit, err := Parse(args, &out)

	// --- Assert ---
	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, "train.py", cfg.Script)
	assert.Equal(t, []string{"--epochs", "3", "--instances", "not-ours"}, cfg.ScriptArgs, "flags after the script belong to it")
	assert.Equal(t, []string{"vocab.txt", "data.csv"}, cfg.AuxFiles)
	assert.Equal(t, "python", cfg.Interpreter)
	assert.Equal(t, 29500, cfg.MasterPort)
	assert.Equal(t, "ubuntu", cfg.SSHUser)
	assert.Equal(t, time.Second, cfg.ConnectInterval)
	assert.Equal(t, 20, cfg.ConnectAttempts)
	assert.Equal(t, map[string]string{"NCCL_DEBUG": "INFO"}, cfg.ExtraEnv.Map())
	assert.IsType(t, &roles.Plain{}, cfg.Strategy())
}

func TestParse_ParameterServer(t *testing.T) {
	t.Parallel()

	cfg, _, err := Parse([]string{"--ps", "ps0:2222", "--worker", "w0,w1", "--ssh_key_file", "k", "--only_show_instances", "train.py"}, &bytes.Buffer{})

	require.NoError(t, err)
	assert.True(t, cfg.OnlyShowInstances)
	assert.IsType(t, &roles.ParameterServer{}, cfg.Strategy())
}

func TestParse_Help(t *testing.T) {
	t.Parallel()

	for _, args := range [][]string{{"-h"}, {}} {
		var out bytes.Buffer
		cfg, exit, err := Parse(args, &out)

		require.NoError(t, err)
		assert.True(t, exit)
		assert.Nil(t, cfg)
		assert.Contains(t, out.String(), "Usage:")
		assert.Contains(t, out.String(), "-ssh_key_file")
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "unknown flag", args: []string{"--nope"}, wantErr: "flag provided but not defined: -nope"},
		{name: "missing script", args: []string{"--instances", "a", "--ssh_key_file", "k"}, wantErr: "training script is required"},
		{name: "both topologies", args: []string{"--instances", "a", "--worker", "b", "--ssh_key_file", "k", "t.py"}, wantErr: "cannot be combined"},
		{name: "bad env", args: []string{"--env", "NOVALUE", "t.py"}, wantErr: "expected NAME=value"},
		{name: "bad log level", args: []string{"--instances", "a", "--ssh_key_file", "k", "--log-level", "loud", "t.py"}, wantErr: "log-level"},
		{name: "missing launch file", args: []string{"--config", "/does/not/exist.hcl", "t.py"}, wantErr: "failed to read launch file"},
		{name: "zero master port", args: []string{"--instances", "a", "--ssh_key_file", "k", "--master_port", "0", "t.py"}, wantErr: "invalid master_port"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := Parse(tc.args, &bytes.Buffer{})

			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tc.wantErr)
		})
	}
}

func TestParse_LaunchFile(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	path := filepath.Join(t.TempDir(), "launch.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
cluster {
  instances = ["a", "b", "c"]
}
ssh {
  user     = "trainer"
  key_file = "/keys/cluster"
  port     = 2200
}
launch {
  script      = "train.py"
  args        = ["--from-file"]
  master_port = 1234
  interpreter = ""
  environment = { FROM_FILE = "1", SHARED = "file" }
}
`), 0o644))

	testCases := []struct {
		name   string
		args   []string
		assert func(t *testing.T, cfg *app.Config)
	}{
		{
			name: "file only",
			args: []string{"--config", path},
			assert: func(t *testing.T, cfg *app.Config) {
				assert.Equal(t, "train.py", cfg.Script)
				assert.Equal(t, []string{"--from-file"}, cfg.ScriptArgs)
				assert.Equal(t, "trainer", cfg.SSHUser)
				assert.Equal(t, 2200, cfg.SSHPort)
				assert.Equal(t, 3, len(cfg.Strategy().Hosts()))
				assert.Equal(t, map[string]string{"FROM_FILE": "1", "SHARED": "file"}, cfg.ExtraEnv.Map())
				assert.Empty(t, cfg.Interpreter)
			},
		},
		{
			name: "flags win",
			args: []string{"--config", path, "--ssh_user", "root", "--instances", "x", "--interpreter", "python3", "--env", "SHARED=flag", "other.py", "--x"},
			assert: func(t *testing.T, cfg *app.Config) {
				assert.Equal(t, "other.py", cfg.Script)
				assert.Equal(t, []string{"--x"}, cfg.ScriptArgs)
				assert.Equal(t, "root", cfg.SSHUser)
				assert.Equal(t, 2200, cfg.SSHPort)
				assert.Equal(t, 1, len(cfg.Strategy().Hosts()))
				assert.Equal(t, map[string]string{"FROM_FILE": "1", "SHARED": "flag"}, cfg.ExtraEnv.Map())
				assert.Equal(t, "python3", cfg.Interpreter)
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, _, err := Parse(tc.args, &bytes.Buffer{})

			require.NoError(t, err)
			assert.Equal(t, 1234, cfg.MasterPort)
			assert.Equal(t, "/keys/cluster", cfg.SSHKeyFile)
			tc.assert(t, cfg)
		})
	}
}

func TestParse_ZeroConnectInterval(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	path := filepath.Join(t.TempDir(), "launch.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
ssh {
  connect_interval = "0s"
}
`), 0o644))

	testCases := []struct {
		name string
		args []string
	}{
		{name: "flag", args: []string{"--instances", "a", "--ssh_key_file", "k", "--connect_interval", "0", "t.py"}},
		{name: "launch file", args: []string{"--config", path, "--instances", "a", "--ssh_key_file", "k", "t.py"}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// --- Act ---
			cfg, _, err := Parse(tc.args, &bytes.Buffer{})

			// --- Assert ---
			require.NoError(t, err)
			assert.Zero(t, cfg.RetryPolicy().Interval, "an explicit zero retries without pausing")
		})
	}
}
