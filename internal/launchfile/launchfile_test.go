package launchfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullFile = `
cluster {
  ps      = ["ps0:2222"]
  workers = ["w0", "w1"]
}

ssh {
  user             = "trainer"
  key_file         = "${env.HOME}/.ssh/train.pem"
  port             = 2200
  http_proxy       = "fwdproxy:8080"
  connect_attempts = 5
  connect_interval = "2s"
  connect_timeout  = "30s"
  strict_host_keys = true
  known_hosts      = ["/etc/ssh/cluster_known_hosts"]
}

launch {
  script      = "train.py"
  args        = ["--epochs", "3"]
  master_port = 1234
  aux_files   = ["vocab.txt"]
  prepare_cmd = "source venv/bin/activate"
  interpreter = "python3"
  environment = {
    ZETA       = "last"
    NCCL_DEBUG = "INFO"
  }
}

events {
  url       = "http://dash:3000/socket.io/"
  namespace = "/launches"
}
`

func TestParse_Full(t *testing.T) {
	t.Parallel()

	// --- Act ---
	cfg, err := Parse([]byte(fullFile), "launch.hcl", map[string]string{"HOME": "/home/me"})

	// --- Assert ---
	require.NoError(t, err)
	assert.Empty(t, cfg.Instances)
	assert.Equal(t, []string{"ps0:2222"}, cfg.PS)
	assert.Equal(t, []string{"w0", "w1"}, cfg.Workers)
	assert.Equal(t, "trainer", cfg.SSHUser)
	assert.Equal(t, "/home/me/.ssh/train.pem", cfg.SSHKeyFile)
	assert.Equal(t, 2200, cfg.SSHPort)
	assert.Equal(t, "fwdproxy:8080", cfg.HTTPProxy)
	assert.Equal(t, 5, cfg.ConnectAttempts)
	require.NotNil(t, cfg.ConnectInterval)
	assert.Equal(t, 2*time.Second, *cfg.ConnectInterval)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.True(t, cfg.StrictHostKeys)
	assert.Equal(t, []string{"/etc/ssh/cluster_known_hosts"}, cfg.KnownHosts)
	assert.Equal(t, "train.py", cfg.Script)
	assert.Equal(t, []string{"--epochs", "3"}, cfg.ScriptArgs)
	assert.Equal(t, 1234, cfg.MasterPort)
	assert.Equal(t, []string{"vocab.txt"}, cfg.AuxFiles)
	assert.Equal(t, "source venv/bin/activate", cfg.PrepareCmd)
	require.NotNil(t, cfg.Interpreter)
	assert.Equal(t, "python3", *cfg.Interpreter)
	assert.Equal(t, "export NCCL_DEBUG=INFO; export ZETA=last", cfg.Environment.Exports(), "environment is sorted by name")
	assert.Equal(t, "http://dash:3000/socket.io/", cfg.EventsURL)
	assert.Equal(t, "/launches", cfg.EventsNamespace)
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(""), "empty.hcl", nil)

	require.NoError(t, err)
	assert.Nil(t, cfg.Interpreter)
	assert.Zero(t, cfg.Environment.Len())
	assert.Zero(t, cfg.SSHPort)
}

func TestParse_EmptyInterpreterIsKept(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`launch { interpreter = "" }`), "x.hcl", nil)

	require.NoError(t, err)
	require.NotNil(t, cfg.Interpreter)
	assert.Empty(t, *cfg.Interpreter)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		src     string
		wantErr string
	}{
		{name: "syntax", src: `cluster {`, wantErr: "failed to parse"},
		{name: "unknown block", src: `nodes {}`, wantErr: "failed to decode"},
		{name: "unknown attribute", src: `ssh { password = "x" }`, wantErr: "failed to decode"},
		{name: "wrong type", src: `launch { master_port = "high" }`, wantErr: "failed to decode"},
		{name: "missing env var", src: `ssh { user = env.NOPE }`, wantErr: "failed to decode"},
		{name: "bad duration", src: `ssh { connect_interval = "soon" }`, wantErr: "ssh.connect_interval"},
		{name: "negative duration", src: `ssh { connect_timeout = "-1s" }`, wantErr: "negative"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(tc.src), "bad.hcl", map[string]string{"HOME": "/h"})

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("GRIDLAUNCH_TEST_USER", "from-env")
	path := filepath.Join(t.TempDir(), "launch.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`ssh { user = env.GRIDLAUNCH_TEST_USER }`), 0o644))

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.SSHUser)

	_, err = Load(context.Background(), filepath.Join(t.TempDir(), "missing.hcl"))
	require.ErrorContains(t, err, "failed to read launch file")
}
