// Package launchfile reads an optional HCL file holding launch defaults, so
// a cluster and its SSH settings need not be retyped on every invocation.
//
// Example:
//
//	cluster {
//	  instances = ["10.0.0.1", "10.0.0.2"]
//	}
//
//	ssh {
//	  user     = "ubuntu"
//	  key_file = "${env.HOME}/.ssh/train.pem"
//	}
//
//	launch {
//	  master_port = 29500
//	  aux_files   = ["vocab.txt"]
//	  environment = {
//	    NCCL_DEBUG = "INFO"
//	  }
//	}
//
// Expressions can read the local environment through the env object.
package launchfile

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/gridlaunch/internal/ctxlog"
	"github.com/specialistvlad/gridlaunch/internal/model"
	"github.com/zclconf/go-cty/cty"
)

// Config is the decoded launch file. Zero values mean "not set".
type Config struct {
	Instances []string
	PS        []string
	Workers   []string

	SSHUser         string
	SSHKeyFile      string
	SSHPort         int
	HTTPProxy       string
	ConnectAttempts int
	// ConnectInterval is nil when unset; zero retries without pausing.
	ConnectInterval *time.Duration
	ConnectTimeout  time.Duration
	StrictHostKeys  bool
	KnownHosts      []string

	Script      string
	ScriptArgs  []string
	MasterPort  int
	AuxFiles    []string
	PrepareCmd  string
	// Interpreter is nil when unset; an empty string runs the script
	// directly.
	Interpreter *string
	Environment model.Environment

	EventsURL       string
	EventsNamespace string
}

type hclFile struct {
	Cluster *hclCluster `hcl:"cluster,block"`
	SSH     *hclSSH     `hcl:"ssh,block"`
	Launch  *hclLaunch  `hcl:"launch,block"`
	Events  *hclEvents  `hcl:"events,block"`
}

type hclCluster struct {
	Instances []string `hcl:"instances,optional"`
	PS        []string `hcl:"ps,optional"`
	Workers   []string `hcl:"workers,optional"`
}

type hclSSH struct {
	User            string   `hcl:"user,optional"`
	KeyFile         string   `hcl:"key_file,optional"`
	Port            int      `hcl:"port,optional"`
	HTTPProxy       string   `hcl:"http_proxy,optional"`
	ConnectAttempts int      `hcl:"connect_attempts,optional"`
	ConnectInterval string   `hcl:"connect_interval,optional"`
	ConnectTimeout  string   `hcl:"connect_timeout,optional"`
	StrictHostKeys  bool     `hcl:"strict_host_keys,optional"`
	KnownHosts      []string `hcl:"known_hosts,optional"`
}

type hclLaunch struct {
	Script      string            `hcl:"script,optional"`
	Args        []string          `hcl:"args,optional"`
	MasterPort  int               `hcl:"master_port,optional"`
	AuxFiles    []string          `hcl:"aux_files,optional"`
	PrepareCmd  string            `hcl:"prepare_cmd,optional"`
	Interpreter *string           `hcl:"interpreter,optional"`
	Environment map[string]string `hcl:"environment,optional"`
}

type hclEvents struct {
	URL       string `hcl:"url,optional"`
	Namespace string `hcl:"namespace,optional"`
}

// Load reads and decodes the launch file at path, exposing the process
// environment to its expressions.
func Load(ctx context.Context, path string) (*Config, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading launch file.", "path", path)

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read launch file: %w", err)
	}
	cfg, err := Parse(src, path, environ())
	if err != nil {
		return nil, err
	}
	logger.Debug("Loaded launch file.", "path", path, "instances", len(cfg.Instances), "ps", len(cfg.PS), "workers", len(cfg.Workers))
	return cfg, nil
}

// Parse decodes src. filename is used in diagnostics; env backs the env
// object available to expressions.
func Parse(src []byte, filename string, env map[string]string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse launch file %s: %w", filename, diags)
	}

	var raw hclFile
	diags = gohcl.DecodeBody(file.Body, evalContext(env), &raw)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode launch file %s: %w", filename, diags)
	}
	return raw.config(filename)
}

func (f *hclFile) config(filename string) (*Config, error) {
	cfg := &Config{}
	if c := f.Cluster; c != nil {
		cfg.Instances, cfg.PS, cfg.Workers = c.Instances, c.PS, c.Workers
	}
	if s := f.SSH; s != nil {
		cfg.SSHUser = s.User
		cfg.SSHKeyFile = s.KeyFile
		cfg.SSHPort = s.Port
		cfg.HTTPProxy = s.HTTPProxy
		cfg.ConnectAttempts = s.ConnectAttempts
		cfg.StrictHostKeys = s.StrictHostKeys
		cfg.KnownHosts = s.KnownHosts

		if s.ConnectInterval != "" {
			d, err := parseDuration(s.ConnectInterval)
			if err != nil {
				return nil, fmt.Errorf("%s: ssh.connect_interval: %w", filename, err)
			}
			cfg.ConnectInterval = &d
		}
		var err error
		if cfg.ConnectTimeout, err = parseDuration(s.ConnectTimeout); err != nil {
			return nil, fmt.Errorf("%s: ssh.connect_timeout: %w", filename, err)
		}
	}
	if l := f.Launch; l != nil {
		cfg.Script = l.Script
		cfg.ScriptArgs = l.Args
		cfg.MasterPort = l.MasterPort
		cfg.AuxFiles = l.AuxFiles
		cfg.PrepareCmd = l.PrepareCmd
		cfg.Interpreter = l.Interpreter

		names := make([]string, 0, len(l.Environment))
		for name := range l.Environment {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			cfg.Environment.Set(name, l.Environment[name])
		}
	}
	if e := f.Events; e != nil {
		cfg.EventsURL, cfg.EventsNamespace = e.URL, e.Namespace
	}
	return cfg, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q is negative", s)
	}
	return d, nil
}

func evalContext(env map[string]string) *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(env))
	for k, v := range env {
		vars[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vars),
		},
	}
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = v
		}
	}
	return env
}
