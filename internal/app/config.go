package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/specialistvlad/gridlaunch/internal/model"
	"github.com/specialistvlad/gridlaunch/internal/roles"
	"github.com/specialistvlad/gridlaunch/internal/session"
	"github.com/specialistvlad/gridlaunch/internal/sshsession"
)

// DefaultMasterPort is the rendezvous port used when none is configured.
const DefaultMasterPort = 29500

// ConfigError reports invalid configuration detected before any remote
// contact.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Config holds everything needed for one launch.
type Config struct {
	// Instances is the plain topology's comma-separated host list. It
	// excludes PS and Workers.
	Instances string
	// PS and Workers describe the parameter-server topology.
	PS      string
	Workers string

	Script     string
	ScriptArgs []string
	AuxFiles   []string
	PrepareCmd string
	// Interpreter prefixes the script; empty runs it directly.
	Interpreter string
	MasterPort  int
	ExtraEnv    model.Environment

	SSHUser         string
	SSHKeyFile      string
	SSHPort         int
	HTTPProxy       string
	ConnectAttempts int
	// ConnectInterval is the pause between attempts. Zero retries
	// immediately.
	ConnectInterval time.Duration
	ConnectTimeout  time.Duration
	StrictHostKeys  bool
	KnownHosts      []string

	OnlyShowInstances bool

	EventsURL       string
	EventsNamespace string

	LogFormat       string
	LogLevel        string
	HealthcheckPort int

	strategy roles.Strategy
}

// NewConfig validates cfg, fills defaults and resolves the role topology.
func NewConfig(cfg Config) (*Config, error) {
	if strings.TrimSpace(cfg.Script) == "" {
		return nil, &ConfigError{Field: "training_script", Message: "a training script is required"}
	}

	strategy, err := buildStrategy(cfg.Instances, cfg.PS, cfg.Workers)
	if err != nil {
		return nil, err
	}
	cfg.strategy = strategy

	if cfg.MasterPort == 0 {
		cfg.MasterPort = DefaultMasterPort
	}
	if cfg.MasterPort < 1 || cfg.MasterPort > 65535 {
		return nil, &ConfigError{Field: "master_port", Message: fmt.Sprintf("%d is not a TCP port", cfg.MasterPort)}
	}
	if cfg.SSHPort == 0 {
		cfg.SSHPort = sshsession.DefaultPort
	}
	if cfg.SSHPort < 1 || cfg.SSHPort > 65535 {
		return nil, &ConfigError{Field: "ssh_port", Message: fmt.Sprintf("%d is not a TCP port", cfg.SSHPort)}
	}
	if cfg.SSHUser == "" {
		cfg.SSHUser = sshsession.DefaultUser
	}
	if cfg.SSHKeyFile == "" && !cfg.OnlyShowInstances {
		return nil, &ConfigError{Field: "ssh_key_file", Message: "an SSH private key is required"}
	}
	if cfg.ConnectAttempts == 0 {
		cfg.ConnectAttempts = session.DefaultAttempts
	}
	if cfg.ConnectAttempts < 1 {
		return nil, &ConfigError{Field: "connect_attempts", Message: "must be at least 1"}
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = sshsession.DefaultTimeout
	}
	if cfg.ConnectInterval < 0 || cfg.ConnectTimeout < 0 {
		return nil, &ConfigError{Field: "connect_interval", Message: "durations must not be negative"}
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, &ConfigError{Field: "healthcheck-port", Message: fmt.Sprintf("%d is not a TCP port", cfg.HealthcheckPort)}
	}

	switch cfg.LogFormat {
	case "":
		cfg.LogFormat = "text"
	case "text", "json":
	default:
		return nil, &ConfigError{Field: "log-format", Message: "must be 'text' or 'json'"}
	}
	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return nil, &ConfigError{Field: "log-level", Message: "must be 'debug', 'info', 'warn', or 'error'"}
	}

	return &cfg, nil
}

// Strategy returns the role topology resolved by NewConfig.
func (c *Config) Strategy() roles.Strategy { return c.strategy }

// RetryPolicy returns the connection retry settings.
func (c *Config) RetryPolicy() session.RetryPolicy {
	return session.RetryPolicy{Attempts: c.ConnectAttempts, Interval: c.ConnectInterval}
}

// Plan builds the RunPlan for this configuration.
func (c *Config) Plan() (*model.RunPlan, error) {
	return model.NewRunPlan(model.PlanInput{
		Hosts:       c.strategy.Hosts(),
		Script:      c.Script,
		AuxFiles:    c.AuxFiles,
		PrepareCmd:  c.PrepareCmd,
		Interpreter: c.Interpreter,
		ScriptArgs:  c.ScriptArgs,
		MasterPort:  c.MasterPort,
		ExtraEnv:    c.ExtraEnv,
	})
}

func buildStrategy(instances, ps, workers string) (roles.Strategy, error) {
	plain := strings.TrimSpace(instances) != ""
	psMode := strings.TrimSpace(ps) != "" || strings.TrimSpace(workers) != ""

	switch {
	case plain && psMode:
		return nil, &ConfigError{Message: "--instances cannot be combined with --ps or --worker"}
	case plain:
		hosts, err := parseHosts("instances", instances)
		if err != nil {
			return nil, err
		}
		s, err := roles.NewPlain(hosts)
		if err != nil {
			return nil, &ConfigError{Field: "instances", Message: err.Error()}
		}
		return s, nil
	case psMode:
		psHosts, err := parseHosts("ps", ps)
		if err != nil {
			return nil, err
		}
		workerHosts, err := parseHosts("worker", workers)
		if err != nil {
			return nil, err
		}
		s, err := roles.NewParameterServer(psHosts, workerHosts)
		if err != nil {
			return nil, &ConfigError{Field: "worker", Message: err.Error()}
		}
		return s, nil
	default:
		return nil, &ConfigError{Message: "either --instances or --worker is required"}
	}
}

func parseHosts(field, list string) ([]model.Host, error) {
	hosts, err := model.ParseHostList(list)
	if err != nil {
		return nil, &ConfigError{Field: field, Message: err.Error()}
	}
	return hosts, nil
}
