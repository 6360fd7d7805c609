package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/specialistvlad/gridlaunch/internal/app"
	"github.com/specialistvlad/gridlaunch/internal/launchfile"
	"github.com/specialistvlad/gridlaunch/internal/model"
	"github.com/specialistvlad/gridlaunch/internal/session"
	"github.com/specialistvlad/gridlaunch/internal/sshsession"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

const usage = `
gridlaunch - launch a single-machine training script on a fleet of hosts over SSH.

Usage:
  gridlaunch [options] TRAINING_SCRIPT [SCRIPT_ARGS...]

Arguments:
  TRAINING_SCRIPT
    Local path of the training program. It is copied to every host and run
    there with SCRIPT_ARGS. Options must come before it.

Options:
`

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	fs := flag.NewFlagSet("gridlaunch", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, usage)
		fs.PrintDefaults()
	}

	var f flags
	f.register(fs)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if len(args) == 0 {
		fs.Usage()
		return nil, true, nil
	}

	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	if set["master_port"] && f.masterPort == 0 {
		return nil, false, &ExitError{Code: 2, Message: (&app.ConfigError{Field: "master_port", Message: "0 is not a TCP port"}).Error()}
	}

	cfg := f.config(fs.Args())
	if f.configPath != "" {
		file, err := launchfile.Load(context.Background(), f.configPath)
		if err != nil {
			return nil, false, &ExitError{Code: 2, Message: err.Error()}
		}
		applyLaunchFile(&cfg, file, set, fs.NArg() > 0)
	}
	for _, v := range f.env.Vars() {
		cfg.ExtraEnv.Set(v.Name, v.Value)
	}
	slog.Debug("Arguments parsed successfully.", "script", cfg.Script)

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.")
	return config, false, nil
}

// flags holds the raw flag values.
type flags struct {
	instances         string
	ps                string
	worker            string
	masterPort        int
	sshKeyFile        string
	sshUser           string
	sshPort           int
	httpProxy         string
	auxFiles          string
	prepareCmd        string
	interpreter       string
	onlyShowInstances bool
	strictHostKeys    bool
	knownHosts        string
	connectAttempts   int
	connectInterval   time.Duration
	connectTimeout    time.Duration
	configPath        string
	env               model.Environment
	eventsURL         string
	eventsNamespace   string
	logLevel          string
	logFormat         string
	healthcheckPort   int
}

func (f *flags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.instances, "instances", "", "Comma-separated hosts for the master/worker topology. The first one is the master.")
	fs.StringVar(&f.ps, "ps", "", "Comma-separated parameter servers, each 'host' or 'host:port'.")
	fs.StringVar(&f.worker, "worker", "", "Comma-separated workers, each 'host' or 'host:port'.")
	fs.IntVar(&f.masterPort, "master_port", app.DefaultMasterPort, "Rendezvous port on the master host.")
	fs.StringVar(&f.sshKeyFile, "ssh_key_file", "", "Path to the private key used to authenticate on every host.")
	fs.StringVar(&f.sshUser, "ssh_user", sshsession.DefaultUser, "Remote user name.")
	fs.IntVar(&f.sshPort, "ssh_port", sshsession.DefaultPort, "SSH port on every host.")
	fs.StringVar(&f.httpProxy, "http_proxy", "", "Forward proxy 'host:port' used to reach the hosts with HTTP CONNECT.")
	fs.StringVar(&f.auxFiles, "aux_files", "", "Comma-separated extra files copied next to the script. Basenames must be distinct.")
	fs.StringVar(&f.prepareCmd, "prepare_cmd", "", "Shell command run on every host before the script, e.g. to set up an environment.")
	fs.StringVar(&f.interpreter, "interpreter", "python", "Program that runs the script. Empty runs the script directly.")
	fs.BoolVar(&f.onlyShowInstances, "only_show_instances", false, "Print the hosts and their roles, then exit without connecting.")
	fs.BoolVar(&f.strictHostKeys, "strict_host_keys", false, "Refuse hosts whose key is not in a known_hosts file.")
	fs.StringVar(&f.knownHosts, "known_hosts", "", "Comma-separated known_hosts files. Defaults to the user and system files.")
	fs.IntVar(&f.connectAttempts, "connect_attempts", session.DefaultAttempts, "Connection attempts per host.")
	fs.DurationVar(&f.connectInterval, "connect_interval", session.DefaultInterval, "Pause between connection attempts.")
	fs.DurationVar(&f.connectTimeout, "connect_timeout", sshsession.DefaultTimeout, "Timeout of a single connection attempt.")
	fs.StringVar(&f.configPath, "config", "", "HCL launch file providing defaults. Flags given explicitly win.")
	fs.Func("env", "Extra 'NAME=value' exported on every host. Repeatable.", func(s string) error {
		name, value, ok := strings.Cut(s, "=")
		if !ok || name == "" {
			return fmt.Errorf("expected NAME=value, got %q", s)
		}
		f.env.Set(name, value)
		return nil
	})
	fs.StringVar(&f.eventsURL, "events-url", "", "socket.io server receiving lifecycle events, e.g. http://dash:3000/socket.io/.")
	fs.StringVar(&f.eventsNamespace, "events-namespace", "/", "socket.io namespace for lifecycle events.")
	fs.StringVar(&f.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	fs.StringVar(&f.logFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	fs.IntVar(&f.healthcheckPort, "healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
}

func (f *flags) config(rest []string) app.Config {
	cfg := app.Config{
		Instances:         f.instances,
		PS:                f.ps,
		Workers:           f.worker,
		AuxFiles:          splitList(f.auxFiles),
		PrepareCmd:        f.prepareCmd,
		Interpreter:       f.interpreter,
		MasterPort:        f.masterPort,
		SSHUser:           f.sshUser,
		SSHKeyFile:        f.sshKeyFile,
		SSHPort:           f.sshPort,
		HTTPProxy:         f.httpProxy,
		ConnectAttempts:   f.connectAttempts,
		ConnectInterval:   f.connectInterval,
		ConnectTimeout:    f.connectTimeout,
		StrictHostKeys:    f.strictHostKeys,
		KnownHosts:        splitList(f.knownHosts),
		OnlyShowInstances: f.onlyShowInstances,
		EventsURL:         f.eventsURL,
		EventsNamespace:   f.eventsNamespace,
		LogFormat:         strings.ToLower(f.logFormat),
		LogLevel:          strings.ToLower(f.logLevel),
		HealthcheckPort:   f.healthcheckPort,
	}
	if len(rest) > 0 {
		cfg.Script = rest[0]
		cfg.ScriptArgs = rest[1:]
	}
	return cfg
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
