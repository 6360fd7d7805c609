package app

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/specialistvlad/gridlaunch/internal/events"
	"github.com/specialistvlad/gridlaunch/internal/orchestrator"
	"github.com/specialistvlad/gridlaunch/internal/session"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW      io.Writer
	stdout    io.Writer
	stderr    io.Writer
	logger    *slog.Logger
	config    *Config
	dialer    session.Dialer
	publisher events.Publisher
	// selfName is the launcher's executable name, spared by the reaper.
	selfName string

	orch       atomic.Pointer[orchestrator.Orchestrator]
	httpServer *http.Server
}

// Option customizes an App.
type Option func(*App)

// WithDialer replaces the SSH transport, typically with an in-memory fleet.
func WithDialer(d session.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithRemoteOutput sets where remote standard output and standard error
// lines are written. By default they go to the App's output and os.Stderr.
func WithRemoteOutput(stdout, stderr io.Writer) Option {
	return func(a *App) { a.stdout, a.stderr = stdout, stderr }
}

// WithPublisher adds an event publisher next to the built-in ones.
func WithPublisher(p events.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// NewApp is the constructor for the main application. It returns an App
// with its own isolated logger writing to outW.
func NewApp(outW io.Writer, cfg *Config, opts ...Option) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	a := &App{
		outW:     outW,
		stdout:   outW,
		stderr:   os.Stderr,
		logger:   logger,
		config:   cfg,
		selfName: executableName(),
	}
	for _, opt := range opts {
		opt(a)
	}
	logger.Debug("Logger configured successfully.")
	return a
}

// executableName returns the base name this process was started as, which
// is how it appears in the remote process table when the launcher runs on
// one of the hosts.
func executableName() string {
	if len(os.Args) == 0 || os.Args[0] == "" {
		return orchestrator.DefaultSelfName
	}
	return filepath.Base(os.Args[0])
}
