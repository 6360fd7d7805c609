package app

import (
	"context"
	"fmt"

	"github.com/specialistvlad/gridlaunch/internal/ctxlog"
	"github.com/specialistvlad/gridlaunch/internal/distributor"
	"github.com/specialistvlad/gridlaunch/internal/events"
	"github.com/specialistvlad/gridlaunch/internal/executor"
	"github.com/specialistvlad/gridlaunch/internal/model"
	"github.com/specialistvlad/gridlaunch/internal/orchestrator"
	"github.com/specialistvlad/gridlaunch/internal/reaper"
	"github.com/specialistvlad/gridlaunch/internal/session"
	"github.com/specialistvlad/gridlaunch/internal/sshsession"
	"go.uber.org/multierr"
)

// Run executes one launch. It returns an error when the launch could not
// complete or when any host's training command failed.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")
	strategy := a.config.Strategy()

	if a.config.OnlyShowInstances {
		return strategy.Describe(a.outW)
	}

	dialer, err := a.newDialer(ctx)
	if err != nil {
		return err
	}
	publisher, closePublisher := a.newPublisher(ctx)
	defer closePublisher()

	plan, err := a.config.Plan()
	if err != nil {
		return err
	}

	exec := executor.New(a.stdout, a.stderr)
	orch := orchestrator.New(orchestrator.Options{
		Dialer:      dialer,
		Runner:      exec,
		Distributor: distributor.New(distributor.DefaultLimit),
		Reaper:      reaper.New(exec),
		RetryPolicy: a.config.RetryPolicy(),
		Publisher:   publisher,
		SelfName:    a.selfName,
	})
	a.orch.Store(orch)

	a.startHealthcheckServer(ctx)
	defer a.closeHealthcheckServer(ctx)

	report, err := orch.Run(ctx, plan, strategy)
	if err != nil {
		return fmt.Errorf("launch failed: %w", err)
	}
	return a.summarize(report)
}

func (a *App) newDialer(ctx context.Context) (session.Dialer, error) {
	if a.dialer != nil {
		return a.dialer, nil
	}
	d, err := sshsession.NewDialer(ctx, sshsession.Config{
		User:            a.config.SSHUser,
		KeyFile:         a.config.SSHKeyFile,
		Port:            a.config.SSHPort,
		Timeout:         a.config.ConnectTimeout,
		HTTPProxy:       a.config.HTTPProxy,
		KnownHostsFiles: a.config.KnownHosts,
		StrictHostKeys:  a.config.StrictHostKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure SSH: %w", err)
	}
	return d, nil
}

// newPublisher always logs events and, when configured, relays them to a
// socket.io server. An unreachable server only costs a warning.
func (a *App) newPublisher(ctx context.Context) (events.Publisher, func()) {
	pubs := events.Multi{events.Log{}}
	if a.publisher != nil {
		pubs = append(pubs, a.publisher)
	}
	if a.config.EventsURL == "" {
		return pubs, func() {}
	}

	relay, err := events.DialSocketIO(ctx, events.SocketIOConfig{
		URL:       a.config.EventsURL,
		Namespace: a.config.EventsNamespace,
	})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Events server unavailable, continuing without it.", "error", err)
		return pubs, func() {}
	}
	return append(pubs, relay), func() {
		if n := relay.Dropped(); n > 0 {
			ctxlog.FromContext(ctx).Warn("Some events were not delivered.", "dropped", n)
		}
		_ = relay.Close()
	}
}

func (a *App) summarize(report *model.Report) error {
	failed := report.Failed()
	for _, s := range report.Statuses() {
		a.logger.Debug("Host finished.", "host", s.Assignment.Host.String(), "rank", s.Assignment.Rank,
			"exit_code", s.ExitCode, "reaped", s.Reaped, "after_reap", s.AfterReap)
	}
	if len(failed) == 0 {
		a.logger.Info("🏁 All hosts finished successfully.", "hosts", len(report.Statuses()))
		return nil
	}

	var errs error
	for _, s := range failed {
		err := s.Err
		if s.AfterReap {
			a.logger.Warn("Host failed after the reaper ran.", "host", s.Assignment.Host.String(),
				"rank", s.Assignment.Rank, "exit_code", s.ExitCode, "reaped", true)
			err = fmt.Errorf("%w (ended after reaping)", err)
		}
		errs = multierr.Append(errs, err)
	}
	return fmt.Errorf("%d of %d host(s) failed: %w", len(failed), len(report.Statuses()), errs)
}
