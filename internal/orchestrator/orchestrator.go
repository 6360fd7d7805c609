// Package orchestrator drives a launch through its phases: connect, prepare,
// distribute, finalize, launch and the cleanup that always follows.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/specialistvlad/gridlaunch/internal/ctxlog"
	"github.com/specialistvlad/gridlaunch/internal/events"
	"github.com/specialistvlad/gridlaunch/internal/executor"
	"github.com/specialistvlad/gridlaunch/internal/fsutil"
	"github.com/specialistvlad/gridlaunch/internal/model"
	"github.com/specialistvlad/gridlaunch/internal/roles"
	"github.com/specialistvlad/gridlaunch/internal/session"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Defaults for Options.
const (
	DefaultCleanupTimeout = 2 * time.Minute
	DefaultSelfName       = "gridlaunch"
)

// Runner runs one remote command to completion.
type Runner interface {
	Run(ctx context.Context, sess session.Session, req executor.Request) (int, error)
}

// Distributor uploads files to every session.
type Distributor interface {
	Distribute(ctx context.Context, sessions []session.Session, files []string, remoteDir string) error
}

// Reaper kills leftover training processes.
type Reaper interface {
	Reap(ctx context.Context, sessions []session.Session, script, self string) int
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Dialer      session.Dialer
	Runner      Runner
	Distributor Distributor
	Reaper      Reaper
	RetryPolicy session.RetryPolicy
	// Publisher receives lifecycle events. nil means none.
	Publisher events.Publisher
	// CleanupTimeout bounds cleanup, which runs even after cancellation.
	CleanupTimeout time.Duration
	// SelfName is the launcher's executable name, excluded from the
	// reaper's kill pattern. Defaults to DefaultSelfName.
	SelfName string
}

// Orchestrator runs launches. A single Orchestrator runs one launch at a
// time.
type Orchestrator struct {
	opts  Options
	phase atomic.Int32
}

// New returns an Orchestrator, filling unset options with defaults.
func New(opts Options) *Orchestrator {
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = DefaultCleanupTimeout
	}
	if opts.SelfName == "" {
		opts.SelfName = DefaultSelfName
	}
	if opts.RetryPolicy.Attempts <= 0 {
		opts.RetryPolicy = session.DefaultRetryPolicy()
	}
	return &Orchestrator{opts: opts}
}

// CurrentPhase returns the phase of the launch in progress.
func (o *Orchestrator) CurrentPhase() model.Phase {
	return model.Phase(o.phase.Load())
}

// run holds the state of one launch.
type run struct {
	o           *Orchestrator
	plan        *model.RunPlan
	strategy    roles.Strategy
	assignments []model.Assignment
	sessions    []session.Session
	report      *model.Report
	cleanup     cleanupStack
}

// Run executes plan with strategy. The returned report lists the outcome of
// every launched host; per-host failures are recorded there and are not
// returned as an error. Cleanup always runs before Run returns, and its
// failures are combined into the returned error.
func (o *Orchestrator) Run(ctx context.Context, plan *model.RunPlan, strategy roles.Strategy) (report *model.Report, err error) {
	ctx, logger := ctxlog.WithAttrs(ctx, "run", plan.RemoteDir)
	r := &run{
		o:           o,
		plan:        plan,
		strategy:    strategy,
		assignments: strategy.Assign(),
		report:      &model.Report{},
	}

	if err := fsutil.CheckFiles(plan.Script, plan.AuxFiles); err != nil {
		return r.report, err
	}

	logger.Info("🚀 Starting launch.", "topology", strategy.Name(), "hosts", len(r.assignments), "script", plan.ScriptBase)
	defer func() {
		r.setPhase(ctx, model.PhaseCleanup)
		if cerr := r.runCleanup(ctx); cerr != nil {
			logger.Error("Cleanup finished with errors.", "error", cerr)
			err = multierr.Append(err, fmt.Errorf("cleanup: %w", cerr))
		}
		r.setPhase(ctx, model.PhaseDone)
		r.publish(ctx, events.Event{Kind: events.KindRunFinished, Error: errString(err)})
	}()

	if err := r.connect(ctx); err != nil {
		return r.report, err
	}
	if err := r.prepare(ctx); err != nil {
		return r.report, err
	}
	r.setPhase(ctx, model.PhaseDistribute)
	if err := o.opts.Distributor.Distribute(ctx, r.sessions, plan.Files(), plan.RemoteDir); err != nil {
		return r.report, err
	}
	if err := r.finalize(ctx); err != nil {
		return r.report, err
	}
	if err := r.launch(ctx); err != nil {
		return r.report, err
	}

	if failed := r.report.Failed(); len(failed) > 0 {
		logger.Warn("Launch finished with failed hosts.", "failed", len(failed))
	} else {
		logger.Info("✅ Launch finished.")
	}
	return r.report, nil
}

// connect opens one session per host, in launch order.
func (r *run) connect(ctx context.Context) error {
	r.setPhase(ctx, model.PhaseConnect)
	for _, a := range r.assignments {
		sess, err := session.Connect(ctx, r.o.opts.Dialer, a.Host, r.o.opts.RetryPolicy)
		if err != nil {
			return err
		}
		r.sessions = append(r.sessions, sess)
		r.cleanup.push("close "+a.Host.String(), func(context.Context) error {
			if err := sess.Close(); err != nil {
				return fmt.Errorf("closing session to %s: %w", sess.Host(), err)
			}
			return nil
		})
	}
	return nil
}

func (r *run) prepare(ctx context.Context) error {
	r.setPhase(ctx, model.PhasePrepare)

	var mu sync.Mutex
	prepared := make([]session.Session, 0, len(r.sessions))
	r.cleanup.push("remove "+r.plan.RemoteDir, func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		return r.removeRemoteDir(ctx, prepared)
	})

	return r.onEveryHost(ctx, model.PhasePrepare, func(sess session.Session) []string {
		mu.Lock()
		prepared = append(prepared, sess)
		mu.Unlock()
		return []string{"mkdir -p " + model.ShellQuote(r.plan.RemoteDir)}
	})
}

func (r *run) finalize(ctx context.Context) error {
	r.setPhase(ctx, model.PhaseFinalize)
	return r.onEveryHost(ctx, model.PhaseFinalize, func(session.Session) []string {
		return []string{
			"chmod +x " + model.ShellQuote(r.plan.RemoteScript()),
			"ls -al " + model.ShellQuote(r.plan.RemoteDir),
		}
	})
}

// onEveryHost runs the commands returned by cmds in order on every host,
// all hosts concurrently. Any failure or non-zero exit is a *PhaseError.
func (r *run) onEveryHost(ctx context.Context, phase model.Phase, cmds func(session.Session) []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sess := range r.sessions {
		sess := sess
		g.Go(func() error {
			for _, cmd := range cmds(sess) {
				code, err := r.o.opts.Runner.Run(gctx, sess, executor.Request{Command: cmd})
				if err != nil || code != 0 {
					return &PhaseError{Phase: phase, Host: sess.Host(), Command: cmd, ExitCode: code, Err: err}
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// launch starts the training command on every host and waits for all of
// them. When the strategy names a host whose completion ends the run, the
// reaper runs as soon as that host finishes.
func (r *run) launch(ctx context.Context) error {
	r.setPhase(ctx, model.PhaseLaunch)
	logger := ctxlog.FromContext(ctx)

	trigger := make(chan struct{})
	hasTrigger := false
	for _, a := range r.assignments {
		if r.strategy.TriggersReap(a) {
			hasTrigger = true
		}
	}

	// The trigger host always closes trigger when its command ends, so the
	// reaper goroutine cannot outlive the launch.
	reaped := make(chan struct{})
	go func() {
		defer close(reaped)
		if !hasTrigger {
			return
		}
		<-trigger
		ctxlog.FromContext(ctx).Info("🏁 First worker finished, reaping the remaining processes.")
		r.report.MarkReaped()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.opts.CleanupTimeout)
		defer cancel()
		failed := r.o.opts.Reaper.Reap(rctx, r.sessions, r.plan.ScriptBase, r.o.opts.SelfName)
		r.publish(ctx, events.Event{Kind: events.KindReap, ExitCode: failed})
	}()

	var g errgroup.Group
	g.SetLimit(len(r.sessions))
	for i, a := range r.assignments {
		a, sess := a, r.sessions[i]
		g.Go(func() error {
			hctx, hlog := ctxlog.WithAttrs(ctx, "host", a.Host.String(), "rank", a.Rank)
			line := roles.CommandLine(r.plan, r.strategy, a)
			hlog.Info("▶️ Run command.", "command", line)
			r.publish(hctx, events.Event{Kind: events.KindHostStarted, Host: a.Host.String(), Rank: a.Rank})

			code, err := r.o.opts.Runner.Run(hctx, sess, executor.Request{
				Command: line,
				Env:     r.strategy.Environment(r.plan, a),
			})
			status := model.HostStatus{Assignment: a, ExitCode: code, AfterReap: r.report.Reaped()}
			if err != nil || code != 0 {
				status.Err = &RemoteCommandError{Host: a.Host, Rank: a.Rank, ExitCode: code, Err: err}
			}
			if r.strategy.Reapable(a) && status.AfterReap {
				status.Reaped = true
			}
			r.report.Add(status)

			switch {
			case status.Reaped:
				hlog.Info("Command ended by reaper.", "exit_code", code)
			case status.Failed():
				hlog.Error("Command failed.", "exit_code", code, "after_reap", status.AfterReap, "error", status.Err)
			default:
				hlog.Info("Command finished.", "exit_code", code)
			}
			r.publish(hctx, events.Event{
				Kind: events.KindHostExited, Host: a.Host.String(), Rank: a.Rank,
				ExitCode: code, Error: errString(status.Err),
			})

			if r.strategy.TriggersReap(a) {
				close(trigger)
			}
			return nil
		})
	}
	_ = g.Wait()
	<-reaped

	if ctx.Err() != nil {
		logger.Warn("Launch interrupted.", "error", ctx.Err())
		return fmt.Errorf("launch interrupted: %w", ctx.Err())
	}
	return nil
}

// removeRemoteDir deletes the run directory on every given host that is
// still connected.
func (r *run) removeRemoteDir(ctx context.Context, sessions []session.Session) error {
	logger := ctxlog.FromContext(ctx)
	cmd := "rm -rf " + model.ShellQuote(r.plan.RemoteDir)

	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	for _, sess := range sessions {
		sess := sess
		if sess.Closed() {
			continue
		}
		g.Go(func() error {
			code, err := r.o.opts.Runner.Run(ctx, sess, executor.Request{Command: cmd})
			if err == nil && code != 0 {
				err = fmt.Errorf("exited with status %d", code)
			}
			if err != nil {
				logger.Warn("Failed to remove remote directory.", "host", sess.Host().String(), "error", err)
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("removing %s on %s: %w", r.plan.RemoteDir, sess.Host(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (r *run) runCleanup(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.opts.CleanupTimeout)
	defer cancel()
	ctxlog.FromContext(ctx).Info("🧽 Cleaning up.", "sessions", len(r.sessions))
	return r.cleanup.run(cctx)
}

func (r *run) setPhase(ctx context.Context, p model.Phase) {
	r.o.phase.Store(int32(p))
	ctxlog.FromContext(ctx).Debug("Phase changed.", "phase", p.String())
	r.publish(ctx, events.Event{Kind: events.KindPhase, Phase: p.String()})
}

func (r *run) publish(ctx context.Context, e events.Event) {
	e.Run = r.plan.RemoteDir
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	r.o.opts.Publisher.Publish(ctx, e)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
