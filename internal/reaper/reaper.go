// Package reaper kills training processes left running on remote hosts once
// the run is over, such as parameter servers that never exit on their own.
package reaper

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/specialistvlad/gridlaunch/internal/ctxlog"
	"github.com/specialistvlad/gridlaunch/internal/executor"
	"github.com/specialistvlad/gridlaunch/internal/model"
	"github.com/specialistvlad/gridlaunch/internal/session"
	"golang.org/x/sync/errgroup"
)

// Runner runs one remote command and returns its exit status.
type Runner interface {
	Run(ctx context.Context, sess session.Session, req executor.Request) (int, error)
}

// Reaper runs the kill pipeline on every host.
type Reaper struct {
	runner Runner
}

// New returns a Reaper that uses runner for the remote commands.
func New(runner Runner) *Reaper {
	return &Reaper{runner: runner}
}

// Command returns the pipeline that kills every process whose command line
// mentions script as a word, except those mentioning self and the pipeline's
// own shell.
func Command(script, self string) string {
	return fmt.Sprintf(
		"ps -ef | grep -w %s | grep -v -w %s | awk -v me=$$ '$2 != me && $3 != me {print $2}' | xargs -r kill -9",
		model.ShellQuote(script), model.ShellQuote(self),
	)
}

// Reap runs Command concurrently on every session. It is best effort:
// failures are logged and counted, never returned.
func (r *Reaper) Reap(ctx context.Context, sessions []session.Session, script, self string) int {
	logger := ctxlog.FromContext(ctx)
	cmd := Command(script, self)
	logger.Info("🧹 Reaping remote processes.", "hosts", len(sessions), "script", script)

	var failed atomic.Int32
	var g errgroup.Group
	for _, sess := range sessions {
		sess := sess
		g.Go(func() error {
			host := sess.Host().String()
			code, err := r.runner.Run(ctx, sess, executor.Request{Command: cmd})
			switch {
			case err != nil:
				logger.Warn("Reap failed.", "host", host, "error", err)
				failed.Add(1)
			case code != 0:
				logger.Warn("Reap command exited non-zero.", "host", host, "exit_code", code)
				failed.Add(1)
			default:
				logger.Debug("Reaped.", "host", host)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(failed.Load())
	if n > 0 {
		logger.Warn("Reaping finished with failures.", "failed", n)
	}
	return n
}
