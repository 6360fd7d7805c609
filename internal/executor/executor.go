// Package executor runs a single command on a remote session and streams its
// output, line by line, to local sinks.
package executor

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/specialistvlad/gridlaunch/internal/ctxlog"
	"github.com/specialistvlad/gridlaunch/internal/model"
	"github.com/specialistvlad/gridlaunch/internal/session"
	"golang.org/x/sync/errgroup"
)

// Request describes one remote invocation.
type Request struct {
	Command string
	Env     model.Environment
	// Stdin, when non-nil, is written to the remote standard input, which is
	// then closed.
	Stdin []byte
}

// Executor runs remote commands. It is safe for concurrent use; lines from
// different hosts never interleave within a line.
type Executor struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

// New creates an Executor writing remote standard output to stdout and
// remote standard error to stderr.
func New(stdout, stderr io.Writer) *Executor {
	return &Executor{stdout: stdout, stderr: stderr}
}

// Run starts req on sess with a pseudo-terminal and blocks until the remote
// command exits. A non-zero exit status is not an error. Canceling ctx kills
// the remote command.
func (e *Executor) Run(ctx context.Context, sess session.Session, req Request) (int, error) {
	host := sess.Host().String()
	logger := ctxlog.FromContext(ctx)

	proc, err := sess.Start(ctx, session.Command{Line: req.Command, Env: req.Env, PTY: true})
	if err != nil {
		return -1, err
	}

	stop := context.AfterFunc(ctx, func() {
		logger.Warn("Run canceled, killing remote command.", "host", host)
		if err := proc.Kill(); err != nil {
			logger.Debug("Kill failed.", "host", host, "error", err)
		}
	})
	defer stop()

	var g errgroup.Group
	if req.Stdin != nil {
		g.Go(func() error {
			stdin := proc.Stdin()
			if _, err := stdin.Write(req.Stdin); err != nil {
				logger.Warn("Failed to write remote stdin.", "host", host, "error", err)
			}
			if err := stdin.Close(); err != nil {
				logger.Debug("Failed to close remote stdin.", "host", host, "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return Drain(proc.Stdout(), e.emitter(e.stdout, "["+host+" STDOUT] "))
	})
	g.Go(func() error {
		return Drain(proc.Stderr(), e.emitter(e.stderr, "["+host+" STDERR] "))
	})
	drainErr := g.Wait()

	code, waitErr := proc.Wait()
	if ctx.Err() != nil {
		return code, ctx.Err()
	}
	if waitErr != nil {
		return code, fmt.Errorf("waiting for command on %s: %w", host, waitErr)
	}
	if drainErr != nil {
		return code, fmt.Errorf("reading output from %s: %w", host, drainErr)
	}
	return code, nil
}

func (e *Executor) emitter(w io.Writer, prefix string) func(string) error {
	return func(line string) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		_, err := io.WriteString(w, prefix+line+"\n")
		return err
	}
}
