// Package events publishes launch lifecycle events to observers: the log, a
// socket.io dashboard, or nothing at all.
package events

import (
	"context"
	"time"

	"github.com/specialistvlad/gridlaunch/internal/ctxlog"
)

// Kind names an event.
type Kind string

const (
	KindPhase       Kind = "phase"
	KindHostStarted Kind = "host_started"
	KindHostExited  Kind = "host_exited"
	KindReap        Kind = "reap"
	KindRunFinished Kind = "run_finished"
)

// Event is one lifecycle notification. Zero fields are omitted from Data.
type Event struct {
	Kind Kind
	// Run identifies the launch; it is the remote directory name.
	Run      string
	Phase    string
	Host     string
	Rank     int
	ExitCode int
	Error    string
	Time     time.Time
}

// Data renders the event as the payload sent to remote observers.
func (e Event) Data() map[string]any {
	d := map[string]any{
		"kind": string(e.Kind),
		"run":  e.Run,
		"time": e.Time.UTC().Format(time.RFC3339Nano),
	}
	if e.Phase != "" {
		d["phase"] = e.Phase
	}
	if e.Host != "" {
		d["host"] = e.Host
		d["rank"] = e.Rank
	}
	if e.Kind == KindHostExited || e.Kind == KindReap {
		d["exit_code"] = e.ExitCode
	}
	if e.Error != "" {
		d["error"] = e.Error
	}
	return d
}

// Publisher receives events. Implementations must be safe for concurrent
// use and must not block the launch.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Log writes every event to the context logger at debug level.
type Log struct{}

func (Log) Publish(ctx context.Context, e Event) {
	args := make([]any, 0, 2*8)
	for k, v := range e.Data() {
		args = append(args, k, v)
	}
	ctxlog.FromContext(ctx).Debug("Event published.", args...)
}

// Multi fans events out to several publishers.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		p.Publish(ctx, e)
	}
}
