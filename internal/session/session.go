// Package session defines the narrow contract the launcher needs from a
// remote-shell transport: open a connection to one host, start commands on
// it, push files through it and close it. The SSH implementation lives in
// package sshsession; tests use an in-memory one.
package session

import (
	"context"
	"io"

	"github.com/specialistvlad/gridlaunch/internal/model"
)

// Dialer opens a single connection attempt to a host. Retrying is the job of
// Connect, not of the Dialer.
type Dialer interface {
	Dial(ctx context.Context, host model.Host) (Session, error)
}

// Session represents one live remote-shell connection to one host.
type Session interface {
	Host() model.Host
	// Start runs a command and returns its streams. The caller must drain
	// Stdout and Stderr and then call Wait.
	Start(ctx context.Context, cmd Command) (Process, error)
	// OpenFileChannel opens a file transfer channel on this connection.
	OpenFileChannel() (FileChannel, error)
	// Close releases the connection. It is safe to call more than once.
	Close() error
	// Closed reports whether Close has been called.
	Closed() bool
}

// Command describes one remote invocation.
type Command struct {
	Line string
	// Env is offered to the remote side as session variables. Servers are
	// free to refuse them, so Line must not depend on them.
	Env model.Environment
	// PTY requests a pseudo-terminal.
	PTY bool
}

// Process is a command started on a Session.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the remote command exits and returns its exit
	// status. A status of -1 means none was reported.
	Wait() (int, error)
	// Kill asks the remote side to terminate the command and tears down its
	// channel.
	Kill() error
}

// FileChannel transfers files to the remote host.
type FileChannel interface {
	// Put copies the local file to remotePath and returns the bytes written.
	Put(localPath, remotePath string) (int64, error)
	Close() error
}
