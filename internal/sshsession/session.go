package sshsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/sftp"
	"github.com/specialistvlad/gridlaunch/internal/model"
	"github.com/specialistvlad/gridlaunch/internal/session"
	"golang.org/x/crypto/ssh"
)

// terminalModes disables echo so stdin data is not mirrored into stdout.
var terminalModes = ssh.TerminalModes{
	ssh.ECHO:          0,
	ssh.TTY_OP_ISPEED: 14400,
	ssh.TTY_OP_OSPEED: 14400,
}

type sshSession struct {
	host   model.Host
	client *ssh.Client
	logger *slog.Logger

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

var _ session.Session = (*sshSession)(nil)

func newSession(host model.Host, client *ssh.Client, logger *slog.Logger) *sshSession {
	return &sshSession{host: host, client: client, logger: logger}
}

func (s *sshSession) Host() model.Host { return s.host }

func (s *sshSession) Start(ctx context.Context, cmd session.Command) (session.Process, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("session to %s is closed", s.host)
	}
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("opening channel on %s: %w", s.host, err)
	}

	for _, v := range cmd.Env.Vars() {
		if err := sess.Setenv(v.Name, v.Value); err != nil {
			// sshd only accepts names listed in AcceptEnv; the command line
			// exports everything anyway.
			s.logger.Debug("Remote refused session environment, relying on exports.", "name", v.Name)
			break
		}
	}

	if cmd.PTY {
		if err := sess.RequestPty("xterm", 40, 200, terminalModes); err != nil {
			sess.Close()
			return nil, fmt.Errorf("requesting pty on %s: %w", s.host, err)
		}
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, err
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		sess.Close()
		return nil, err
	}

	if err := sess.Start(cmd.Line); err != nil {
		sess.Close()
		return nil, fmt.Errorf("starting command on %s: %w", s.host, err)
	}
	return &process{sess: sess, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

func (s *sshSession) OpenFileChannel() (session.FileChannel, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("session to %s is closed", s.host)
	}
	c, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, fmt.Errorf("opening sftp channel on %s: %w", s.host, err)
	}
	return &sftpChannel{client: c}, nil
}

func (s *sshSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.client.Close()
		s.logger.Debug("SSH connection closed.")
	})
	return s.closeErr
}

func (s *sshSession) Closed() bool { return s.closed.Load() }

type process struct {
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
}

func (p *process) Stdin() io.WriteCloser { return p.stdin }
func (p *process) Stdout() io.Reader     { return p.stdout }
func (p *process) Stderr() io.Reader     { return p.stderr }

func (p *process) Wait() (int, error) {
	err := p.sess.Wait()
	p.sess.Close()
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return -1, nil
	}
	return -1, err
}

func (p *process) Kill() error {
	// Not every server honors signals; closing the channel hangs up the
	// pty, which ends the remote process group.
	_ = p.sess.Signal(ssh.SIGKILL)
	err := p.sess.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type sftpChannel struct {
	client *sftp.Client
}

func (c *sftpChannel) Put(localPath, remotePath string) (int64, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, err
	}

	dst, err := c.client.Create(remotePath)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", remotePath, err)
	}
	n, err := dst.ReadFrom(src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("writing %s: %w", remotePath, err)
	}
	if err := c.client.Chmod(remotePath, info.Mode().Perm()); err != nil {
		return n, fmt.Errorf("setting mode on %s: %w", remotePath, err)
	}
	return n, nil
}

func (c *sftpChannel) Close() error {
	return c.client.Close()
}
