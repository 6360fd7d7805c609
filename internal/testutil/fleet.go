package testutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/specialistvlad/gridlaunch/internal/model"
	"github.com/specialistvlad/gridlaunch/internal/session"
)

// RunFunc simulates a remote command that is not one of the built-in shell
// commands understood by FakeHost. ctx is canceled when the process is
// killed. The returned value is the exit status.
type RunFunc func(ctx context.Context, cmd session.Command, stdin io.Reader, stdout, stderr io.Writer) int

// FakeFleet is an in-memory session.Dialer. Every address gets its own
// FakeHost, created on first use.
type FakeFleet struct {
	mu    sync.Mutex
	hosts map[string]*FakeHost
	dials map[string]int
	// DialFailures makes the first n dials of an address fail.
	DialFailures map[string]int
}

var _ session.Dialer = (*FakeFleet)(nil)

// NewFakeFleet returns an empty fleet.
func NewFakeFleet() *FakeFleet {
	return &FakeFleet{
		hosts:        make(map[string]*FakeHost),
		dials:        make(map[string]int),
		DialFailures: make(map[string]int),
	}
}

// Host returns the simulated machine for addr.
func (f *FakeFleet) Host(addr string) *FakeHost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hostLocked(addr)
}

func (f *FakeFleet) hostLocked(addr string) *FakeHost {
	h, ok := f.hosts[addr]
	if !ok {
		h = &FakeHost{
			Address: addr,
			dirs:    make(map[string]bool),
			files:   make(map[string][]byte),
			running: make(map[*fakeProcess]struct{}),
		}
		f.hosts[addr] = h
	}
	return h
}

// Dial implements session.Dialer.
func (f *FakeFleet) Dial(_ context.Context, host model.Host) (session.Session, error) {
	f.mu.Lock()
	f.dials[host.Address]++
	n := f.dials[host.Address]
	fh := f.hostLocked(host.Address)
	failures := f.DialFailures[host.Address]
	f.mu.Unlock()

	if n <= failures {
		return nil, fmt.Errorf("dial tcp %s:22: connect: connection refused", host.Address)
	}
	s := &FakeSession{host: host, fh: fh}
	fh.mu.Lock()
	fh.sessions = append(fh.sessions, s)
	fh.mu.Unlock()
	return s, nil
}

// Dials returns how many times addr was dialed.
func (f *FakeFleet) Dials(addr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials[addr]
}

// FakeHost simulates one remote machine: a flat file system and a shell that
// understands mkdir -p, rm -rf, chmod +x, ls -al and the reaper's kill
// pipeline. Everything else goes to Run.
type FakeHost struct {
	Address string
	// Run handles commands that are not built in. nil means exit 0.
	Run RunFunc
	// PutErr fails every upload to this host.
	PutErr error

	mu       sync.Mutex
	dirs     map[string]bool
	files    map[string][]byte
	commands []session.Command
	sessions []*FakeSession
	running  map[*fakeProcess]struct{}
}

// SetRun replaces the command handler.
func (h *FakeHost) SetRun(fn RunFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Run = fn
}

// SetPutErr makes uploads to this host fail.
func (h *FakeHost) SetPutErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.PutErr = err
}

// Mkdir creates dir as if mkdir -p had run.
func (h *FakeHost) Mkdir(dir string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dirs[dir] = true
}

// HasDir reports whether dir exists.
func (h *FakeHost) HasDir(dir string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dirs[dir]
}

// File returns the content of a remote file.
func (h *FakeHost) File(p string) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.files[p]
	return b, ok
}

// Commands returns every command started on this host.
func (h *FakeHost) Commands() []session.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]session.Command(nil), h.commands...)
}

// CommandLines returns the command lines started on this host.
func (h *FakeHost) CommandLines() []string {
	cmds := h.Commands()
	lines := make([]string, len(cmds))
	for i, c := range cmds {
		lines[i] = c.Line
	}
	return lines
}

// Sessions returns every session dialed to this host.
func (h *FakeHost) Sessions() []*FakeSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*FakeSession(nil), h.sessions...)
}

func (h *FakeHost) start(cmd session.Command) *fakeProcess {
	ctx, cancel := context.WithCancel(context.Background())
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	p := &fakeProcess{
		stdinW:  stdinW,
		stdoutR: stdoutR,
		stderrR: stderrR,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	h.commands = append(h.commands, cmd)
	h.running[p] = struct{}{}
	run := h.Run
	h.mu.Unlock()

	go func() {
		code := h.builtin(p, cmd, stdoutW, stderrW)
		if code < 0 && run != nil {
			code = run(ctx, cmd, stdinR, stdoutW, stderrW)
		} else if code < 0 {
			code = 0
		}
		stdoutW.Close()
		stderrW.Close()
		stdinR.Close()

		h.mu.Lock()
		delete(h.running, p)
		h.mu.Unlock()

		p.code = code
		close(p.done)
	}()
	return p
}

// builtin runs the shell commands the launcher itself issues. It returns -1
// for anything else.
func (h *FakeHost) builtin(self *fakeProcess, cmd session.Command, stdout, stderr io.Writer) int {
	line := cmd.Line
	switch {
	case strings.HasPrefix(line, "mkdir -p "):
		dir := strings.TrimPrefix(line, "mkdir -p ")
		h.mu.Lock()
		h.dirs[dir] = true
		h.mu.Unlock()
		return 0

	case strings.HasPrefix(line, "rm -rf "):
		dir := strings.TrimPrefix(line, "rm -rf ")
		h.mu.Lock()
		delete(h.dirs, dir)
		for p := range h.files {
			if strings.HasPrefix(p, dir+"/") {
				delete(h.files, p)
			}
		}
		h.mu.Unlock()
		return 0

	case strings.HasPrefix(line, "chmod +x "):
		p := strings.TrimPrefix(line, "chmod +x ")
		if _, ok := h.File(p); !ok {
			fmt.Fprintf(stderr, "chmod: cannot access '%s': No such file or directory\n", p)
			return 1
		}
		return 0

	case strings.HasPrefix(line, "ls -al "):
		dir := strings.TrimPrefix(line, "ls -al ")
		h.mu.Lock()
		var names []string
		for p := range h.files {
			if path.Dir(p) == dir {
				names = append(names, path.Base(p))
			}
		}
		h.mu.Unlock()
		sort.Strings(names)
		for _, n := range names {
			fmt.Fprintf(stdout, "-rwxr-xr-x 1 ubuntu ubuntu %s\n", n)
		}
		return 0

	case strings.Contains(line, "kill -9"):
		h.mu.Lock()
		for p := range h.running {
			if p != self {
				p.cancel()
			}
		}
		h.mu.Unlock()
		return 0
	}
	return -1
}

// FakeSession implements session.Session on a FakeHost.
type FakeSession struct {
	host       model.Host
	fh         *FakeHost
	closed     atomic.Bool
	closeCalls atomic.Int32
}

var _ session.Session = (*FakeSession)(nil)

func (s *FakeSession) Host() model.Host { return s.host }

func (s *FakeSession) Start(_ context.Context, cmd session.Command) (session.Process, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("session to %s is closed", s.host)
	}
	return s.fh.start(cmd), nil
}

func (s *FakeSession) OpenFileChannel() (session.FileChannel, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("session to %s is closed", s.host)
	}
	return &fakeChannel{fh: s.fh}, nil
}

func (s *FakeSession) Close() error {
	s.closed.Store(true)
	s.closeCalls.Add(1)
	return nil
}

func (s *FakeSession) Closed() bool { return s.closed.Load() }

// CloseCalls returns how many times Close was called.
func (s *FakeSession) CloseCalls() int { return int(s.closeCalls.Load()) }

type fakeProcess struct {
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stderrR *io.PipeReader
	cancel  context.CancelFunc
	done    chan struct{}
	code    int
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader     { return p.stderrR }

func (p *fakeProcess) Wait() (int, error) {
	<-p.done
	return p.code, nil
}

func (p *fakeProcess) Kill() error {
	p.cancel()
	return nil
}

type fakeChannel struct {
	fh     *FakeHost
	closed bool
}

func (c *fakeChannel) Put(localPath, remotePath string) (int64, error) {
	if c.closed {
		return 0, fmt.Errorf("channel closed")
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return 0, err
	}

	c.fh.mu.Lock()
	defer c.fh.mu.Unlock()
	if c.fh.PutErr != nil {
		return 0, c.fh.PutErr
	}
	if dir := path.Dir(remotePath); dir != "." && !c.fh.dirs[dir] {
		return 0, fmt.Errorf("%s: no such directory", dir)
	}
	c.fh.files[remotePath] = data
	return int64(len(data)), nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}
