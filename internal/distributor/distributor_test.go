package distributor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/specialistvlad/gridlaunch/internal/model"
	"github.com/specialistvlad/gridlaunch/internal/session"
	"github.com/specialistvlad/gridlaunch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func localFiles(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	var out []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte("content of "+n), 0o644))
		out = append(out, p)
	}
	return out
}

func connect(t *testing.T, fleet *testutil.FakeFleet, remoteDir string, addrs ...string) []session.Session {
	t.Helper()
	var out []session.Session
	for _, a := range addrs {
		s, err := fleet.Dial(context.Background(), model.Host{Address: a})
		require.NoError(t, err)
		fleet.Host(a).Mkdir(remoteDir)
		out = append(out, s)
	}
	return out
}

func TestDistribute_UploadsEveryFileToEveryHost(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	fleet := testutil.NewFakeFleet()
	files := localFiles(t, "train.py", "vocab.txt")
	sessions := connect(t, fleet, "launcher-tmp-1", "a", "b", "c")

	// --- Act ---
	err := New(0).Distribute(context.Background(), sessions, files, "launcher-tmp-1")

	// --- Assert ---
	require.NoError(t, err)
	for _, addr := range []string{"a", "b", "c"} {
		for _, name := range []string{"train.py", "vocab.txt"} {
			b, ok := fleet.Host(addr).File("launcher-tmp-1/" + name)
			require.True(t, ok, "%s missing on %s", name, addr)
			assert.Equal(t, "content of "+name, string(b))
		}
	}
}

func TestDistribute_FailureIsReportedPerHostAndFile(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	fleet := testutil.NewFakeFleet()
	files := localFiles(t, "train.py")
	sessions := connect(t, fleet, "d", "a", "b", "c")
	diskFull := errors.New("no space left on device")
	fleet.Host("b").SetPutErr(diskFull)

	// --- Act ---
	err := New(1).Distribute(context.Background(), sessions, files, "d")

	// --- Assert ---
	require.Error(t, err)
	require.ErrorIs(t, err, diskFull)
	errs := multierr.Errors(err)
	require.Len(t, errs, 1)
	var te *TransferError
	require.ErrorAs(t, errs[0], &te)
	assert.Equal(t, "b", te.Host.Address)
	assert.Equal(t, files[0], te.Path)
	assert.Contains(t, err.Error(), "to b failed")

	// With one transfer at a time, nothing after the failure starts.
	_, ok := fleet.Host("c").File("d/train.py")
	assert.False(t, ok)
}

func TestDistribute_RespectsLimit(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	var inFlight, peak atomic.Int32
	files := localFiles(t, "1", "2", "3", "4", "5")
	var sessions []session.Session
	for _, a := range []string{"a", "b", "c", "d"} {
		sessions = append(sessions, &slowSession{host: model.Host{Address: a}, inFlight: &inFlight, peak: &peak})
	}

	// --- Act ---
	err := New(3).Distribute(context.Background(), sessions, files, "d")

	// --- Assert ---
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestDistribute_CanceledContext(t *testing.T) {
	t.Parallel()

	fleet := testutil.NewFakeFleet()
	files := localFiles(t, "train.py")
	sessions := connect(t, fleet, "d", "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(0).Distribute(ctx, sessions, files, "d")

	require.ErrorIs(t, err, context.Canceled)
	_, ok := fleet.Host("a").File("d/train.py")
	assert.False(t, ok)
}

// slowSession only supports file channels and records how many uploads
// overlap.
type slowSession struct {
	session.Session
	host     model.Host
	inFlight *atomic.Int32
	peak     *atomic.Int32
}

func (s *slowSession) Host() model.Host { return s.host }

func (s *slowSession) OpenFileChannel() (session.FileChannel, error) {
	return slowChannel{s}, nil
}

type slowChannel struct{ s *slowSession }

func (c slowChannel) Put(local, _ string) (int64, error) {
	n := c.s.inFlight.Add(1)
	defer c.s.inFlight.Add(-1)
	for {
		p := c.s.peak.Load()
		if n <= p || c.s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	info, err := os.Stat(local)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (slowChannel) Close() error { return nil }
