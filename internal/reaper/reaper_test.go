package reaper

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/specialistvlad/gridlaunch/internal/executor"
	"github.com/specialistvlad/gridlaunch/internal/model"
	"github.com/specialistvlad/gridlaunch/internal/session"
	"github.com/specialistvlad/gridlaunch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand(t *testing.T) {
	t.Parallel()

	got := Command("train.py", "gridlaunch")

	assert.Equal(t,
		"ps -ef | grep -w train.py | grep -v -w gridlaunch | awk -v me=$$ '$2 != me && $3 != me {print $2}' | xargs -r kill -9",
		got)
	assert.Contains(t, Command("my script.py", "x"), "grep -w 'my script.py'")
}

func TestReap_KillsRunningTrainingProcesses(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	fleet := testutil.NewFakeFleet()
	exec := executor.New(io.Discard, io.Discard)
	var sessions []session.Session
	stopped := make(chan string, 2)
	for _, addr := range []string{"ps0", "ps1"} {
		addr := addr
		fleet.Host(addr).SetRun(func(ctx context.Context, _ session.Command, _ io.Reader, _, _ io.Writer) int {
			<-ctx.Done()
			stopped <- addr
			return 137
		})
		s, err := fleet.Dial(context.Background(), model.Host{Address: addr})
		require.NoError(t, err)
		sessions = append(sessions, s)
	}

	done := make(chan int, 2)
	for _, s := range sessions {
		s := s
		go func() {
			code, _ := exec.Run(context.Background(), s, executor.Request{Command: "python train.py"})
			done <- code
		}()
	}
	require.Eventually(t, func() bool {
		return len(fleet.Host("ps0").Commands()) == 1 && len(fleet.Host("ps1").Commands()) == 1
	}, time.Second, 5*time.Millisecond)

	// --- Act ---
	failed := New(exec).Reap(context.Background(), sessions, "train.py", "gridlaunch")

	// --- Assert ---
	assert.Zero(t, failed)
	for i := 0; i < 2; i++ {
		select {
		case code := <-done:
			assert.Equal(t, 137, code)
		case <-time.After(5 * time.Second):
			t.Fatal("training process was not killed")
		}
	}
	for _, addr := range []string{"ps0", "ps1"} {
		assert.Contains(t, fleet.Host(addr).CommandLines(), Command("train.py", "gridlaunch"))
	}
}

type stubRunner struct {
	codes map[string]int
	errs  map[string]error
}

func (s stubRunner) Run(_ context.Context, sess session.Session, _ executor.Request) (int, error) {
	a := sess.Host().Address
	return s.codes[a], s.errs[a]
}

func TestReap_CountsFailuresWithoutReturningThem(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	fleet := testutil.NewFakeFleet()
	var sessions []session.Session
	for _, a := range []string{"a", "b", "c"} {
		s, err := fleet.Dial(context.Background(), model.Host{Address: a})
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	runner := stubRunner{
		codes: map[string]int{"b": 1},
		errs:  map[string]error{"c": errors.New("channel closed")},
	}

	// --- Act ---
	failed := New(runner).Reap(context.Background(), sessions, "train.py", "gridlaunch")

	// --- Assert ---
	assert.Equal(t, 2, failed)
}
