package app

import (
	"os"
	"testing"

	"github.com/specialistvlad/gridlaunch/internal/testutil"
)

// SetupAppTest creates an App with debug logging captured in a buffer. Set
// GRIDLAUNCH_TEST_LOGS=true to print the log of every test.
func SetupAppTest(t *testing.T, cfg *Config, opts ...Option) (*App, *testutil.SafeBuffer) {
	t.Helper()

	logBuffer := &testutil.SafeBuffer{}
	cfg.LogLevel = "debug"
	testApp := NewApp(logBuffer, cfg, opts...)

	t.Cleanup(func() {
		if os.Getenv("GRIDLAUNCH_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
