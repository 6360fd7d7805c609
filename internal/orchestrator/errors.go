package orchestrator

import (
	"fmt"

	"github.com/specialistvlad/gridlaunch/internal/model"
)

// PhaseError reports a setup command that failed on one host. It aborts the
// run before anything is launched.
type PhaseError struct {
	Phase    model.Phase
	Host     model.Host
	Command  string
	ExitCode int
	Err      error
}

func (e *PhaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s phase failed on %s: %q: %v", e.Phase, e.Host, e.Command, e.Err)
	}
	return fmt.Sprintf("%s phase failed on %s: %q exited with status %d", e.Phase, e.Host, e.Command, e.ExitCode)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// RemoteCommandError reports a launched training command that failed on one
// host. It is recorded in the report and never aborts other hosts.
type RemoteCommandError struct {
	Host     model.Host
	Rank     int
	ExitCode int
	Err      error
}

func (e *RemoteCommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("training command on %s (rank %d) failed: %v", e.Host, e.Rank, e.Err)
	}
	return fmt.Sprintf("training command on %s (rank %d) exited with status %d", e.Host, e.Rank, e.ExitCode)
}

func (e *RemoteCommandError) Unwrap() error { return e.Err }
