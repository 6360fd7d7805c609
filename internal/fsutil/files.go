// Package fsutil checks local files before anything is sent to remote hosts.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PreconditionError reports a local problem detected before any remote
// contact.
type PreconditionError struct {
	Path   string
	Reason string
}

func (e *PreconditionError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// CheckFiles verifies that the training script and every auxiliary file
// exist, are regular files and have pairwise distinct basenames. All files
// land in one flat remote directory, so two files with the same basename
// would overwrite each other.
func CheckFiles(script string, aux []string) error {
	if strings.TrimSpace(script) == "" {
		return &PreconditionError{Reason: "training script is required"}
	}

	seen := make(map[string]string, len(aux)+1)
	for _, p := range append([]string{script}, aux...) {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				return &PreconditionError{Path: p, Reason: "file does not exist"}
			}
			return &PreconditionError{Path: p, Reason: err.Error()}
		}
		if info.IsDir() {
			return &PreconditionError{Path: p, Reason: "is a directory"}
		}

		base := filepath.Base(p)
		if prev, ok := seen[base]; ok {
			return &PreconditionError{
				Path:   p,
				Reason: fmt.Sprintf("basename %q collides with %s", base, prev),
			}
		}
		seen[base] = p
	}
	return nil
}
