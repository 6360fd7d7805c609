// Package distributor copies local files to every session's remote
// directory with bounded concurrency.
package distributor

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/specialistvlad/gridlaunch/internal/ctxlog"
	"github.com/specialistvlad/gridlaunch/internal/model"
	"github.com/specialistvlad/gridlaunch/internal/session"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// DefaultLimit is the number of transfers in flight across all hosts.
const DefaultLimit = 8

// TransferError reports a failed upload of one file to one host.
type TransferError struct {
	Host model.Host
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %s to %s failed: %v", e.Path, e.Host, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Distributor uploads files over sessions.
type Distributor struct {
	limit int
}

// New returns a Distributor that runs at most limit transfers at once.
// A limit below one means DefaultLimit.
func New(limit int) *Distributor {
	if limit < 1 {
		limit = DefaultLimit
	}
	return &Distributor{limit: limit}
}

// Distribute uploads every file to remoteDir/<basename> on every session.
// The first failure stops transfers that have not started yet. All failures
// are returned as *TransferError values combined with multierr.
func (d *Distributor) Distribute(ctx context.Context, sessions []session.Session, files []string, remoteDir string) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("📦 Distributing files.", "hosts", len(sessions), "files", len(files), "remote_dir", remoteDir)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.limit)

	var (
		mu   sync.Mutex
		errs error
	)
	for _, sess := range sessions {
		for _, file := range files {
			sess, file := sess, file
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				err := d.put(gctx, sess, file, remoteDir)
				if err != nil {
					mu.Lock()
					errs = multierr.Append(errs, err)
					mu.Unlock()
				}
				return err
			})
		}
	}
	_ = g.Wait()

	if errs == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return errs
}

func (d *Distributor) put(ctx context.Context, sess session.Session, file, remoteDir string) error {
	host := sess.Host()
	remote := path.Join(remoteDir, filepath.Base(file))
	logger := ctxlog.FromContext(ctx).With("host", host.String(), "file", file)

	ch, err := sess.OpenFileChannel()
	if err != nil {
		return &TransferError{Host: host, Path: file, Err: err}
	}
	defer ch.Close()

	logger.Debug("Uploading file.", "remote", remote)
	start := time.Now()
	n, err := ch.Put(file, remote)
	if err != nil {
		logger.Error("Upload failed.", "error", err)
		return &TransferError{Host: host, Path: file, Err: err}
	}
	logger.Info("📤 Uploaded file.", "remote", remote, "size", humanize.Bytes(uint64(n)), "duration", time.Since(start).Round(time.Millisecond))
	return nil
}
