package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mgpai22/subburn/internal/logging"
)

// Janitor periodically removes outputs older than the retention window.
type Janitor struct {
	store     *Store
	dir       string
	retention time.Duration
	interval  time.Duration
	log       *logging.Logger
	now       func() time.Time
}

// NewJanitor returns a janitor sweeping dir. A retention of zero disables it.
func NewJanitor(s *Store, dir string, retention, interval time.Duration, log *logging.Logger) *Janitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Janitor{
		store:     s,
		dir:       dir,
		retention: retention,
		interval:  interval,
		log:       log.Component("janitor"),
		now:       time.Now,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	if j.retention <= 0 {
		j.log.Debug("retention disabled, janitor not running")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if _, err := j.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			j.log.Warnw("output sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep deletes expired files and then their rows, returning how many were
// removed. A row stays when its file could not be deleted so the next sweep
// retries it.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	if j.retention <= 0 {
		return 0, nil
	}
	cutoff := j.now().Add(-j.retention)

	expired, err := j.store.ListOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	var (
		removed int
		freed   uint64
	)
	for _, out := range expired {
		path := filepath.Join(j.dir, filepath.Base(out.Filename))
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			j.log.Warnw("failed to remove expired output", "file", path, "error", err)
			continue
		}
		if err := j.store.Delete(ctx, out.Filename); err != nil {
			return removed, err
		}
		removed++
		if out.SizeBytes > 0 {
			freed += uint64(out.SizeBytes)
		}
	}

	if removed > 0 {
		j.log.Infow("removed expired outputs",
			"count", removed,
			"freed", humanize.Bytes(freed),
			"older_than", humanize.Time(cutoff),
		)
	}
	return removed, nil
}
