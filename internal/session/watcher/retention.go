package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nerrad567/sensecraft-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/metrics"
)

// Image file naming.
const (
	imagePrefix = "watcher_"
	imageSuffix = ".png"
)

// Retention bounds the alert image directory.
type Retention struct {
	Dir      string
	MaxFiles int
	MaxAge   time.Duration
	Now      func() time.Time
	Logger   *logging.Logger
}

type imageFile struct {
	path  string
	mtime time.Time
}

// Sweep removes expired images, then trims the oldest of the remaining ones
// down to MaxFiles. It tolerates concurrent sweeps: a file already removed
// by another pass is skipped. A missing directory is not an error.
func (r Retention) Sweep() (removed int, err error) {
	entries, err := os.ReadDir(r.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("listing %s: %w", r.Dir, err)
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	cutoff := now().Add(-r.MaxAge)

	var expired, valid []imageFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, imagePrefix) || !strings.HasSuffix(name, imageSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		f := imageFile{path: filepath.Join(r.Dir, name), mtime: info.ModTime()}
		if r.MaxAge > 0 && f.mtime.Before(cutoff) {
			expired = append(expired, f)
		} else {
			valid = append(valid, f)
		}
	}

	var excess []imageFile
	if r.MaxFiles > 0 && len(valid) > r.MaxFiles {
		sort.Slice(valid, func(i, j int) bool { return valid[i].mtime.Before(valid[j].mtime) })
		excess = valid[:len(valid)-r.MaxFiles]
	}

	r.logger().Debug("image retention pass",
		"dir", r.Dir, "entries", len(entries), "valid", len(valid), "expired", len(expired), "excess", len(excess))

	removed += r.remove(expired, "expired")
	removed += r.remove(excess, "excess")
	return removed, nil
}

func (r Retention) remove(files []imageFile, reason string) int {
	n := 0
	for _, f := range files {
		if _, err := os.Stat(f.path); errors.Is(err, fs.ErrNotExist) {
			r.logger().Debug("image already removed", "path", f.path)
			continue
		}
		if err := os.Remove(f.path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				r.logger().Error("removing image failed", "path", f.path, "error", err)
			}
			continue
		}
		metrics.ImagesRemoved.WithLabelValues(reason).Inc()
		n++
	}
	return n
}

func (r Retention) logger() *logging.Logger {
	if r.Logger == nil {
		return logging.Nop()
	}
	return r.Logger
}

// imageName returns the file name for an image received at t:
// watcher_YYYYmmdd_HHMMSS_ffffff.png
func imageName(t time.Time) string {
	return fmt.Sprintf("%s%s_%06d%s", imagePrefix, t.Format("20060102_150405"), t.Nanosecond()/1000, imageSuffix)
}
