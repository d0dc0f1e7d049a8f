package crashlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/devicelab/sessiond/pkg/outcome"
)

// Window is the failure time window a crash report must fall into to be
// considered correlated with a session failure.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

const maxExcerptBytes = 4 * 1024

// Store correlates session failures with crash reports collected on disk.
// Reports are named <process>-<unix seconds>.crash, optionally rotated with
// a .gz suffix.
type Store struct {
	dir string
	log *slog.Logger
}

func NewStore(dir string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{dir: dir, log: log}
}

// Correlate looks for the newest crash report of the given host process
// whose timestamp falls inside the window. It is best-effort: a missing
// directory, unreadable report or cancelled context all yield (nil, nil) or
// the context error; callers treat any of those as "no match".
func (s *Store) Correlate(ctx context.Context, process string, win Window) (*outcome.CrashReport, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read crash report dir: %w", err)
	}

	var best *outcome.CrashReport
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}
		proc, ts, ok := parseReportName(entry.Name())
		if !ok || proc != process || !win.Contains(ts) {
			continue
		}
		if best != nil && !ts.After(best.Timestamp) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		excerpt, err := readExcerpt(path)
		if err != nil {
			s.log.Warn("failed to read crash report", "path", path, "error", err)
			continue
		}
		best = &outcome.CrashReport{
			Process:   process,
			Path:      path,
			Timestamp: ts,
			Excerpt:   excerpt,
		}
	}
	return best, nil
}

// parseReportName splits "<process>-<unix seconds>.crash[.gz]" into its
// parts. Process names may themselves contain dashes, so the split is on
// the last one.
func parseReportName(name string) (process string, ts time.Time, ok bool) {
	name = strings.TrimSuffix(name, ".gz")
	name, found := strings.CutSuffix(name, ".crash")
	if !found {
		return "", time.Time{}, false
	}
	i := strings.LastIndex(name, "-")
	if i <= 0 {
		return "", time.Time{}, false
	}
	sec, err := strconv.ParseInt(name[i+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return name[:i], time.Unix(sec, 0), true
}

func readExcerpt(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open crash report: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if filepath.Ext(path) == ".gz" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("failed to open gzip crash report: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	buf, err := io.ReadAll(io.LimitReader(r, maxExcerptBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read crash report: %w", err)
	}
	return string(buf), nil
}
