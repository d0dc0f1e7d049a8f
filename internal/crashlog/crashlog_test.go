package crashlog_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab/sessiond/internal/crashlog"
)

func writeReport(t *testing.T, dir, process string, ts time.Time, body string) string {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.crash", process, ts.Unix()))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func writeGzipReport(t *testing.T, dir, process string, ts time.Time, body string) string {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.crash.gz", process, ts.Unix()))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return path
}

func TestCorrelateMatchesProcessAndWindow(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().Truncate(time.Second)
	win := crashlog.Window{Start: now.Add(-time.Minute), End: now}

	writeReport(t, dir, "otherproc", now.Add(-10*time.Second), "wrong process")
	writeReport(t, dir, "testhost", now.Add(-2*time.Minute), "outside window")
	want := writeReport(t, dir, "testhost", now.Add(-10*time.Second), "Exception Type: SIGSEGV")

	store := crashlog.NewStore(dir, nil)
	report, err := store.Correlate(context.Background(), "testhost", win)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "testhost", report.Process)
	assert.Equal(t, want, report.Path)
	assert.Equal(t, "Exception Type: SIGSEGV", report.Excerpt)
	assert.True(t, win.Contains(report.Timestamp))
}

func TestCorrelateNewestReportWins(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().Truncate(time.Second)
	win := crashlog.Window{Start: now.Add(-time.Minute), End: now}

	writeReport(t, dir, "testhost", now.Add(-40*time.Second), "older")
	want := writeReport(t, dir, "testhost", now.Add(-5*time.Second), "newer")

	store := crashlog.NewStore(dir, nil)
	report, err := store.Correlate(context.Background(), "testhost", win)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, want, report.Path)
}

func TestCorrelateReadsGzipRotatedReports(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().Truncate(time.Second)
	win := crashlog.Window{Start: now.Add(-time.Minute), End: now}

	writeGzipReport(t, dir, "testhost", now.Add(-10*time.Second), "Exception Type: EXC_CRASH")

	store := crashlog.NewStore(dir, nil)
	report, err := store.Correlate(context.Background(), "testhost", win)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "Exception Type: EXC_CRASH", report.Excerpt)
}

func TestCorrelateNoMatchIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	win := crashlog.Window{Start: now.Add(-time.Minute), End: now}

	store := crashlog.NewStore(dir, nil)
	report, err := store.Correlate(context.Background(), "testhost", win)
	assert.NoError(t, err)
	assert.Nil(t, report)
}

func TestCorrelateMissingDirIsNotAnError(t *testing.T) {
	store := crashlog.NewStore(filepath.Join(t.TempDir(), "does-not-exist"), nil)
	report, err := store.Correlate(context.Background(), "testhost",
		crashlog.Window{Start: time.Unix(0, 0), End: time.Now()})
	assert.NoError(t, err)
	assert.Nil(t, report)
}

func TestCorrelateHonorsCancelledContext(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().Truncate(time.Second)
	writeReport(t, dir, "testhost", now, "body")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := crashlog.NewStore(dir, nil)
	_, err := store.Correlate(ctx, "testhost",
		crashlog.Window{Start: now.Add(-time.Minute), End: now})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWindowContains(t *testing.T) {
	now := time.Now()
	win := crashlog.Window{Start: now.Add(-time.Minute), End: now}
	assert.True(t, win.Contains(now))
	assert.True(t, win.Contains(now.Add(-time.Minute)))
	assert.False(t, win.Contains(now.Add(time.Second)))
	assert.False(t, win.Contains(now.Add(-2*time.Minute)))
}
