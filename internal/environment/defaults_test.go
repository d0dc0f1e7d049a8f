package environment_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab/sessiond/internal/environment"
)

func TestReadDefaultsEmptyPathUsesFallback(t *testing.T) {
	d, err := environment.ReadDefaults("")
	require.NoError(t, err)
	assert.Equal(t, environment.FallbackDefaults(), d)
	assert.Equal(t, 30*time.Second, d.Timeout())
}

func TestReadDefaultsParsesToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaults.toml")
	content := `
timeout_ms = 60000
crash_window_ms = 120000
correlator_budget_ms = 2500
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	d, err := environment.ReadDefaults(path)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, d.Timeout())
	assert.Equal(t, 2*time.Minute, d.CrashWindow())
	assert.Equal(t, 2500*time.Millisecond, d.CorrelatorBudget())
	// Fields missing from the file keep the fallback.
	assert.Equal(t, environment.FallbackDefaults().DialTimeoutMs, d.DialTimeoutMs)
}

func TestReadDefaultsMissingFileIsAnError(t *testing.T) {
	_, err := environment.ReadDefaults(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
