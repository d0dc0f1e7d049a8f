package environment

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Defaults are the session parameters used when a request does not carry
// its own, loaded from a TOML file.
type Defaults struct {
	TimeoutMs          int64 `toml:"timeout_ms"`
	CrashWindowMs      int64 `toml:"crash_window_ms"`
	CorrelatorBudgetMs int64 `toml:"correlator_budget_ms"`
	DialTimeoutMs      int64 `toml:"dial_timeout_ms"`
}

// FallbackDefaults returns the built-in session parameters.
func FallbackDefaults() Defaults {
	return Defaults{
		TimeoutMs:          30_000,
		CrashWindowMs:      60_000,
		CorrelatorBudgetMs: 5_000,
		DialTimeoutMs:      10_000,
	}
}

// ReadDefaults parses the defaults TOML file. An empty path yields the
// built-in values; fields missing from the file keep them too.
func ReadDefaults(path string) (Defaults, error) {
	defaults := FallbackDefaults()
	if path == "" {
		return defaults, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return defaults, fmt.Errorf("failed to read defaults file: %w", err)
	}
	if err := toml.Unmarshal(data, &defaults); err != nil {
		return defaults, fmt.Errorf("failed to parse defaults TOML: %w", err)
	}
	return defaults, nil
}

func (d Defaults) Timeout() time.Duration { return time.Duration(d.TimeoutMs) * time.Millisecond }
func (d Defaults) CrashWindow() time.Duration {
	return time.Duration(d.CrashWindowMs) * time.Millisecond
}
func (d Defaults) CorrelatorBudget() time.Duration {
	return time.Duration(d.CorrelatorBudgetMs) * time.Millisecond
}
func (d Defaults) DialTimeout() time.Duration {
	return time.Duration(d.DialTimeoutMs) * time.Millisecond
}
