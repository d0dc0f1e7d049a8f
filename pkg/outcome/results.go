package outcome

import "time"

// BundleResult is the bundle connection monitor's own account of how the
// link to the test-bundle host ended. The arbiter never reinterprets it.
type BundleResult struct {
	Addr        string
	Err         error
	EndedAt     time.Time
	Description string
}

// DaemonResult is the daemon connection monitor's own account of how the
// link to the device test daemon ended.
type DaemonResult struct {
	Addr        string
	Err         error
	EndedAt     time.Time
	Description string
}

// CrashReport is a diagnostic record for a crash of the test host process,
// correlated after the session outcome is already decided.
type CrashReport struct {
	Process   string    `json:"process"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Excerpt   string    `json:"excerpt"`
}
