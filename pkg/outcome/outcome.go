package outcome

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Kind classifies how a test-execution session ended. A session has exactly
// one kind, fixed when the outcome is constructed. The kind of the session
// says nothing about the verdicts of individual test cases.
type Kind string

const (
	KindSuccess                Kind = "success"
	KindClientDisconnect       Kind = "client_disconnect"
	KindTimeout                Kind = "timeout"
	KindBundleConnectionFailed Kind = "bundle_connection_failed"
	KindDaemonConnectionFailed Kind = "daemon_connection_failed"
	KindInternalError          Kind = "internal_error"
)

// Outcome is the terminal result of a session. Kind, payload and error are
// immutable after construction; only the crash diagnostic may be attached
// later, exactly once.
type Outcome struct {
	kind    Kind
	timeout time.Duration
	bundle  *BundleResult
	daemon  *DaemonResult
	err     error

	mu    sync.Mutex
	crash *CrashReport
}

// Success returns the outcome of a session that ran to completion.
func Success() *Outcome {
	return &Outcome{kind: KindSuccess}
}

// ClientRequestedDisconnect returns the outcome of a session the operator
// asked to end before it concluded. It is not a failure.
func ClientRequestedDisconnect() *Outcome {
	return &Outcome{kind: KindClientDisconnect}
}

// TimedOutAfter returns the outcome of a session that exceeded its deadline.
// The configured interval is preserved verbatim in the payload.
func TimedOutAfter(interval time.Duration) *Outcome {
	return &Outcome{
		kind:    KindTimeout,
		timeout: interval,
		err:     fmt.Errorf("session timed out after %s: %w", interval, context.DeadlineExceeded),
	}
}

// BundleConnectionFailed returns the outcome of a session whose link to the
// test-bundle host broke. The monitor's result is carried verbatim.
func BundleConnectionFailed(res *BundleResult) *Outcome {
	return &Outcome{
		kind:   KindBundleConnectionFailed,
		bundle: res,
		err:    res.Err,
	}
}

// DaemonConnectionFailed returns the outcome of a session whose link to the
// device test daemon broke. The monitor's result is carried verbatim.
func DaemonConnectionFailed(res *DaemonResult) *Outcome {
	return &Outcome{
		kind:   KindDaemonConnectionFailed,
		daemon: res,
		err:    res.Err,
	}
}

// InternalError returns the outcome of a session that ended because of an
// error inside the orchestrator itself.
func InternalError(err error) *Outcome {
	return &Outcome{kind: KindInternalError, err: err}
}

func (o *Outcome) Kind() Kind { return o.kind }

// DidEndSuccessfully reports whether the session ran to completion.
func (o *Outcome) DidEndSuccessfully() bool { return o.kind == KindSuccess }

// Err returns the underlying error, if one occurred. It is nil for Success
// and ClientDisconnect, and taken verbatim from the payload otherwise.
func (o *Outcome) Err() error { return o.err }

// Timeout returns the configured interval of a timeout outcome, zero for any
// other kind.
func (o *Outcome) Timeout() time.Duration { return o.timeout }

// Bundle returns the bundle monitor's result for a bundle-connection
// failure, nil for any other kind.
func (o *Outcome) Bundle() *BundleResult { return o.bundle }

// Daemon returns the daemon monitor's result for a daemon-connection
// failure, nil for any other kind.
func (o *Outcome) Daemon() *DaemonResult { return o.daemon }

// Crash returns the correlated crash report of the test host, if one was
// attached. Absence of a crash report never implies success.
func (o *Outcome) Crash() *CrashReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.crash
}

// AttachCrash attaches a crash diagnostic to an already-finalized outcome.
// It succeeds at most once; kind, payload and error are unaffected either
// way. Attaching nil is a no-op.
func (o *Outcome) AttachCrash(r *CrashReport) bool {
	if r == nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.crash != nil {
		return false
	}
	o.crash = r
	return true
}

func (o *Outcome) String() string {
	switch o.kind {
	case KindSuccess:
		return "session ended successfully"
	case KindClientDisconnect:
		return "client requested disconnect"
	case KindTimeout:
		return fmt.Sprintf("session timed out after %s", o.timeout)
	case KindBundleConnectionFailed:
		return fmt.Sprintf("bundle connection failed: %v", o.err)
	case KindDaemonConnectionFailed:
		return fmt.Sprintf("daemon connection failed: %v", o.err)
	case KindInternalError:
		return fmt.Sprintf("internal error: %v", o.err)
	}
	return string(o.kind)
}
