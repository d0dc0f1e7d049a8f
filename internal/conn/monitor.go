package conn

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/devicelab/sessiond/pkg/outcome"
)

// Role selects which side of the session a monitor watches and therefore
// which outcome kind its failures map to.
type Role string

const (
	RoleBundle Role = "bundle"
	RoleDaemon Role = "daemon"
)

// Monitor watches one link of the session: it dials the host and consumes
// newline-delimited heartbeats until the connection ends.
//
// A bundle link that closes cleanly means the test run completed, so the
// bundle monitor proposes a success outcome. The daemon link closing
// cleanly proposes nothing; the daemon only matters when it breaks.
type Monitor struct {
	role        Role
	addr        string
	dialTimeout time.Duration
	log         *slog.Logger
}

func NewBundleMonitor(addr string, dialTimeout time.Duration, log *slog.Logger) *Monitor {
	return newMonitor(RoleBundle, addr, dialTimeout, log)
}

func NewDaemonMonitor(addr string, dialTimeout time.Duration, log *slog.Logger) *Monitor {
	return newMonitor(RoleDaemon, addr, dialTimeout, log)
}

func newMonitor(role Role, addr string, dialTimeout time.Duration, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{role: role, addr: addr, dialTimeout: dialTimeout, log: log}
}

func (m *Monitor) Name() string { return string(m.role) + " monitor" }

// Run dials the host and blocks until the link ends or ctx is cancelled.
// Link failures are submitted to the session via propose; a rejected
// proposal means some other source already ended the session and the
// monitor just cleans up. Run itself only returns an error for misuse, not
// for link failures: those are outcome data.
func (m *Monitor) Run(ctx context.Context, propose func(*outcome.Outcome) bool) error {
	dialer := net.Dialer{Timeout: m.dialTimeout}
	c, err := dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		m.submitFailure(propose, fmt.Errorf("failed to dial %s host %s: %w", m.role, m.addr, err))
		return nil
	}

	// Unblock the heartbeat read when the session ends first.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()

	m.log.Debug("link established", "role", string(m.role), "addr", m.addr)

	scanner := bufio.NewScanner(c)
	for scanner.Scan() {
		// Heartbeat contents are irrelevant; only liveness matters.
	}

	if ctx.Err() != nil {
		// Cancelled because another source won the race. Clean up silently.
		c.Close()
		return nil
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		m.submitFailure(propose, fmt.Errorf("%s link to %s broke: %w", m.role, m.addr, err))
		c.Close()
		return nil
	}

	// Clean EOF.
	c.Close()
	if m.role == RoleBundle {
		propose(outcome.Success())
	} else {
		m.log.Debug("daemon link closed cleanly", "addr", m.addr)
	}
	return nil
}

func (m *Monitor) submitFailure(propose func(*outcome.Outcome) bool, err error) {
	now := time.Now()
	var o *outcome.Outcome
	switch m.role {
	case RoleBundle:
		o = outcome.BundleConnectionFailed(&outcome.BundleResult{
			Addr:        m.addr,
			Err:         err,
			EndedAt:     now,
			Description: err.Error(),
		})
	default:
		o = outcome.DaemonConnectionFailed(&outcome.DaemonResult{
			Addr:        m.addr,
			Err:         err,
			EndedAt:     now,
			Description: err.Error(),
		})
	}
	if !propose(o) {
		m.log.Debug("link failure lost the outcome race", "role", string(m.role))
	}
}
