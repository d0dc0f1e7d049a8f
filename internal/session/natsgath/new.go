package natsgath

import (
	"time"

	"github.com/nats-io/nats.go"
)

// New creates a NATS gatherer that streams session events to the given
// inbox subject. The timeout is the armed watchdog interval reported in the
// session start event.
func New(nc *nats.Conn, sessionUuid string, inbox string, timeout time.Duration) *natsGatherer {
	return &natsGatherer{
		nc:          nc,
		inbox:       inbox,
		sessionUuid: sessionUuid,
		timeout:     timeout,
	}
}
