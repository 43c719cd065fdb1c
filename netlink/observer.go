package netlink

import (
	"time"

	"github.com/mdlayher/netlink"
)

// Outcome is how an exchange ended.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeError       Outcome = "error"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeOverrun     Outcome = "overrun"
	OutcomeClosed      Outcome = "closed"
)

// Observer is notified by the driver as exchanges progress. Every method is
// called from the driver goroutine and must not block.
type Observer interface {
	Submitted(kind Kind)
	Completed(kind Kind, outcome Outcome, elapsed time.Duration)
	Received(t netlink.HeaderType)
	Discarded(reason string)
	Pending(n int)
}

type nopObserver struct{}

func (nopObserver) Submitted(Kind)                         {}
func (nopObserver) Completed(Kind, Outcome, time.Duration) {}
func (nopObserver) Received(netlink.HeaderType)            {}
func (nopObserver) Discarded(string)                       {}
func (nopObserver) Pending(int)                            {}
