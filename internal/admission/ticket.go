package admission

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

type TicketState int32

const (
	StatePending TicketState = iota
	StateAdmitted
	StateTimedOut
	// StateRemoved is the terminal state of a ticket whose waiter went away before admission.
	StateRemoved
)

func (s TicketState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAdmitted:
		return "admitted"
	case StateTimedOut:
		return "timed-out"
	case StateRemoved:
		return "removed"
	}
	return "unknown"
}

// Ticket holds a waiting request's place in the queue. Its state leaves Pending exactly once,
// whoever wins the compare-and-swap owns the outcome.
type Ticket struct {
	ID         string
	EnqueuedAt time.Time

	queue    *Queue
	state    atomic.Int32
	position atomic.Int64
	admitted chan struct{}
	timeout  *clock.Timer
	ticker   *clock.Ticker
}

func (t *Ticket) State() TicketState {
	return TicketState(t.state.Load())
}

// Position is the 1-based place in the waiting list, 0 once the ticket has left it.
func (t *Ticket) Position() int {
	return int(t.position.Load())
}

func (t *Ticket) transition(to TicketState) bool {
	return t.state.CompareAndSwap(int32(StatePending), int32(to))
}

func (t *Ticket) stop() {
	t.timeout.Stop()
	t.ticker.Stop()
}

// Wait blocks until the ticket is admitted, times out, or ctx is done. onPosition (may be nil)
// is called with the live position every position interval while the ticket is still waiting.
//
// When Wait returns nil the caller holds a slot and must release it. On every other return
// the ticket no longer holds or awaits a slot.
func (t *Ticket) Wait(ctx context.Context, onPosition func(position int)) error {
	defer t.stop()

	for {
		select {
		case <-t.admitted:
			return nil

		case <-t.timeout.C:
			if t.transition(StateTimedOut) {
				t.queue.remove(t)
				t.queue.tel.ReportDebug("ticket timed out", t.ID)
				return ErrTimedOut
			}
			// admission won, admitted is closed under the same lock that swapped the state.
			<-t.admitted
			return nil

		case <-t.ticker.C:
			position, err := t.queue.position(t)
			if err != nil {
				return err
			}
			if position > 0 && onPosition != nil {
				onPosition(position)
			}

		case <-ctx.Done():
			if t.transition(StateRemoved) {
				t.queue.remove(t)
				return ctx.Err()
			}
			<-t.admitted
			t.queue.Release(t.ID)
			return ctx.Err()
		}
	}
}
