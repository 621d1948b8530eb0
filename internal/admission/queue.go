// Package admission bounds how many scrape sessions (and therefore headless browsers)
// run at once, queueing the overflow in FIFO order.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/components/assert"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/chrono"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/telemetry"
)

const (
	report_queue_release   = "queue.release"
	report_queue_invariant = "queue.invariant"
	report_queue_active    = "queue.active"
	report_queue_waiting   = "queue.waiting"
)

var (
	ErrQueueFull = errors.New("admission queue is full")
	ErrTimedOut  = errors.New("timed out waiting for a slot")
	ErrNotHeld   = errors.New("release of a slot that is not held")
	ErrDuplicate = errors.New("request id is already active or queued")
	ErrInvariant = errors.New("admission queue invariant violated")
)

type Options struct {
	MaxConcurrent int
	MaxQueue      int
	MaxWait       time.Duration
	// PositionInterval is how often waiting tickets are told their position.
	PositionInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxConcurrent:    2,
		MaxQueue:         10,
		MaxWait:          60 * time.Second,
		PositionInterval: 2 * time.Second,
	}
}

type Outcome int

const (
	Admitted Outcome = iota
	Queued
	Rejected
)

type Admission struct {
	Outcome Outcome
	// Ticket is set only when Outcome is Queued.
	Ticket *Ticket
}

type Snapshot struct {
	Active        int      `json:"active"`
	Waiting       []string `json:"waiting"`
	MaxConcurrent int      `json:"maxConcurrent"`
	MaxQueue      int      `json:"maxQueue"`
}

type Queue struct {
	opts Options
	time chrono.TimeAPI
	tel  telemetry.API

	mu      sync.Mutex
	active  map[string]struct{}
	waiting []*Ticket
}

func NewQueue(opts Options, timeAPI chrono.TimeAPI, tel telemetry.API) *Queue {
	assert.NotNil(timeAPI)
	assert.NotNil(tel)
	assert.Positive("max concurrent", opts.MaxConcurrent)
	assert.Positive("max queue", opts.MaxQueue)
	assert.Positive("max wait", opts.MaxWait)
	assert.Positive("position interval", opts.PositionInterval)

	return &Queue{
		opts:   opts,
		time:   timeAPI,
		tel:    telemetry.NewScopedAPI("admission", tel),
		active: make(map[string]struct{}),
	}
}

func (q *Queue) holdsLocked(id string) bool {
	if _, ok := q.active[id]; ok {
		return true
	}
	for _, t := range q.waiting {
		if t.ID == id {
			return true
		}
	}
	return false
}

// TryAdmit takes a free slot for id if there is one, otherwise enqueues a ticket the caller
// must Wait on. A full waiting list rejects immediately with ErrQueueFull and creates no ticket.
func (q *Queue) TryAdmit(id string) (Admission, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.holdsLocked(id) {
		return Admission{Outcome: Rejected}, ErrDuplicate
	}

	if len(q.active) < q.opts.MaxConcurrent {
		q.active[id] = struct{}{}
		q.reportLocked()
		return Admission{Outcome: Admitted}, nil
	}

	if len(q.waiting) >= q.opts.MaxQueue {
		return Admission{Outcome: Rejected}, ErrQueueFull
	}

	ticket := &Ticket{
		ID:         id,
		EnqueuedAt: q.time.Now(),
		queue:      q,
		admitted:   make(chan struct{}),
		timeout:    q.time.Timer(q.opts.MaxWait),
		ticker:     q.time.Ticker(q.opts.PositionInterval),
	}
	q.waiting = append(q.waiting, ticket)
	ticket.position.Store(int64(len(q.waiting)))
	q.reportLocked()

	return Admission{Outcome: Queued, Ticket: ticket}, nil
}

// Release gives back the slot held by id and hands it to the front-most waiting ticket.
func (q *Queue) Release(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.active[id]; !ok {
		q.tel.ReportBroken(report_queue_release, ErrNotHeld, id)
		return ErrNotHeld
	}
	delete(q.active, id)

	for len(q.waiting) > 0 && len(q.active) < q.opts.MaxConcurrent {
		next := q.waiting[0]
		q.waiting[0] = nil
		q.waiting = q.waiting[1:]
		next.position.Store(0)

		// a ticket that already timed out or was abandoned is dropped, its waiter has
		// already returned or is about to.
		if !next.transition(StateAdmitted) {
			continue
		}
		q.active[next.ID] = struct{}{}
		close(next.admitted)
		q.tel.ReportDebug("ticket admitted", next.ID, q.time.Now().Sub(next.EnqueuedAt).String())
	}
	q.reindexLocked()
	q.reportLocked()

	if len(q.active) > q.opts.MaxConcurrent {
		q.tel.ReportBroken(report_queue_invariant, ErrInvariant, "active", len(q.active))
	}
	return nil
}

// remove drops a ticket whose waiter owns a terminal state, it may already be gone.
func (q *Queue) remove(t *Ticket) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, w := range q.waiting {
		if w == t {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			break
		}
	}
	t.position.Store(0)
	q.reindexLocked()
	q.reportLocked()
}

// position returns the live position of t, 0 if it has legitimately left the waiting list.
func (q *Queue) position(t *Ticket) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, w := range q.waiting {
		if w == t {
			return i + 1, nil
		}
	}
	if t.State() == StatePending {
		q.tel.ReportBroken(report_queue_invariant, ErrInvariant, "pending ticket missing from waiting list", t.ID)
		return 0, fmt.Errorf("ticket %s: %w", t.ID, ErrInvariant)
	}
	return 0, nil
}

func (q *Queue) reindexLocked() {
	for i, t := range q.waiting {
		t.position.Store(int64(i + 1))
	}
}

func (q *Queue) reportLocked() {
	q.tel.ReportCount(report_queue_active, int64(len(q.active)))
	q.tel.ReportCount(report_queue_waiting, int64(len(q.waiting)))
}

// Snapshot is a read-only view of the queue for monitoring, waiting ids are in FIFO order.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	waiting := make([]string, len(q.waiting))
	for i, t := range q.waiting {
		waiting[i] = t.ID
	}
	return Snapshot{
		Active:        len(q.active),
		Waiting:       waiting,
		MaxConcurrent: q.opts.MaxConcurrent,
		MaxQueue:      q.opts.MaxQueue,
	}
}

// Acquire admits id, waiting in the queue if needed. The returned release func gives the slot
// back and is safe to call more than once, only the first call has an effect.
func (q *Queue) Acquire(ctx context.Context, id string, onPosition func(position int)) (release func(), err error) {
	admission, err := q.TryAdmit(id)
	if err != nil {
		return nil, err
	}
	if admission.Outcome == Queued {
		if onPosition != nil {
			onPosition(admission.Ticket.Position())
		}
		err = admission.Ticket.Wait(ctx, onPosition)
		if err != nil {
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			q.Release(id)
		})
	}, nil
}

// WithSlot runs fn while holding a slot for id. The slot is released exactly once when fn
// returns, including when it panics.
func (q *Queue) WithSlot(ctx context.Context, id string, onPosition func(position int), fn func(ctx context.Context) error) error {
	release, err := q.Acquire(ctx, id, onPosition)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}
