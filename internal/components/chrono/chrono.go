package chrono

import (
	"time"
	_ "time/tzdata"

	"github.com/benbjohnson/clock"
)

// TimeAPI is the interface that anything depending on the system clock should use.
//
// note: fault injection point
type TimeAPI interface {
	// Now returns the current time in the portal's timezone (Asia/Kolkata).
	Now() time.Time
	Location() *time.Location
	// After waits for the duration to elapse and then sends the current time on the returned channel.
	After(d time.Duration) <-chan time.Time
	Timer(d time.Duration) *clock.Timer
	Ticker(d time.Duration) *clock.Ticker
}

// StandardImpl implements TimeAPI on top of a clock.Clock, which is the wall clock in production
// and a clock.Mock in tests.
type StandardImpl struct {
	clock    clock.Clock
	location *time.Location
}

func newImpl(c clock.Clock) (StandardImpl, error) {
	location, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return StandardImpl{}, err
	}
	return StandardImpl{clock: c, location: location}, nil
}

// NewStandardImpl returns a TimeAPI backed by the system clock.
func NewStandardImpl() (StandardImpl, error) {
	return newImpl(clock.New())
}

// NewMockImpl returns a TimeAPI driven by the returned mock, time only moves forward
// when the mock is advanced.
func NewMockImpl() (StandardImpl, *clock.Mock, error) {
	mock := clock.NewMock()
	impl, err := newImpl(mock)
	return impl, mock, err
}

func (s StandardImpl) Now() time.Time {
	return s.clock.Now().In(s.location)
}

func (s StandardImpl) Location() *time.Location {
	return s.location
}

func (s StandardImpl) After(d time.Duration) <-chan time.Time {
	return s.clock.After(d)
}

func (s StandardImpl) Timer(d time.Duration) *clock.Timer {
	return s.clock.Timer(d)
}

func (s StandardImpl) Ticker(d time.Duration) *clock.Ticker {
	return s.clock.Ticker(d)
}

// DateKey formats t as a calendar date in the portal's timezone.
func DateKey(t TimeAPI) string {
	return t.Now().Format(time.DateOnly)
}
