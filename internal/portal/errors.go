package portal

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("portal rejected the credentials")
	ErrPortalUnreachable  = errors.New("portal unreachable")
	// ErrLoginFormChanged means the login page loaded but the expected fields were not on it.
	ErrLoginFormChanged = fmt.Errorf("login form changed: %w", ErrPortalUnreachable)
	ErrNoSubjectsFound  = errors.New("no subjects found")
	ErrTimeout          = errors.New("portal timed out")
)

// classify maps a driver or transport failure during step onto the package's error kinds.
func classify(ctx context.Context, step string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", step, ErrTimeout)
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s: %w", step, context.Canceled)
	}
	return fmt.Errorf("%s: %w: %w", step, ErrPortalUnreachable, err)
}
