package port

import "context"

// CheckoutGuard keeps one user from running two checkouts at once.
type CheckoutGuard interface {
	// Acquire returns domain.ErrConflict while another checkout for userID is
	// in flight. The returned func releases the guard.
	Acquire(ctx context.Context, userID string) (release func(), err error)
}
