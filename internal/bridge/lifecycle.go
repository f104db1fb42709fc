package bridge

import "context"

// Lifecycle propagates account deletions from the legacy provider into the
// primary user table and the migration ledger.
type Lifecycle struct {
	ledger *Ledger
}

func NewLifecycle(ledger *Ledger) *Lifecycle {
	return &Lifecycle{ledger: ledger}
}

// Delete soft-deletes the ledger entry and User row for a Clerk user id.
// Webhook redelivery is expected, so deleting an already deleted account is
// a no-op success.
func (l *Lifecycle) Delete(ctx context.Context, clerkUserID string) error {
	return l.ledger.SoftDelete(ctx, clerkUserID)
}
