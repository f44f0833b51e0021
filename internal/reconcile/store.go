package reconcile

import (
	"context"

	id "tally/pkg/domain"
)

// Store persists review items.
type Store interface {
	Add(ctx context.Context, item *Item) error
	Get(ctx context.Context, itemID id.ReconcileItemID) (*Item, error)
	ListOpen(ctx context.Context) ([]*Item, error)
	// Resolve closes an item; resolving an already-resolved item is a no-op.
	Resolve(ctx context.Context, itemID id.ReconcileItemID, resolvedBy string) error
}
