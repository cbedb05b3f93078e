package transaction

import (
	"context"
	"time"

	"github.com/xraph/subledger/id"
)

type Store interface {
	// Create persists a new pending transaction together with its initial
	// created event. Amount is write-once: no update path exists for it.
	Create(ctx context.Context, t *Transaction, initial *Event) error
	Get(ctx context.Context, txnID id.TransactionID) (*Transaction, error)
	List(ctx context.Context, subID id.SubscriptionID, opts ListOpts) ([]*Transaction, error)

	// AppendEvent appends to the transaction's history and stores the new
	// projected state. Events are never updated or deleted.
	AppendEvent(ctx context.Context, e *Event, newState State) error
	ListEvents(ctx context.Context, txnID id.TransactionID) ([]*Event, error)

	// SetBackendRef records the backend settlement reference once known.
	SetBackendRef(ctx context.Context, txnID id.TransactionID, ref string) error

	// ListStalePending returns pending transactions created before the
	// cutoff, for the reconciliation sweeper.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*Transaction, error)
}

type ListOpts struct {
	State  State
	Type   Type
	Limit  int
	Offset int
}
