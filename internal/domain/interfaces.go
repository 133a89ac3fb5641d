package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// Verifier abstracts the external image classification service so tests can
// substitute a deterministic stub without network access.
type Verifier interface {
	// Verify classifies one image. Failures are ErrNetwork, ErrService,
	// or ErrParse; it never retries or caches.
	Verify(ctx context.Context, imageBytes []byte) (Verdict, error)
}

// LedgerRecord is the remote store's document shape for one user.
type LedgerRecord struct {
	Points      int         `json:"points"`
	Actions     []EcoAction `json:"actions"`
	CreatedAt   time.Time   `json:"created_at"`
	LastUpdated time.Time   `json:"last_updated"`
}

// RemoteStore abstracts the eventually-consistent remote ledger store.
// Any key-value or document store with either an atomic append primitive or
// plain overwrite can back the three-tier persistence ladder.
type RemoteStore interface {
	// Fetch returns the record for a user, or (nil, nil) when none exists.
	Fetch(ctx context.Context, userID string) (*LedgerRecord, error)

	// Create atomically creates an empty record for a user.
	Create(ctx context.Context, userID string, rec LedgerRecord) error

	// AtomicAppend appends an action and increments points in a single
	// conditional write. Returns ErrRecordMissing when no record exists and
	// ErrAtomicUnsupported when the store cannot perform the operation.
	AtomicAppend(ctx context.Context, userID string, action EcoAction) error

	// Write overwrites the full record. Last writer wins on concurrent
	// writers — a documented consistency weakness of the lowest tier.
	Write(ctx context.Context, userID string, rec LedgerRecord) error
}

// LocalStore abstracts the durable local ledger cache and the outbox of
// not-yet-synced actions. It is what lets the ledger survive intermittent
// connectivity.
type LocalStore interface {
	GetLedger(userID string) (*UserLedger, error) // (nil, nil) when unknown
	UpsertLedger(ledger UserLedger) error
	InsertAction(userID string, action EcoAction, synced bool) error
	ListActions(userID string) ([]EcoAction, error) // newest first
	MarkSynced(actionID string) error
	UnsyncedActions() (map[string][]EcoAction, error) // userID → pending actions
}
