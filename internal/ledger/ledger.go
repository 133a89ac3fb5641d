// Package ledger owns the authoritative points total and the append-only
// action log. It applies every mutation optimistically to a local view first,
// then reconciles with the eventually-consistent remote store through a
// three-tier fallback ladder. Persistence unavailability is never surfaced as
// a caller-facing failure: the local state stands and a later resync repairs
// the remote copy.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/greenproof/greenproof/internal/domain"
	"github.com/greenproof/greenproof/internal/infra/observability"
)

// Ledger coordinates the local optimistic view, the durable local cache, and
// the remote store.
type Ledger struct {
	mu     sync.RWMutex
	remote domain.RemoteStore
	local  domain.LocalStore
	cache  map[string]domain.UserLedger // in-memory view, keyed by user
	log    *logrus.Entry
	now    func() time.Time
}

// New creates a reward ledger. logger may be nil.
func New(remote domain.RemoteStore, local domain.LocalStore, logger *logrus.Logger) *Ledger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Ledger{
		remote: remote,
		local:  local,
		cache:  make(map[string]domain.UserLedger),
		log:    logger.WithField("component", "ledger"),
		now:    time.Now,
	}
}

// SetClock overrides the time source (tests).
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// ─── Load ───────────────────────────────────────────────────────────────────

// Load returns the best-known ledger for a user. It tries the remote store
// first; if no remote record exists one is created. When the remote store is
// unreachable the locally cached ledger (zero-valued if none) is returned
// with Offline set — the caller is never blocked on persistence.
func (l *Ledger) Load(ctx context.Context, userID string) domain.UserLedger {
	rec, err := l.remote.Fetch(ctx, userID)
	if err != nil {
		l.log.WithError(err).WithField("user", userID).Warn("remote fetch failed, serving local ledger")
		return l.offlineSnapshot(userID)
	}

	if rec == nil {
		created := domain.LedgerRecord{CreatedAt: l.now(), LastUpdated: l.now()}
		if err := l.remote.Create(ctx, userID, created); err != nil {
			l.log.WithError(err).WithField("user", userID).Warn("remote create failed, serving local ledger")
			return l.offlineSnapshot(userID)
		}
		rec = &created
	}

	// Union the remote log with anything recorded locally while offline.
	localView := l.localLedger(userID)
	merged := domain.MergeActions(localView.Actions, rec.Actions)

	ledger := domain.UserLedger{
		UserID:       userID,
		Actions:      merged,
		TotalPoints:  domain.SumPoints(merged),
		LastSyncedAt: l.now(),
	}

	l.mu.Lock()
	l.cache[userID] = ledger
	l.mu.Unlock()

	l.persistLocal(ledger, rec.Actions)
	return ledger
}

// Snapshot returns the current local view without touching the network.
func (l *Ledger) Snapshot(userID string) domain.UserLedger {
	return l.localLedger(userID)
}

// ─── Record ─────────────────────────────────────────────────────────────────

// RecordAction appends an action and adds its points. The local view is
// updated synchronously and unconditionally before any network attempt, so a
// caller observing the ledger after return never sees a state older than what
// it just recorded. The remote attempt then walks the fallback ladder:
//
//  1. atomic increment-and-append against the existing record
//  2. read current remote state, merge by ID, recompute the sum, write back
//  3. remote unreachable: succeed offline; the outbox keeps the action for
//     a future resync
func (l *Ledger) RecordAction(ctx context.Context, userID string, action domain.EcoAction) domain.RecordResult {
	// Optimistic local apply — always first, never conditional.
	l.mu.Lock()
	ledger := l.localLedgerLocked(userID)
	ledger.Actions = domain.MergeActions([]domain.EcoAction{action}, ledger.Actions)
	ledger.TotalPoints = domain.SumPoints(ledger.Actions)
	l.cache[userID] = ledger
	l.mu.Unlock()

	if err := l.local.InsertAction(userID, action, false); err != nil {
		l.log.WithError(err).Warn("local action insert failed")
	}
	if err := l.local.UpsertLedger(ledger); err != nil {
		l.log.WithError(err).Warn("local ledger upsert failed")
	}

	_, ok := l.syncAction(ctx, userID, action)
	offline := !ok
	if offline {
		l.mu.Lock()
		ledger = l.cache[userID]
		ledger.Offline = true
		l.cache[userID] = ledger
		l.mu.Unlock()
	}
	return domain.RecordResult{Success: true, Offline: offline}
}

// syncAction walks the persistence ladder for one action. On success it
// returns the IDs now durably persisted remotely: just this action on the
// atomic tier, the whole local log on the merge tier (the full-record write
// carries every local action with it).
func (l *Ledger) syncAction(ctx context.Context, userID string, action domain.EcoAction) ([]string, bool) {
	err := l.remote.AtomicAppend(ctx, userID, action)
	if err == nil {
		observability.LedgerSyncs.WithLabelValues("atomic").Inc()
		l.markSynced(userID, action.ID)
		return []string{action.ID}, true
	}

	if errors.Is(err, domain.ErrRecordMissing) || errors.Is(err, domain.ErrAtomicUnsupported) {
		if ids, ok := l.mergeWrite(ctx, userID); ok {
			observability.LedgerSyncs.WithLabelValues("merge").Inc()
			return ids, true
		}
	}

	observability.LedgerSyncs.WithLabelValues("offline").Inc()
	l.log.WithField("user", userID).WithField("action", action.ID).
		Info("remote store unreachable, action kept in outbox")
	return nil, false
}

// mergeWrite is tier 2: read-merge-write of the full record. The merged log
// is a superset union over ID and the points total is recomputed from it, so
// a concurrent writer on the same user never causes double counting.
func (l *Ledger) mergeWrite(ctx context.Context, userID string) ([]string, bool) {
	rec, err := l.remote.Fetch(ctx, userID)
	if err != nil {
		return nil, false
	}

	createdAt := l.now()
	var remoteActions []domain.EcoAction
	if rec != nil {
		remoteActions = rec.Actions
		if !rec.CreatedAt.IsZero() {
			createdAt = rec.CreatedAt
		}
	}

	localView := l.localLedger(userID)
	merged := domain.MergeActions(localView.Actions, remoteActions)

	out := domain.LedgerRecord{
		Points:      domain.SumPoints(merged),
		Actions:     merged,
		CreatedAt:   createdAt,
		LastUpdated: l.now(),
	}
	if err := l.remote.Write(ctx, userID, out); err != nil {
		return nil, false
	}

	// Everything local is now contained in the remote record.
	ids := make([]string, 0, len(localView.Actions))
	for _, a := range localView.Actions {
		l.markSynced(userID, a.ID)
		ids = append(ids, a.ID)
	}
	return ids, true
}

// ─── Resync ─────────────────────────────────────────────────────────────────

// Resync replays the outbox through the persistence ladder. Replay is
// idempotent by action ID: actions the remote log already holds are only
// marked synced locally, never re-appended. Returns the number of actions
// that remain unsynced.
func (l *Ledger) Resync(ctx context.Context) int {
	pending, err := l.local.UnsyncedActions()
	if err != nil {
		l.log.WithError(err).Warn("outbox read failed")
		return -1
	}

	remaining := 0
	for userID, actions := range pending {
		// Skip anything the remote log already holds: the atomic append tier
		// increments points unconditionally, so replaying a present action
		// would double count it.
		present := make(map[string]bool)
		if rec, err := l.remote.Fetch(ctx, userID); err == nil && rec != nil {
			for _, a := range rec.Actions {
				present[a.ID] = true
			}
		}

		for _, action := range actions {
			if present[action.ID] {
				l.markSynced(userID, action.ID)
				continue
			}
			ids, ok := l.syncAction(ctx, userID, action)
			if !ok {
				remaining++
				continue
			}
			for _, id := range ids {
				present[id] = true
			}
		}
	}

	observability.OutboxDepth.Set(float64(remaining))
	if remaining > 0 {
		observability.ResyncRuns.WithLabelValues("partial").Inc()
		l.log.WithField("remaining", remaining).Info("resync left actions in outbox")
	} else {
		observability.ResyncRuns.WithLabelValues("ok").Inc()
	}
	return remaining
}

// ─── Internal ───────────────────────────────────────────────────────────────

func (l *Ledger) localLedger(userID string) domain.UserLedger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.localLedgerLocked(userID)
}

// localLedgerLocked returns the in-memory view, falling back to the durable
// local cache. Action rows without a ledger header row (an outbox left by an
// interrupted run) still count. Caller holds l.mu.
func (l *Ledger) localLedgerLocked(userID string) domain.UserLedger {
	if ledger, ok := l.cache[userID]; ok {
		return ledger
	}

	ledger := domain.NewUserLedger(userID)
	if stored, err := l.local.GetLedger(userID); err == nil && stored != nil {
		ledger = *stored
	} else if actions, err := l.local.ListActions(userID); err == nil && len(actions) > 0 {
		ledger.Actions = actions
		ledger.TotalPoints = domain.SumPoints(actions)
	}
	l.cache[userID] = ledger
	return ledger
}

func (l *Ledger) offlineSnapshot(userID string) domain.UserLedger {
	ledger := l.localLedger(userID)
	ledger.Offline = true
	return ledger
}

// persistLocal stores the merged ledger durably; remote-originated actions
// are inserted as already synced.
func (l *Ledger) persistLocal(ledger domain.UserLedger, remoteActions []domain.EcoAction) {
	fromRemote := make(map[string]bool, len(remoteActions))
	for _, a := range remoteActions {
		fromRemote[a.ID] = true
	}
	for _, a := range ledger.Actions {
		if err := l.local.InsertAction(ledger.UserID, a, fromRemote[a.ID]); err != nil {
			l.log.WithError(err).Warn("local action insert failed")
		}
	}
	if err := l.local.UpsertLedger(ledger); err != nil {
		l.log.WithError(err).Warn("local ledger upsert failed")
	}
}

func (l *Ledger) markSynced(userID string, actionID string) {
	if err := l.local.MarkSynced(actionID); err != nil {
		l.log.WithError(err).WithField("action", actionID).Warn("mark synced failed")
	}
	l.mu.Lock()
	ledger := l.localLedgerLocked(userID)
	ledger.LastSyncedAt = l.now()
	ledger.Offline = false
	l.cache[userID] = ledger
	l.mu.Unlock()
}
