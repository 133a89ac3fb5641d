package domain

import (
	"sort"
	"time"
)

// ─── User Ledger ────────────────────────────────────────────────────────────

// UserLedger is the per-user points and action log. The reward ledger is the
// sole writer; callers (the UI layer) hold read-only snapshots.
//
// Invariant: TotalPoints always equals the sum of Points over Actions. Merges
// preserve this by construction — they append, never partially update points
// independent of a logged action.
type UserLedger struct {
	UserID       string      `json:"user_id"`
	TotalPoints  int         `json:"total_points"`
	Actions      []EcoAction `json:"actions"` // newest first for display; append-only set keyed by ID
	LastSyncedAt time.Time   `json:"last_synced_at"`
	Offline      bool        `json:"offline"` // snapshot flag: remote store was unreachable
}

// NewUserLedger returns a zero-valued ledger for a user with no record yet.
func NewUserLedger(userID string) UserLedger {
	return UserLedger{UserID: userID}
}

// TotalCO2Grams sums CO2 savings across the action log.
func (l UserLedger) TotalCO2Grams() int {
	var total int
	for _, a := range l.Actions {
		total += a.CO2Grams
	}
	return total
}

// RecordResult reports the outcome of a record operation.
// Success with Offline=true means the local optimistic state stands and the
// remote write will be retried by a future sync.
type RecordResult struct {
	Success bool `json:"success"`
	Offline bool `json:"offline"`
}

// ─── Merge Helpers ──────────────────────────────────────────────────────────

// MergeActions unions two action logs by ID and returns the result newest
// first. The union never truncates either input — a merged remote log is
// always a superset of both sides.
func MergeActions(a, b []EcoAction) []EcoAction {
	seen := make(map[string]bool, len(a)+len(b))
	merged := make([]EcoAction, 0, len(a)+len(b))
	for _, list := range [][]EcoAction{a, b} {
		for _, act := range list {
			if act.ID == "" || seen[act.ID] {
				continue
			}
			seen[act.ID] = true
			merged = append(merged, act)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	return merged
}

// SumPoints recomputes total points from an action log. Read-merge-write
// persistence must use this rather than blindly adding, so a concurrent
// writer on the same user never causes double counting.
func SumPoints(actions []EcoAction) int {
	var total int
	for _, a := range actions {
		total += a.Points
	}
	return total
}

// CO2CarKmEquivalent converts grams of CO2 saved into the "km not driven by
// car" figure shown on the dashboard (411 g CO2 per km).
func CO2CarKmEquivalent(grams int) int {
	return grams / 411
}
