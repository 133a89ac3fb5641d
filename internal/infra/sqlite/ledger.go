package sqlite

import (
	"database/sql"
	"time"

	"github.com/greenproof/greenproof/internal/domain"
)

// ─── Ledger Operations ──────────────────────────────────────────────────────

// GetLedger returns the cached ledger for a user, with its action log
// attached newest first. Returns (nil, nil) when the user is unknown.
func (d *DB) GetLedger(userID string) (*domain.UserLedger, error) {
	var points int
	var syncedStr sql.NullString
	err := d.db.QueryRow(`
		SELECT points, last_synced_at FROM ledgers WHERE user_id = ?
	`, userID).Scan(&points, &syncedStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ledger := domain.UserLedger{UserID: userID, TotalPoints: points}
	if syncedStr.Valid {
		ledger.LastSyncedAt, _ = time.Parse(time.RFC3339, syncedStr.String)
	}

	actions, err := d.ListActions(userID)
	if err != nil {
		return nil, err
	}
	ledger.Actions = actions
	return &ledger, nil
}

// UpsertLedger writes the ledger header (points and sync time).
func (d *DB) UpsertLedger(ledger domain.UserLedger) error {
	var syncedStr interface{}
	if !ledger.LastSyncedAt.IsZero() {
		syncedStr = ledger.LastSyncedAt.UTC().Format(time.RFC3339)
	}
	_, err := d.db.Exec(`
		INSERT INTO ledgers (user_id, points, last_synced_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			points         = excluded.points,
			last_synced_at = excluded.last_synced_at
	`, ledger.UserID, ledger.TotalPoints, syncedStr)
	return err
}

// ─── Action Operations ──────────────────────────────────────────────────────

// InsertAction appends an action to the log. Re-inserting an existing ID is
// a no-op, which keeps outbox replay idempotent.
func (d *DB) InsertAction(userID string, a domain.EcoAction, synced bool) error {
	syncedInt := 0
	if synced {
		syncedInt = 1
	}
	_, err := d.db.Exec(`
		INSERT OR IGNORE INTO actions
			(id, user_id, category, display_name, emoji, points, co2_grams, ts, image_ref, confidence, reasoning, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, userID, string(a.Category), a.DisplayName, a.Emoji, a.Points, a.CO2Grams,
		a.Timestamp.UTC().Format(time.RFC3339), a.ImageRef, a.Confidence, a.Reasoning, syncedInt)
	return err
}

// ListActions returns a user's actions, newest first.
func (d *DB) ListActions(userID string) ([]domain.EcoAction, error) {
	rows, err := d.db.Query(`
		SELECT id, category, display_name, emoji, points, co2_grams, ts, image_ref, confidence, reasoning
		FROM actions WHERE user_id = ? ORDER BY ts DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActions(rows)
}

// MarkSynced flags an action as durably persisted remotely.
func (d *DB) MarkSynced(actionID string) error {
	_, err := d.db.Exec(`UPDATE actions SET synced = 1 WHERE id = ?`, actionID)
	return err
}

// UnsyncedActions returns all outbox rows grouped by user, oldest first per
// user so replay preserves original order.
func (d *DB) UnsyncedActions() (map[string][]domain.EcoAction, error) {
	rows, err := d.db.Query(`
		SELECT user_id, id, category, display_name, emoji, points, co2_grams, ts, image_ref, confidence, reasoning
		FROM actions WHERE synced = 0 ORDER BY ts ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.EcoAction)
	for rows.Next() {
		var userID, tsStr, category string
		var a domain.EcoAction
		if err := rows.Scan(&userID, &a.ID, &category, &a.DisplayName, &a.Emoji,
			&a.Points, &a.CO2Grams, &tsStr, &a.ImageRef, &a.Confidence, &a.Reasoning); err != nil {
			return nil, err
		}
		a.Category = domain.ActionCategory(category)
		a.Timestamp, _ = time.Parse(time.RFC3339, tsStr)
		out[userID] = append(out[userID], a)
	}
	return out, rows.Err()
}

func scanActions(rows *sql.Rows) ([]domain.EcoAction, error) {
	var out []domain.EcoAction
	for rows.Next() {
		var a domain.EcoAction
		var tsStr, category string
		if err := rows.Scan(&a.ID, &category, &a.DisplayName, &a.Emoji, &a.Points,
			&a.CO2Grams, &tsStr, &a.ImageRef, &a.Confidence, &a.Reasoning); err != nil {
			return nil, err
		}
		a.Category = domain.ActionCategory(category)
		a.Timestamp, _ = time.Parse(time.RFC3339, tsStr)
		out = append(out, a)
	}
	return out, rows.Err()
}
