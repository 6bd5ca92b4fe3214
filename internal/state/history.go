package state

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"conclave/internal/session"
	"conclave/pkg/models"
)

// SessionRow is one persisted session record.
type SessionRow struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveSession upserts a session row. Re-initializing a session id
// refreshes its creation time.
func (db *DB) SaveSession(id string, createdAt time.Time) error {
	_, err := db.Exec(`
		INSERT INTO sessions (id, created_at) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET created_at = excluded.created_at
	`, id, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// SaveInteraction appends an interaction row.
func (db *DB) SaveInteraction(sessionID string, in session.Interaction) error {
	_, err := db.Exec(`
		INSERT INTO interactions (id, session_id, agent_id, action, result, success, duration_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, in.ID, sessionID, in.AgentID, in.Action, in.Result, boolToInt(in.Success),
		in.Duration.Milliseconds(), formatTime(in.Timestamp))
	if err != nil {
		return fmt.Errorf("save interaction: %w", err)
	}
	return nil
}

// SaveDelegation upserts a delegation row. Registration writes the
// pending row; completion overwrites it with the final state.
func (db *DB) SaveDelegation(sessionID string, d session.DelegationRecord) error {
	var completedAt any
	if !d.CompletedAt.IsZero() {
		completedAt = formatTime(d.CompletedAt)
	}
	_, err := db.Exec(`
		INSERT INTO delegations (session_id, key, strategy, workers, complexity, estimated_duration_ms, state, result, registered_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, key) DO UPDATE SET
			state = excluded.state,
			result = excluded.result,
			completed_at = excluded.completed_at
	`, sessionID, d.Key, string(d.Strategy), strings.Join(d.Workers, ","), d.Complexity,
		d.EstimatedDuration.Milliseconds(), string(d.State), d.Result,
		formatTime(d.RegisteredAt), completedAt)
	if err != nil {
		return fmt.Errorf("save delegation: %w", err)
	}
	return nil
}

// ListSessions returns all persisted sessions, newest first.
func (db *DB) ListSessions() ([]SessionRow, error) {
	rows, err := db.Query(`SELECT id, created_at FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		var createdAt string
		if err := rows.Scan(&r.ID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		r.CreatedAt, _ = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListInteractions returns a session's interactions in recorded order.
func (db *DB) ListInteractions(sessionID string) ([]session.Interaction, error) {
	rows, err := db.Query(`
		SELECT id, agent_id, action, result, success, duration_ms, timestamp
		FROM interactions WHERE session_id = ? ORDER BY timestamp, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	var out []session.Interaction
	for rows.Next() {
		var in session.Interaction
		var success, durationMs int64
		var timestamp string
		if err := rows.Scan(&in.ID, &in.AgentID, &in.Action, &in.Result, &success, &durationMs, &timestamp); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		in.Success = success != 0
		in.Duration = time.Duration(durationMs) * time.Millisecond
		in.Timestamp, _ = parseTime(timestamp)
		out = append(out, in)
	}
	return out, rows.Err()
}

// ListDelegations returns a session's delegation records in
// registration order.
func (db *DB) ListDelegations(sessionID string) ([]session.DelegationRecord, error) {
	rows, err := db.Query(`
		SELECT key, strategy, workers, complexity, estimated_duration_ms, state, result, registered_at, completed_at
		FROM delegations WHERE session_id = ? ORDER BY registered_at, key
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list delegations: %w", err)
	}
	defer rows.Close()

	var out []session.DelegationRecord
	for rows.Next() {
		var d session.DelegationRecord
		var strategy, workers, state, registeredAt string
		var result, completedAt sql.NullString
		var durationMs int64
		if err := rows.Scan(&d.Key, &strategy, &workers, &d.Complexity, &durationMs, &state, &result, &registeredAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan delegation: %w", err)
		}
		d.Strategy = models.Strategy(strategy)
		if workers != "" {
			d.Workers = strings.Split(workers, ",")
		}
		d.EstimatedDuration = time.Duration(durationMs) * time.Millisecond
		d.State = session.DelegationState(state)
		d.Result = result.String
		d.RegisteredAt, _ = parseTime(registeredAt)
		if completedAt.Valid {
			d.CompletedAt, _ = parseTime(completedAt.String)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ session.HistoryStore = (*DB)(nil)
