package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"leadline/internal/domain"
)

// Recorder appends and reads the append-only lead_history log. Entries are
// never updated or deleted; the engine writes them inside the same
// transaction as the lead row.
type Recorder struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append inserts one audit entry within tx and returns it with its assigned
// id. It fails only on storage errors.
func (r Recorder) Append(ctx context.Context, tx *sql.Tx, e domain.HistoryEntry) (domain.HistoryEntry, error) {
	if e.ChangedAt == "" {
		now := r.Now
		if now == nil {
			now = time.Now
		}
		e.ChangedAt = now().UTC().Format(time.RFC3339)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO lead_history(lead_id,previous_status,new_status,changed_by_user_id,from_user_id,reason,changed_at)
VALUES (?,?,?,?,?,?,?)`,
		e.LeadID, string(e.PreviousStatus), string(e.NewStatus), e.ChangedByUserID, nullableStringPtr(e.FromUserID), nullable(e.Reason), e.ChangedAt)
	if err != nil {
		return e, fmt.Errorf("append lead history: %w", err)
	}
	e.ID, err = res.LastInsertId()
	if err != nil {
		return e, fmt.Errorf("append lead history: %w", err)
	}
	return e, nil
}

// HistoryFor returns the full lifecycle of a lead, oldest first. Ties on
// changed_at are broken by the monotonically increasing id.
func (r Recorder) HistoryFor(ctx context.Context, leadID string) ([]domain.HistoryEntry, error) {
	return r.query(ctx, `SELECT id,lead_id,previous_status,new_status,changed_by_user_id,from_user_id,reason,changed_at
FROM lead_history WHERE lead_id=? ORDER BY changed_at ASC, id ASC`, leadID)
}

// RecentByStatus returns the most recent entries that moved a lead into the
// given status, newest first. Dashboards use this.
func (r Recorder) RecentByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.query(ctx, `SELECT id,lead_id,previous_status,new_status,changed_by_user_id,from_user_id,reason,changed_at
FROM lead_history WHERE new_status=? ORDER BY changed_at DESC, id DESC LIMIT ?`, string(status), limit)
}

// Between returns a lead's entries within [from, to], oldest first. Bounds
// are RFC3339 strings; empty bounds are open.
func (r Recorder) Between(ctx context.Context, leadID, from, to string) ([]domain.HistoryEntry, error) {
	query := `SELECT id,lead_id,previous_status,new_status,changed_by_user_id,from_user_id,reason,changed_at
FROM lead_history WHERE lead_id=?`
	args := []any{leadID}
	if from != "" {
		query += ` AND changed_at>=?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND changed_at<=?`
		args = append(args, to)
	}
	query += ` ORDER BY changed_at ASC, id ASC`
	return r.query(ctx, query, args...)
}

// Latest returns the most recent entry for a lead, or ErrEmpty when none.
func (r Recorder) Latest(ctx context.Context, leadID string) (domain.HistoryEntry, error) {
	entries, err := r.query(ctx, `SELECT id,lead_id,previous_status,new_status,changed_by_user_id,from_user_id,reason,changed_at
FROM lead_history WHERE lead_id=? ORDER BY changed_at DESC, id DESC LIMIT 1`, leadID)
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	if len(entries) == 0 {
		return domain.HistoryEntry{}, ErrEmpty
	}
	return entries[0], nil
}

// EntriesAfter returns entries with ids greater than the cursor in ascending
// order. The webhook dispatcher feeds from this.
func (r Recorder) EntriesAfter(ctx context.Context, limit int, cursor int64) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, `SELECT id,lead_id,previous_status,new_status,changed_by_user_id,from_user_id,reason,changed_at
FROM lead_history WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestID returns the highest history id, 0 when the log is empty.
func (r Recorder) LatestID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM lead_history`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

var ErrEmpty = fmt.Errorf("no history")

func (r Recorder) query(ctx context.Context, query string, args ...any) ([]domain.HistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var fromUser, reason sql.NullString
		if err := rows.Scan(&e.ID, &e.LeadID, &e.PreviousStatus, &e.NewStatus, &e.ChangedByUserID, &fromUser, &reason, &e.ChangedAt); err != nil {
			return nil, err
		}
		if fromUser.Valid {
			e.FromUserID = &fromUser.String
		}
		if reason.Valid {
			e.Reason = reason.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
