package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"leadline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const leadColumns = `id,name,phone,email,course,source,status,current_owner_id,created_by_id,registration_amount,created_at,updated_at`

func (r Repo) InsertLead(ctx context.Context, tx *sql.Tx, l domain.Lead) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO leads(`+leadColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.Name, nullable(l.Phone), nullable(l.Email), nullable(l.Course), nullable(l.Source),
		string(l.Status), nullableStringPtr(l.CurrentOwnerID), l.CreatedByID, l.RegistrationAmount,
		l.CreatedAt, l.UpdatedAt)
	return err
}

func (r Repo) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	return scanLead(r.DB.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=?`, id))
}

func scanLead(row *sql.Row) (domain.Lead, error) {
	var l domain.Lead
	var phone, email, course, source, owner sql.NullString
	err := row.Scan(&l.ID, &l.Name, &phone, &email, &course, &source, &l.Status, &owner,
		&l.CreatedByID, &l.RegistrationAmount, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	l.Phone = phone.String
	l.Email = email.String
	l.Course = course.String
	l.Source = source.String
	if owner.Valid {
		l.CurrentOwnerID = &owner.String
	}
	return l, nil
}

// GuardedLeadUpdate is the conditional-update primitive: the write succeeds
// only if the stored status (and, for claims, the unowned state) still match
// what the caller read. Equivalent to optimistic concurrency with a
// status-equality guard.
type GuardedLeadUpdate struct {
	ID                 string
	ExpectStatus       domain.Status
	RequireUnowned     bool
	NewStatus          domain.Status
	NewOwnerID         *string
	RegistrationAmount *int64
	UpdatedAt          string
}

// UpdateLeadGuarded applies u within tx and reports whether any row matched.
// false means a concurrent writer changed the lead first.
func (r Repo) UpdateLeadGuarded(ctx context.Context, tx *sql.Tx, u GuardedLeadUpdate) (bool, error) {
	sets := []string{"status=?", "current_owner_id=?", "updated_at=?"}
	args := []any{string(u.NewStatus), nullableStringPtr(u.NewOwnerID), u.UpdatedAt}
	if u.RegistrationAmount != nil {
		sets = append(sets, "registration_amount=?")
		args = append(args, *u.RegistrationAmount)
	}
	query := `UPDATE leads SET ` + strings.Join(sets, ", ") + ` WHERE id=? AND status=?`
	args = append(args, u.ID, string(u.ExpectStatus))
	if u.RequireUnowned {
		query += ` AND current_owner_id IS NULL`
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// LeadFilters narrow ListLeads. Claimable selects unowned accounts-stage
// leads; TeamID scopes to leads owned by members of that team.
type LeadFilters struct {
	Status          domain.Status
	OwnerID         string
	CreatedByID     string
	Claimable       bool
	TeamID          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListLeads(ctx context.Context, f LeadFilters) ([]domain.Lead, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "current_owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.CreatedByID != "" {
		clauses = append(clauses, "created_by_id=?")
		args = append(args, f.CreatedByID)
	}
	if f.Claimable {
		clauses = append(clauses, "current_owner_id IS NULL")
		clauses = append(clauses, "status IN ('accounts_pending','ready_for_class','pending_but_ready')")
	}
	if f.TeamID != "" {
		clauses = append(clauses, `(current_owner_id IN (SELECT id FROM users WHERE team_id=?)
OR created_by_id IN (SELECT id FROM users WHERE team_id=?))`)
		args = append(args, f.TeamID, f.TeamID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + leadColumns + ` FROM leads ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Lead
	for rows.Next() {
		var l domain.Lead
		var phone, email, course, source, owner sql.NullString
		if err := rows.Scan(&l.ID, &l.Name, &phone, &email, &course, &source, &l.Status, &owner,
			&l.CreatedByID, &l.RegistrationAmount, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		l.Phone = phone.String
		l.Email = email.String
		l.Course = course.String
		l.Source = source.String
		if owner.Valid {
			l.CurrentOwnerID = &owner.String
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// CountLeadsByStatus feeds the pipeline overview.
func (r Repo) CountLeadsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM leads GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
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
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
