package repo

import (
	"context"
	"database/sql"
	"errors"

	"leadline/internal/domain"
)

const userColumns = `id,name,email,role,sub_role,team_id,created_at`

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	if u.ID == "" {
		return errors.New("id required")
	}
	if !domain.ValidRole(u.Role) {
		return errors.New("unknown role " + string(u.Role))
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES (?,?,?,?,?,?,?)`,
		u.ID, u.Name, u.Email, string(u.Role), nullable(string(u.SubRole)), nullable(u.TeamID), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, email))
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var subRole, teamID sql.NullString
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &subRole, &teamID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.SubRole = domain.SubRole(subRole.String)
	u.TeamID = teamID.String
	return u, nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var subRole, teamID sql.NullString
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &subRole, &teamID, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.SubRole = domain.SubRole(subRole.String)
		u.TeamID = teamID.String
		res = append(res, u)
	}
	return res, rows.Err()
}

// SetSubRole updates the server-held admin sub-role. Only admin rows carry
// one; clearing is allowed.
func (r Repo) SetSubRole(ctx context.Context, userID string, subRole domain.SubRole) error {
	switch subRole {
	case domain.SubRoleNone, domain.SubRoleAdminOrganizer, domain.SubRoleSessionOrganizer:
	default:
		return errors.New("unknown sub_role " + string(subRole))
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET sub_role=? WHERE id=?`, nullable(string(subRole)), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
