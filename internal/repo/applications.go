package repo

import (
	"context"
	"database/sql"
	"strings"

	"vibeline/internal/domain"
)

// InsertApplication inserts a pending application inside the caller's
// transaction. The partial unique index on non-rejected emails makes the
// duplicate check and the insert a single atomic store operation; a lost
// race comes back as ErrConflict.
func (r Repo) InsertApplication(ctx context.Context, tx *sql.Tx, a domain.DeveloperApplication) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO developer_applications(id,user_id,email,full_name,skills,experience_level,status,created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.UserID, a.Email, a.FullName, nullable(a.Skills), nullable(a.ExperienceLevel), a.Status, a.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func scanApplication(row *sql.Row) (domain.DeveloperApplication, error) {
	var a domain.DeveloperApplication
	var skills, experience sql.NullString
	err := row.Scan(&a.ID, &a.UserID, &a.Email, &a.FullName, &skills, &experience, &a.Status, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if skills.Valid {
		a.Skills = skills.String
	}
	if experience.Valid {
		a.ExperienceLevel = experience.String
	}
	return a, nil
}

func (r Repo) GetApplication(ctx context.Context, id string) (domain.DeveloperApplication, error) {
	return scanApplication(r.DB.QueryRowContext(ctx,
		`SELECT id,user_id,email,full_name,skills,experience_level,status,created_at FROM developer_applications WHERE id=?`, id))
}

func (r Repo) GetApplicationTx(ctx context.Context, tx *sql.Tx, id string) (domain.DeveloperApplication, error) {
	return scanApplication(tx.QueryRowContext(ctx,
		`SELECT id,user_id,email,full_name,skills,experience_level,status,created_at FROM developer_applications WHERE id=?`, id))
}

// ActiveApplicationByEmail returns the single non-rejected row for an email,
// if any.
func (r Repo) ActiveApplicationByEmail(ctx context.Context, email string) (domain.DeveloperApplication, error) {
	return scanApplication(r.DB.QueryRowContext(ctx,
		`SELECT id,user_id,email,full_name,skills,experience_level,status,created_at FROM developer_applications WHERE email=? AND status != 'rejected'`, email))
}

type ApplicationFilters struct {
	Status          string
	UserID          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListApplications(ctx context.Context, f ApplicationFilters) ([]domain.DeveloperApplication, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,user_id,email,full_name,skills,experience_level,status,created_at FROM developer_applications ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DeveloperApplication
	for rows.Next() {
		var a domain.DeveloperApplication
		var skills, experience sql.NullString
		if err := rows.Scan(&a.ID, &a.UserID, &a.Email, &a.FullName, &skills, &experience, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		if skills.Valid {
			a.Skills = skills.String
		}
		if experience.Valid {
			a.ExperienceLevel = experience.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// DecideApplicationTx flips a pending application to its decision. The
// status guard lives in the statement so two concurrent decisions cannot
// both take effect; zero rows affected means the row was absent or no
// longer pending, reported as ErrConflict for the caller to diagnose.
func (r Repo) DecideApplicationTx(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE developer_applications SET status=? WHERE id=? AND status='pending'`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}
