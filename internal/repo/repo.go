package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"vibeline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a lost uniqueness or conditional-update race at the
	// store level. Callers map it to a domain error; it is never surfaced raw.
	ErrConflict = errors.New("conflict")
)

// isUniqueViolation detects SQLite unique-index failures without importing
// driver internals.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func scanUser(row *sql.Row) (domain.Principal, error) {
	var u domain.Principal
	var fullName sql.NullString
	var completed int
	err := row.Scan(&u.ID, &u.Email, &fullName, &u.Role, &completed, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if fullName.Valid {
		u.FullName = fullName.String
	}
	u.ProfileCompleted = completed != 0
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, u domain.Principal) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,email,full_name,role,profile_completed,created_at) VALUES (?,?,?,?,?,?)`,
		u.ID, u.Email, nullable(u.FullName), u.Role, boolToInt(u.ProfileCompleted), u.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.Principal, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,email,full_name,role,profile_completed,created_at FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.Principal, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,email,full_name,role,profile_completed,created_at FROM users WHERE email=?`, email))
}

func (r Repo) ListUsers(ctx context.Context, role string) ([]domain.Principal, error) {
	query := `SELECT id,email,full_name,role,profile_completed,created_at FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Principal
	for rows.Next() {
		var u domain.Principal
		var fullName sql.NullString
		var completed int
		if err := rows.Scan(&u.ID, &u.Email, &fullName, &u.Role, &completed, &u.CreatedAt); err != nil {
			return nil, err
		}
		if fullName.Valid {
			u.FullName = fullName.String
		}
		u.ProfileCompleted = completed != 0
		res = append(res, u)
	}
	return res, rows.Err()
}

// UpdateUserRoleTx promotes or demotes a user inside a larger transaction,
// e.g. developer promotion on application approval.
func (r Repo) UpdateUserRoleTx(ctx context.Context, tx *sql.Tx, userID, role string) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET role=? WHERE id=?`, role, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateUserProfileCompleted(ctx context.Context, userID string, completed bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET profile_completed=? WHERE id=?`, boolToInt(completed), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertSession(ctx context.Context, s domain.Session) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sessions(token_hash,user_id,created_at,expires_at) VALUES (?,?,?,?)`,
		s.TokenHash, s.UserID, s.CreatedAt, s.ExpiresAt)
	return err
}

func (r Repo) GetSessionByHash(ctx context.Context, hash string) (domain.Session, error) {
	var s domain.Session
	err := r.DB.QueryRowContext(ctx, `SELECT token_hash,user_id,created_at,expires_at FROM sessions WHERE token_hash=?`, hash).
		Scan(&s.TokenHash, &s.UserID, &s.CreatedAt, &s.ExpiresAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) DeleteSession(ctx context.Context, hash string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash=?`, hash)
	return err
}

func (r Repo) DeleteExpiredSessions(ctx context.Context, now string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LatestEvents returns the newest events first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`
	return r.queryEvents(ctx, query, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
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
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
