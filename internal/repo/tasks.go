package repo

import (
	"context"
	"database/sql"
	"strings"

	"vibeline/internal/domain"
)

const taskColumns = `id,title,description,status,vibe_coder_id,developer_id,project_id,estimated_hours,estimated_cost,progress,created_at,updated_at`

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), t.Status, t.VibeCoderID, nullableStringPtr(t.DeveloperID),
		nullable(t.ProjectID), nullableIntPtr(t.EstimatedHours), nullableFloatPtr(t.EstimatedCost),
		t.Progress, t.CreatedAt, t.UpdatedAt)
	return err
}

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var description, developerID, projectID sql.NullString
	var estimatedHours sql.NullInt64
	var estimatedCost sql.NullFloat64
	err := scan(&t.ID, &t.Title, &description, &t.Status, &t.VibeCoderID, &developerID,
		&projectID, &estimatedHours, &estimatedCost, &t.Progress, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if developerID.Valid {
		t.DeveloperID = &developerID.String
	}
	if projectID.Valid {
		t.ProjectID = projectID.String
	}
	if estimatedHours.Valid {
		h := int(estimatedHours.Int64)
		t.EstimatedHours = &h
	}
	if estimatedCost.Valid {
		c := estimatedCost.Float64
		t.EstimatedCost = &c
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	Status          string
	VibeCoderID     string
	DeveloperID     string
	ProjectID       string
	Limit           int
	CursorCreatedAt string
	CursorID        string

	// ViewerID and ViewerRole scope the query to rows the viewer may see,
	// so LIMIT counts visible rows instead of discarding them after the
	// fact. An empty role means no scoping.
	ViewerID   string
	ViewerRole string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	switch f.ViewerRole {
	case domain.RoleVibeCoder:
		clauses = append(clauses, "vibe_coder_id=?")
		args = append(args, f.ViewerID)
	case domain.RoleDeveloper:
		clauses = append(clauses, "(developer_id=? OR status=?)")
		args = append(args, f.ViewerID, domain.TaskOpen)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.VibeCoderID != "" {
		clauses = append(clauses, "vibe_coder_id=?")
		args = append(args, f.VibeCoderID)
	}
	if f.DeveloperID != "" {
		clauses = append(clauses, "developer_id=?")
		args = append(args, f.DeveloperID)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// AssignTask claims an open, unassigned task for a developer in one
// conditional statement. The status/developer_id guard in the WHERE clause
// is the mutual-exclusion point: under concurrent attempts exactly one
// update matches and every loser gets ErrConflict.
func (r Repo) AssignTask(ctx context.Context, tx *sql.Tx, taskID, developerID, now string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET developer_id=?, status=?, progress=0, updated_at=? WHERE id=? AND status=? AND developer_id IS NULL`,
		developerID, domain.TaskInProgress, now, taskID, domain.TaskOpen)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// UpdateTaskStatus advances a task only when it still sits in the expected
// prior status, serializing concurrent advances at the store.
func (r Repo) UpdateTaskStatus(ctx context.Context, tx *sql.Tx, taskID, fromStatus, toStatus, now string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status=?, updated_at=? WHERE id=? AND status=?`,
		toStatus, now, taskID, fromStatus)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (r Repo) UpdateTaskProgress(ctx context.Context, tx *sql.Tx, taskID string, progress int, now string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET progress=?, updated_at=? WHERE id=? AND status=? AND progress<=?`,
		progress, now, taskID, domain.TaskInProgress, progress)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
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
