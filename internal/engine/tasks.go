package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"vibeline/internal/domain"
	"vibeline/internal/engine/gate"
	"vibeline/internal/events"
	"vibeline/internal/repo"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title          string
	Description    string
	ProjectID      string
	EstimatedHours *int
	EstimatedCost  *float64
}

// CreateTask opens a new task owned by the calling vibe coder. Admins may
// also create tasks on their own behalf.
func (e Engine) CreateTask(ctx context.Context, p domain.Principal, opts TaskCreateOptions) (domain.Task, error) {
	if p.Role != domain.RoleVibeCoder && p.Role != domain.RoleAdmin {
		return domain.Task{}, gate.ForbiddenError{Reason: "vibe_coder role required to create tasks"}
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, errors.New("title is required")
	}
	now := e.nowRFC3339()
	t := domain.Task{
		ID:             uuid.New().String(),
		Title:          strings.TrimSpace(opts.Title),
		Description:    strings.TrimSpace(opts.Description),
		Status:         domain.TaskOpen,
		VibeCoderID:    p.ID,
		ProjectID:      opts.ProjectID,
		EstimatedHours: opts.EstimatedHours,
		EstimatedCost:  opts.EstimatedCost,
		Progress:       0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := e.withWriteTimeout(ctx, func(ctx context.Context) error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, "task.created", "task", t.ID, p.ID, events.EventPayload{
			"title":  t.Title,
			"status": t.Status,
		}); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// AssignTask claims an open task for the calling developer. The conditional
// update in the store is the sole writer of developer_id, so of N concurrent
// claims exactly one wins and the rest fail with AlreadyAssignedError.
func (e Engine) AssignTask(ctx context.Context, p domain.Principal, taskID string) (domain.Task, error) {
	if p.Role != domain.RoleDeveloper && p.Role != domain.RoleAdmin {
		return domain.Task{}, gate.ForbiddenError{Reason: "developer role required to claim tasks"}
	}
	var t domain.Task
	err := e.withWriteTimeout(ctx, func(ctx context.Context) error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := e.Repo.GetTaskTx(ctx, tx, taskID); err != nil {
			return err
		}
		if err := e.Repo.AssignTask(ctx, tx, taskID, p.ID, e.nowRFC3339()); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return AlreadyAssignedError{TaskID: taskID}
			}
			return err
		}
		t, err = e.Repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, "task.assigned", "task", t.ID, p.ID, events.EventPayload{
			"developer_id": p.ID,
			"status":       t.Status,
		}); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ensureTaskTransition admits forward moves only. Review is reachable from
// in_progress alone, and in_progress may complete directly.
func ensureTaskTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.TaskInProgress:
		if newStatus == domain.TaskReview || newStatus == domain.TaskCompleted {
			return nil
		}
	case domain.TaskReview:
		if newStatus == domain.TaskCompleted {
			return nil
		}
	}
	return InvalidTransitionError{Entity: "task", From: oldStatus, To: newStatus}
}

// AdvanceTask moves a task forward through its lifecycle. The caller must
// be the assigned developer, the owning vibe coder, or an admin. The store
// guard on the prior status keeps two racing advances from both landing.
func (e Engine) AdvanceTask(ctx context.Context, p domain.Principal, taskID, toStatus string) (domain.Task, error) {
	var t domain.Task
	err := e.withWriteTimeout(ctx, func(ctx context.Context) error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		t, err = e.Repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !gate.CanView(p, t) {
			return repo.ErrNotFound
		}
		if !gate.CanActOn(p, t) {
			return gate.ForbiddenError{Reason: "only task participants may advance a task"}
		}
		if err := ensureTaskTransition(t.Status, toStatus); err != nil {
			return err
		}
		if err := e.Repo.UpdateTaskStatus(ctx, tx, taskID, t.Status, toStatus, e.nowRFC3339()); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return InvalidTransitionError{Entity: "task", From: t.Status, To: toStatus}
			}
			return err
		}
		if err := e.Events.Append(ctx, tx, "task.advanced", "task", t.ID, p.ID, events.EventPayload{
			"from_status": t.Status,
			"to_status":   toStatus,
		}); err != nil {
			return err
		}
		t.Status = toStatus
		return tx.Commit()
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// GetTask returns a task if the gate admits the principal. Denied and
// absent look the same to the caller so existence is never leaked.
func (e Engine) GetTask(ctx context.Context, p domain.Principal, taskID string) (domain.Task, error) {
	var t domain.Task
	err := e.withReadTimeout(ctx, func(ctx context.Context) error {
		var err error
		t, err = e.Repo.GetTask(ctx, taskID)
		return err
	})
	if err != nil {
		return domain.Task{}, err
	}
	if !gate.CanView(p, t) {
		return domain.Task{}, repo.ErrNotFound
	}
	return t, nil
}

// ListTasks returns the tasks visible to the principal under the given
// filters. The visibility predicate is part of the query so a page limit
// counts visible rows only; the gate re-checks each returned row with the
// same rules as GetTask.
func (e Engine) ListTasks(ctx context.Context, p domain.Principal, f repo.TaskFilters) ([]domain.Task, error) {
	f.ViewerID = p.ID
	f.ViewerRole = p.Role
	var all []domain.Task
	err := e.withReadTimeout(ctx, func(ctx context.Context) error {
		var err error
		all, err = e.Repo.ListTasks(ctx, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	visible := all[:0]
	for _, t := range all {
		if gate.CanView(p, t) {
			visible = append(visible, t)
		}
	}
	return visible, nil
}

// TaskSpace admits a principal into a task's collaboration view. The
// stricter gate applies: participants only, and only once work has begun.
// Non-participants get NotFound so existence stays hidden; participants on
// an open task get the explicit not-collaborable result instead.
func (e Engine) TaskSpace(ctx context.Context, p domain.Principal, taskID string) (domain.Task, error) {
	var t domain.Task
	err := e.withReadTimeout(ctx, func(ctx context.Context) error {
		var err error
		t, err = e.Repo.GetTask(ctx, taskID)
		return err
	})
	if err != nil {
		return domain.Task{}, err
	}
	if err := gate.CanCollaborate(p, t); err != nil {
		var forbidden gate.ForbiddenError
		if errors.As(err, &forbidden) && !gate.CanView(p, t) {
			return domain.Task{}, repo.ErrNotFound
		}
		return domain.Task{}, err
	}
	return t, nil
}

// UpdateProgress records completion percentage on an in-progress task.
// Only the assigned developer reports progress.
func (e Engine) UpdateProgress(ctx context.Context, p domain.Principal, taskID string, progress int) (domain.Task, error) {
	if progress < 0 || progress > 100 {
		return domain.Task{}, fmt.Errorf("progress must be between 0 and 100")
	}
	var t domain.Task
	err := e.withWriteTimeout(ctx, func(ctx context.Context) error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		t, err = e.Repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !gate.CanView(p, t) {
			return repo.ErrNotFound
		}
		assigned := t.DeveloperID != nil && *t.DeveloperID == p.ID
		if !assigned && p.Role != domain.RoleAdmin {
			return gate.ForbiddenError{Reason: "only the assigned developer reports progress"}
		}
		if err := e.Repo.UpdateTaskProgress(ctx, tx, taskID, progress, e.nowRFC3339()); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return fmt.Errorf("progress can only move forward on an in-progress task")
			}
			return err
		}
		if err := e.Events.Append(ctx, tx, "task.progress", "task", t.ID, p.ID, events.EventPayload{
			"progress": progress,
		}); err != nil {
			return err
		}
		t.Progress = progress
		return tx.Commit()
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// DraftTask asks the text-generation collaborator for a task description
// from a short idea. The result is a draft only; nothing is persisted.
func (e Engine) DraftTask(ctx context.Context, p domain.Principal, idea string) (string, error) {
	if p.Role != domain.RoleVibeCoder && p.Role != domain.RoleAdmin {
		return "", gate.ForbiddenError{Reason: "vibe_coder role required to draft tasks"}
	}
	if e.Completer == nil {
		return "", errors.New("text generation is not configured")
	}
	idea = strings.TrimSpace(idea)
	if idea == "" {
		return "", errors.New("idea is required")
	}
	prompt := fmt.Sprintf(
		"Write a concise task description for a software development marketplace.\n"+
			"Cover scope, deliverables and acceptance criteria in plain prose.\n"+
			"Idea: %s", idea)
	return e.Completer.Complete(ctx, prompt)
}
