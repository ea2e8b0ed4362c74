package gate

import (
	"fmt"

	"vibeline/internal/domain"
)

// ForbiddenError indicates a valid principal lacking the role or ownership
// an operation requires.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

// NotCollaborableError indicates a task whose participants are allowed in
// but whose status does not admit collaboration yet. Distinct from
// ForbiddenError so callers can explain which of the two happened.
type NotCollaborableError struct {
	Status string
}

func (e NotCollaborableError) Error() string {
	return fmt.Sprintf("task not collaborable in status %s", e.Status)
}

// CanView decides whether a principal may see a task at all. Admins see
// everything, vibe coders see their own tasks, developers see their assigned
// tasks plus any open task available for claiming.
func CanView(p domain.Principal, t domain.Task) bool {
	switch p.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleVibeCoder:
		return t.VibeCoderID == p.ID
	case domain.RoleDeveloper:
		if t.DeveloperID != nil && *t.DeveloperID == p.ID {
			return true
		}
		return t.Status == domain.TaskOpen
	}
	return false
}

// CanCollaborate decides whether a principal may enter the task space. Only
// the owning vibe coder, the assigned developer, or an admin qualify, and
// only once the task has left the open state.
func CanCollaborate(p domain.Principal, t domain.Task) error {
	participant := false
	switch p.Role {
	case domain.RoleAdmin:
		participant = true
	case domain.RoleVibeCoder:
		participant = t.VibeCoderID == p.ID
	case domain.RoleDeveloper:
		participant = t.DeveloperID != nil && *t.DeveloperID == p.ID
	}
	if !participant {
		return ForbiddenError{Reason: "not a task participant"}
	}
	switch t.Status {
	case domain.TaskInProgress, domain.TaskReview, domain.TaskCompleted:
		return nil
	}
	return NotCollaborableError{Status: t.Status}
}

// CanActOn decides whether a principal may drive a task's status forward.
// Same participant set as collaboration but without the status restriction;
// transition legality is checked separately.
func CanActOn(p domain.Principal, t domain.Task) bool {
	switch p.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleVibeCoder:
		return t.VibeCoderID == p.ID
	case domain.RoleDeveloper:
		return t.DeveloperID != nil && *t.DeveloperID == p.ID
	}
	return false
}
