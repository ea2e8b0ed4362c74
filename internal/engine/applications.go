package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"vibeline/internal/domain"
	"vibeline/internal/events"
	"vibeline/internal/engine/gate"
	"vibeline/internal/repo"
)

// ApplicationSubmitOptions are parameters for submitting a developer
// application.
type ApplicationSubmitOptions struct {
	Email           string
	FullName        string
	Skills          string
	ExperienceLevel string
}

// SubmitApplication files a pending application for the calling principal.
// At most one non-rejected application may hold an email at a time; the
// store's partial unique index enforces this and a lost race surfaces as
// DuplicateApplicationError. A prior rejected row never blocks resubmission.
func (e Engine) SubmitApplication(ctx context.Context, p domain.Principal, opts ApplicationSubmitOptions) (domain.DeveloperApplication, error) {
	email := strings.ToLower(strings.TrimSpace(opts.Email))
	if email == "" {
		email = p.Email
	}
	if email == "" {
		return domain.DeveloperApplication{}, errors.New("email is required")
	}
	if strings.TrimSpace(opts.FullName) == "" {
		return domain.DeveloperApplication{}, errors.New("full_name is required")
	}
	a := domain.DeveloperApplication{
		ID:              uuid.New().String(),
		UserID:          p.ID,
		Email:           email,
		FullName:        strings.TrimSpace(opts.FullName),
		Skills:          strings.TrimSpace(opts.Skills),
		ExperienceLevel: strings.TrimSpace(opts.ExperienceLevel),
		Status:          domain.ApplicationPending,
		CreatedAt:       e.nowRFC3339(),
	}
	err := e.withWriteTimeout(ctx, func(ctx context.Context) error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.InsertApplication(ctx, tx, a); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, "application.submitted", "application", a.ID, p.ID, events.EventPayload{
			"email":  a.Email,
			"status": a.Status,
		}); err != nil {
			return err
		}
		return tx.Commit()
	})
	if errors.Is(err, repo.ErrConflict) {
		dup := DuplicateApplicationError{Email: email}
		if existing, lookupErr := e.Repo.ActiveApplicationByEmail(ctx, email); lookupErr == nil {
			dup.ApplicationID = existing.ID
			dup.Status = existing.Status
		}
		return domain.DeveloperApplication{}, dup
	}
	if err != nil {
		return domain.DeveloperApplication{}, err
	}
	return a, nil
}

// DecideApplication approves or rejects a pending application. Admin only.
// Approval promotes the applicant to the developer role in the same
// transaction; a vibe coder never regains that role by resubmitting after
// rejection without a fresh approval. Decisions apply only to rows still
// pending, so a second decision on the same application fails with
// InvalidTransitionError.
func (e Engine) DecideApplication(ctx context.Context, p domain.Principal, applicationID, decision string) (domain.DeveloperApplication, error) {
	if p.Role != domain.RoleAdmin {
		return domain.DeveloperApplication{}, gate.ForbiddenError{Reason: "admin role required"}
	}
	var target string
	switch decision {
	case "approve":
		target = domain.ApplicationApproved
	case "reject":
		target = domain.ApplicationRejected
	default:
		return domain.DeveloperApplication{}, fmt.Errorf("unknown decision %q", decision)
	}
	var a domain.DeveloperApplication
	err := e.withWriteTimeout(ctx, func(ctx context.Context) error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		a, err = e.Repo.GetApplicationTx(ctx, tx, applicationID)
		if err != nil {
			return err
		}
		if err := e.Repo.DecideApplicationTx(ctx, tx, applicationID, target); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return InvalidTransitionError{Entity: "application", From: a.Status, To: target}
			}
			return err
		}
		if target == domain.ApplicationApproved {
			if err := e.Repo.UpdateUserRoleTx(ctx, tx, a.UserID, domain.RoleDeveloper); err != nil {
				return err
			}
		}
		if err := e.Events.Append(ctx, tx, "application.decided", "application", a.ID, p.ID, events.EventPayload{
			"from_status": a.Status,
			"to_status":   target,
		}); err != nil {
			return err
		}
		a.Status = target
		return tx.Commit()
	})
	if err != nil {
		return domain.DeveloperApplication{}, err
	}
	return a, nil
}

// ListApplications is an admin-only read over all applications.
func (e Engine) ListApplications(ctx context.Context, p domain.Principal, f repo.ApplicationFilters) ([]domain.DeveloperApplication, error) {
	if p.Role != domain.RoleAdmin {
		return nil, gate.ForbiddenError{Reason: "admin role required"}
	}
	var res []domain.DeveloperApplication
	err := e.withReadTimeout(ctx, func(ctx context.Context) error {
		var err error
		res, err = e.Repo.ListApplications(ctx, f)
		return err
	})
	return res, err
}

// GetApplication returns a single application. Admins see all; applicants
// see their own; everything else is masked as not found.
func (e Engine) GetApplication(ctx context.Context, p domain.Principal, id string) (domain.DeveloperApplication, error) {
	var a domain.DeveloperApplication
	err := e.withReadTimeout(ctx, func(ctx context.Context) error {
		var err error
		a, err = e.Repo.GetApplication(ctx, id)
		return err
	})
	if err != nil {
		return domain.DeveloperApplication{}, err
	}
	if p.Role != domain.RoleAdmin && a.UserID != p.ID {
		return domain.DeveloperApplication{}, repo.ErrNotFound
	}
	return a, nil
}
