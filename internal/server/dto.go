package server

import (
	"vibeline/internal/domain"
)

type SignupRequest struct {
	Email    string `json:"email" format:"email"`
	FullName string `json:"full_name,omitempty"`
}

type LoginRequest struct {
	Email string `json:"email" format:"email"`
}

type LoginResponse struct {
	Token string            `json:"token"`
	User  PrincipalResponse `json:"user"`
}

type PrincipalResponse struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	FullName         string `json:"full_name,omitempty"`
	Role             string `json:"role" enum:"vibe_coder,developer,admin"`
	ProfileCompleted bool   `json:"profile_completed"`
	CreatedAt        string `json:"created_at"`
}

type SubmitApplicationRequest struct {
	Email           string `json:"email,omitempty" format:"email"`
	FullName        string `json:"full_name"`
	Skills          string `json:"skills,omitempty"`
	ExperienceLevel string `json:"experience_level,omitempty"`
}

type ApplicationResponse struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	Email           string `json:"email"`
	FullName        string `json:"full_name"`
	Skills          string `json:"skills,omitempty"`
	ExperienceLevel string `json:"experience_level,omitempty"`
	Status          string `json:"status" enum:"pending,approved,rejected"`
	CreatedAt       string `json:"created_at"`
}

type DecideApplicationRequest struct {
	Decision string `json:"decision" enum:"approve,reject"`
}

type CreateTaskRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	ProjectID      string   `json:"project_id,omitempty"`
	EstimatedHours *int     `json:"estimated_hours,omitempty"`
	EstimatedCost  *float64 `json:"estimated_cost,omitempty"`
}

type AdvanceTaskRequest struct {
	Status string `json:"status" enum:"in_progress,review,completed"`
}

type ProgressRequest struct {
	Progress int `json:"progress" minimum:"0" maximum:"100"`
}

type DraftTaskRequest struct {
	Idea string `json:"idea"`
}

type DraftTaskResponse struct {
	Description string `json:"description"`
}

type TaskResponse struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Status         string   `json:"status" enum:"open,in_progress,review,completed"`
	VibeCoderID    string   `json:"vibe_coder_id"`
	DeveloperID    *string  `json:"developer_id,omitempty"`
	ProjectID      string   `json:"project_id,omitempty"`
	EstimatedHours *int     `json:"estimated_hours,omitempty"`
	EstimatedCost  *float64 `json:"estimated_cost,omitempty"`
	Progress       int      `json:"progress"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
	Key       string `json:"key,omitempty"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedApplications struct {
	Items      []ApplicationResponse `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

func principalResponse(p domain.Principal) PrincipalResponse {
	return PrincipalResponse{
		ID:               p.ID,
		Email:            p.Email,
		FullName:         p.FullName,
		Role:             p.Role,
		ProfileCompleted: p.ProfileCompleted,
		CreatedAt:        p.CreatedAt,
	}
}

func applicationResponse(a domain.DeveloperApplication) ApplicationResponse {
	return ApplicationResponse{
		ID:              a.ID,
		UserID:          a.UserID,
		Email:           a.Email,
		FullName:        a.FullName,
		Skills:          a.Skills,
		ExperienceLevel: a.ExperienceLevel,
		Status:          a.Status,
		CreatedAt:       a.CreatedAt,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:             t.ID,
		Title:          t.Title,
		Description:    t.Description,
		Status:         t.Status,
		VibeCoderID:    t.VibeCoderID,
		DeveloperID:    t.DeveloperID,
		ProjectID:      t.ProjectID,
		EstimatedHours: t.EstimatedHours,
		EstimatedCost:  t.EstimatedCost,
		Progress:       t.Progress,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func mapApplications(items []domain.DeveloperApplication) []ApplicationResponse {
	res := make([]ApplicationResponse, 0, len(items))
	for _, a := range items {
		res = append(res, applicationResponse(a))
	}
	return res
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}
