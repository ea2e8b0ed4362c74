package domain

// Roles a principal can hold.
const (
	RoleVibeCoder = "vibe_coder"
	RoleDeveloper = "developer"
	RoleAdmin     = "admin"
)

// Developer application statuses.
const (
	ApplicationPending  = "pending"
	ApplicationApproved = "approved"
	ApplicationRejected = "rejected"
)

// Task statuses. Tasks only move forward:
// open -> in_progress -> review -> completed (in_progress -> completed allowed).
const (
	TaskOpen       = "open"
	TaskInProgress = "in_progress"
	TaskReview     = "review"
	TaskCompleted  = "completed"
)

// Principal is an authenticated actor: a user row plus its role.
type Principal struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	FullName         string `json:"full_name,omitempty"`
	Role             string `json:"role" enum:"vibe_coder,developer,admin"`
	ProfileCompleted bool   `json:"profile_completed"`
	CreatedAt        string `json:"created_at" format:"date-time"`
}

// Session is an opaque login credential; only the hash is stored.
type Session struct {
	TokenHash string `json:"token_hash"`
	UserID    string `json:"user_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

// DeveloperApplication tracks a user's request to join as a developer.
// At most one non-rejected row may exist per email.
type DeveloperApplication struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	Email           string `json:"email"`
	FullName        string `json:"full_name"`
	Skills          string `json:"skills,omitempty"`
	ExperienceLevel string `json:"experience_level,omitempty"`
	Status          string `json:"status" enum:"pending,approved,rejected"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

// Task is a unit of work posted by a vibe coder. DeveloperID stays nil until
// the assignment transition claims the task.
type Task struct {
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
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

// Event is an append-only record of a state change.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates a service principal acting as a user.
type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
