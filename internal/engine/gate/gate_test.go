package gate

import (
	"errors"
	"testing"

	"vibeline/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestCanViewRoles(t *testing.T) {
	task := domain.Task{ID: "t1", Status: domain.TaskInProgress, VibeCoderID: "v1", DeveloperID: strPtr("d1")}

	admin := domain.Principal{ID: "a1", Role: domain.RoleAdmin}
	owner := domain.Principal{ID: "v1", Role: domain.RoleVibeCoder}
	otherVC := domain.Principal{ID: "v2", Role: domain.RoleVibeCoder}
	assigned := domain.Principal{ID: "d1", Role: domain.RoleDeveloper}
	otherDev := domain.Principal{ID: "d2", Role: domain.RoleDeveloper}

	if !CanView(admin, task) {
		t.Fatal("admin should view any task")
	}
	if !CanView(owner, task) {
		t.Fatal("owning vibe coder should view own task")
	}
	if CanView(otherVC, task) {
		t.Fatal("other vibe coder should not view foreign task")
	}
	if !CanView(assigned, task) {
		t.Fatal("assigned developer should view task")
	}
	if CanView(otherDev, task) {
		t.Fatal("unassigned developer should not view an in-progress task")
	}

	open := domain.Task{ID: "t2", Status: domain.TaskOpen, VibeCoderID: "v1"}
	if !CanView(otherDev, open) {
		t.Fatal("any developer should view an open task")
	}
	if CanView(otherVC, open) {
		t.Fatal("open tasks are not visible to non-owning vibe coders")
	}
}

func TestAdminMonotonicity(t *testing.T) {
	tasks := []domain.Task{
		{ID: "t1", Status: domain.TaskOpen, VibeCoderID: "v1"},
		{ID: "t2", Status: domain.TaskInProgress, VibeCoderID: "v1", DeveloperID: strPtr("d1")},
		{ID: "t3", Status: domain.TaskCompleted, VibeCoderID: "v2", DeveloperID: strPtr("d2")},
	}
	admin := domain.Principal{ID: "a1", Role: domain.RoleAdmin}
	others := []domain.Principal{
		{ID: "v1", Role: domain.RoleVibeCoder},
		{ID: "d1", Role: domain.RoleDeveloper},
		{ID: "d2", Role: domain.RoleDeveloper},
	}
	for _, task := range tasks {
		for _, p := range others {
			if CanView(p, task) && !CanView(admin, task) {
				t.Fatalf("admin denied where %s/%s admitted on %s", p.ID, p.Role, task.ID)
			}
		}
	}
}

func TestCanCollaborateStatusGate(t *testing.T) {
	owner := domain.Principal{ID: "v1", Role: domain.RoleVibeCoder}

	open := domain.Task{ID: "t1", Status: domain.TaskOpen, VibeCoderID: "v1"}
	err := CanCollaborate(owner, open)
	var notCollab NotCollaborableError
	if !errors.As(err, &notCollab) {
		t.Fatalf("expected NotCollaborableError for open task, got %v", err)
	}
	if notCollab.Status != domain.TaskOpen {
		t.Fatalf("unexpected status in error: %s", notCollab.Status)
	}

	for _, status := range []string{domain.TaskInProgress, domain.TaskReview, domain.TaskCompleted} {
		task := domain.Task{ID: "t1", Status: status, VibeCoderID: "v1", DeveloperID: strPtr("d1")}
		if err := CanCollaborate(owner, task); err != nil {
			t.Fatalf("owner should collaborate in %s: %v", status, err)
		}
	}
}

func TestCanCollaborateForbiddenDistinctFromStatus(t *testing.T) {
	task := domain.Task{ID: "t1", Status: domain.TaskInProgress, VibeCoderID: "v1", DeveloperID: strPtr("d1")}

	stranger := domain.Principal{ID: "d2", Role: domain.RoleDeveloper}
	err := CanCollaborate(stranger, task)
	var forbidden ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError for non-participant, got %v", err)
	}

	assigned := domain.Principal{ID: "d1", Role: domain.RoleDeveloper}
	if err := CanCollaborate(assigned, task); err != nil {
		t.Fatalf("assigned developer should collaborate: %v", err)
	}
}

func TestCanActOn(t *testing.T) {
	task := domain.Task{ID: "t1", Status: domain.TaskInProgress, VibeCoderID: "v1", DeveloperID: strPtr("d1")}
	if !CanActOn(domain.Principal{ID: "d1", Role: domain.RoleDeveloper}, task) {
		t.Fatal("assigned developer should act")
	}
	if !CanActOn(domain.Principal{ID: "v1", Role: domain.RoleVibeCoder}, task) {
		t.Fatal("owner should act")
	}
	if CanActOn(domain.Principal{ID: "d9", Role: domain.RoleDeveloper}, task) {
		t.Fatal("stranger should not act")
	}
}
