package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"vibeline/internal/config"
	"vibeline/internal/db"
	"vibeline/internal/domain"
	"vibeline/internal/engine"
	"vibeline/internal/engine/gate"
	"vibeline/internal/migrate"
	"vibeline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) signup(t *testing.T, email, role string) domain.Principal {
	t.Helper()
	p, err := env.Engine.Signup(env.Ctx, engine.SignupOptions{Email: email, FullName: "Test User", Role: role})
	if err != nil {
		t.Fatalf("signup %s: %v", email, err)
	}
	return p
}

func (env testEnv) developer(t *testing.T, email string) domain.Principal {
	t.Helper()
	p := env.signup(t, email, "")
	admin := env.signup(t, "admin+"+email, domain.RoleAdmin)
	a, err := env.Engine.SubmitApplication(env.Ctx, p, engine.ApplicationSubmitOptions{Email: email, FullName: "Dev"})
	if err != nil {
		t.Fatalf("submit application: %v", err)
	}
	if _, err := env.Engine.DecideApplication(env.Ctx, admin, a.ID, "approve"); err != nil {
		t.Fatalf("approve application: %v", err)
	}
	p, err = env.Engine.Repo.GetUser(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	return p
}

func TestApplicationResubmissionAfterRejection(t *testing.T) {
	env := newTestEnv(t)
	applicant := env.signup(t, "bob@example.com", "")
	admin := env.signup(t, "admin@example.com", domain.RoleAdmin)

	first, err := env.Engine.SubmitApplication(env.Ctx, applicant, engine.ApplicationSubmitOptions{
		Email: "bob@example.com", FullName: "Bob", Skills: "go,sql",
	})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if first.Status != domain.ApplicationPending {
		t.Fatalf("expected pending, got %s", first.Status)
	}

	// second submit while pending is blocked
	_, err = env.Engine.SubmitApplication(env.Ctx, applicant, engine.ApplicationSubmitOptions{
		Email: "bob@example.com", FullName: "Bob",
	})
	var dup engine.DuplicateApplicationError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateApplicationError, got %v", err)
	}
	if dup.ApplicationID != first.ID || dup.Status != domain.ApplicationPending {
		t.Fatalf("duplicate error should name the blocking application, got %+v", dup)
	}

	if _, err := env.Engine.DecideApplication(env.Ctx, admin, first.ID, "reject"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	// a rejected row does not block resubmission and a new row is created
	second, err := env.Engine.SubmitApplication(env.Ctx, applicant, engine.ApplicationSubmitOptions{
		Email: "bob@example.com", FullName: "Bob",
	})
	if err != nil {
		t.Fatalf("resubmit after rejection: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected a fresh application row")
	}
}

func TestApprovalPromotesToDeveloper(t *testing.T) {
	env := newTestEnv(t)
	applicant := env.signup(t, "dev@example.com", "")
	admin := env.signup(t, "admin@example.com", domain.RoleAdmin)

	a, err := env.Engine.SubmitApplication(env.Ctx, applicant, engine.ApplicationSubmitOptions{
		Email: "dev@example.com", FullName: "Dev",
	})
	if err != nil {
		t.Fatal(err)
	}
	decided, err := env.Engine.DecideApplication(env.Ctx, admin, a.ID, "approve")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if decided.Status != domain.ApplicationApproved {
		t.Fatalf("expected approved, got %s", decided.Status)
	}
	p, err := env.Engine.Repo.GetUser(env.Ctx, applicant.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Role != domain.RoleDeveloper {
		t.Fatalf("expected developer role after approval, got %s", p.Role)
	}

	// re-deciding a settled application fails
	_, err = env.Engine.DecideApplication(env.Ctx, admin, a.ID, "reject")
	var invalid engine.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestDecideRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	applicant := env.signup(t, "someone@example.com", "")
	a, err := env.Engine.SubmitApplication(env.Ctx, applicant, engine.ApplicationSubmitOptions{
		Email: "someone@example.com", FullName: "Someone",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.DecideApplication(env.Ctx, applicant, a.ID, "approve")
	var forbidden gate.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	if _, err := env.Engine.ListApplications(env.Ctx, applicant, repo.ApplicationFilters{}); !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError on list, got %v", err)
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	owner := env.signup(t, "owner@example.com", "")
	dev := env.developer(t, "worker@example.com")

	task, err := env.Engine.CreateTask(env.Ctx, owner, engine.TaskCreateOptions{Title: "Build landing page"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != domain.TaskOpen || task.DeveloperID != nil {
		t.Fatalf("new task should be open and unassigned")
	}

	// no skip from open to review
	_, err = env.Engine.AdvanceTask(env.Ctx, owner, task.ID, domain.TaskReview)
	var invalid engine.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	task, err = env.Engine.AssignTask(env.Ctx, dev, task.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if task.Status != domain.TaskInProgress || task.DeveloperID == nil || *task.DeveloperID != dev.ID {
		t.Fatalf("assignment should set developer and in_progress")
	}

	task, err = env.Engine.AdvanceTask(env.Ctx, dev, task.ID, domain.TaskReview)
	if err != nil || task.Status != domain.TaskReview {
		t.Fatalf("to review: %v", err)
	}
	task, err = env.Engine.AdvanceTask(env.Ctx, owner, task.ID, domain.TaskCompleted)
	if err != nil || task.Status != domain.TaskCompleted {
		t.Fatalf("to completed: %v", err)
	}

	// status never moves backward
	_, err = env.Engine.AdvanceTask(env.Ctx, owner, task.ID, domain.TaskReview)
	if !errors.As(err, &invalid) {
		t.Fatalf("expected backward transition rejected, got %v", err)
	}
}

func TestDirectCompletionFromInProgress(t *testing.T) {
	env := newTestEnv(t)
	owner := env.signup(t, "owner@example.com", "")
	dev := env.developer(t, "worker@example.com")

	task, err := env.Engine.CreateTask(env.Ctx, owner, engine.TaskCreateOptions{Title: "Small fix"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AssignTask(env.Ctx, dev, task.ID); err != nil {
		t.Fatal(err)
	}
	task, err = env.Engine.AdvanceTask(env.Ctx, dev, task.ID, domain.TaskCompleted)
	if err != nil || task.Status != domain.TaskCompleted {
		t.Fatalf("direct completion: %v", err)
	}
}

func TestAssignSingleWinnerUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.DB.SetMaxOpenConns(1)
	owner := env.signup(t, "owner@example.com", "")
	task, err := env.Engine.CreateTask(env.Ctx, owner, engine.TaskCreateOptions{Title: "Contested"})
	if err != nil {
		t.Fatal(err)
	}

	const n = 8
	devs := make([]domain.Principal, n)
	for i := 0; i < n; i++ {
		devs[i] = env.developer(t, string(rune('a'+i))+"@example.com")
	}

	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = env.Engine.AssignTask(env.Ctx, devs[i], task.ID)
		}(i)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		var already engine.AlreadyAssignedError
		if errors.As(err, &already) {
			losses++
			continue
		}
		t.Fatalf("unexpected error: %v", err)
	}
	if wins != 1 || losses != n-1 {
		t.Fatalf("expected 1 winner and %d losers, got %d/%d", n-1, wins, losses)
	}

	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TaskInProgress || got.DeveloperID == nil {
		t.Fatalf("task should be assigned exactly once")
	}
}

func TestSecondAssignFails(t *testing.T) {
	env := newTestEnv(t)
	owner := env.signup(t, "v1@example.com", "")
	d1 := env.developer(t, "d1@example.com")
	d2 := env.developer(t, "d2@example.com")

	task, err := env.Engine.CreateTask(env.Ctx, owner, engine.TaskCreateOptions{Title: "T1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AssignTask(env.Ctx, d1, task.ID); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	_, err = env.Engine.AssignTask(env.Ctx, d2, task.ID)
	var already engine.AlreadyAssignedError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyAssignedError, got %v", err)
	}
}

func TestGetTaskMasksUnauthorizedAccess(t *testing.T) {
	env := newTestEnv(t)
	owner := env.signup(t, "owner@example.com", "")
	otherVC := env.signup(t, "other@example.com", "")
	dev := env.developer(t, "worker@example.com")

	task, err := env.Engine.CreateTask(env.Ctx, owner, engine.TaskCreateOptions{Title: "Private"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AssignTask(env.Ctx, dev, task.ID); err != nil {
		t.Fatal(err)
	}

	// a foreign vibe coder cannot tell the task exists
	if _, err := env.Engine.GetTask(env.Ctx, otherVC, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected NotFound for foreign vibe coder, got %v", err)
	}
	// same answer for a genuinely missing task
	if _, err := env.Engine.GetTask(env.Ctx, otherVC, "no-such-task"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected NotFound for missing task, got %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, owner, task.ID); err != nil {
		t.Fatalf("owner should see own task: %v", err)
	}
}

func TestTaskSpaceAdmission(t *testing.T) {
	env := newTestEnv(t)
	owner := env.signup(t, "owner@example.com", "")
	dev := env.developer(t, "worker@example.com")
	stranger := env.developer(t, "stranger@example.com")

	task, err := env.Engine.CreateTask(env.Ctx, owner, engine.TaskCreateOptions{Title: "Space"})
	if err != nil {
		t.Fatal(err)
	}

	// open task is browsable but not collaborable, and the owner is told why
	_, err = env.Engine.TaskSpace(env.Ctx, owner, task.ID)
	var notCollab gate.NotCollaborableError
	if !errors.As(err, &notCollab) {
		t.Fatalf("expected NotCollaborableError for open task, got %v", err)
	}

	if _, err := env.Engine.AssignTask(env.Ctx, dev, task.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.TaskSpace(env.Ctx, owner, task.ID); err != nil {
		t.Fatalf("owner admission: %v", err)
	}
	if _, err := env.Engine.TaskSpace(env.Ctx, dev, task.ID); err != nil {
		t.Fatalf("assigned developer admission: %v", err)
	}
	// an unrelated developer cannot tell the assigned task exists
	if _, err := env.Engine.TaskSpace(env.Ctx, stranger, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected NotFound for stranger, got %v", err)
	}
}

func TestListTasksFiltersByVisibility(t *testing.T) {
	env := newTestEnv(t)
	v1 := env.signup(t, "v1@example.com", "")
	v2 := env.signup(t, "v2@example.com", "")
	dev := env.developer(t, "worker@example.com")
	admin := env.signup(t, "root@example.com", domain.RoleAdmin)

	t1, _ := env.Engine.CreateTask(env.Ctx, v1, engine.TaskCreateOptions{Title: "one"})
	t2, _ := env.Engine.CreateTask(env.Ctx, v2, engine.TaskCreateOptions{Title: "two"})
	if _, err := env.Engine.AssignTask(env.Ctx, dev, t2.ID); err != nil {
		t.Fatal(err)
	}

	fromV1, err := env.Engine.ListTasks(env.Ctx, v1, repo.TaskFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(fromV1) != 1 || fromV1[0].ID != t1.ID {
		t.Fatalf("vibe coder should only see own tasks")
	}

	// developers see their assignments plus open tasks
	fromDev, err := env.Engine.ListTasks(env.Ctx, dev, repo.TaskFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(fromDev) != 2 {
		t.Fatalf("developer should see assigned and open tasks, got %d", len(fromDev))
	}

	fromAdmin, err := env.Engine.ListTasks(env.Ctx, admin, repo.TaskFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(fromAdmin) != 2 {
		t.Fatalf("admin should see all tasks, got %d", len(fromAdmin))
	}
}

func TestListTasksPagesPastForeignRows(t *testing.T) {
	env := newTestEnv(t)
	v1 := env.signup(t, "v1@example.com", "")
	v2 := env.signup(t, "v2@example.com", "")

	base := time.Now().UTC()
	env.Engine.Now = func() time.Time { return base.Add(-time.Hour) }
	mine, err := env.Engine.CreateTask(env.Ctx, v1, engine.TaskCreateOptions{Title: "mine"})
	if err != nil {
		t.Fatal(err)
	}

	// 60 newer tasks belonging to someone else sit ahead of v1's task
	env.Engine.Now = func() time.Time { return base }
	for i := 0; i < 60; i++ {
		if _, err := env.Engine.CreateTask(env.Ctx, v2, engine.TaskCreateOptions{Title: fmt.Sprintf("noise-%02d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	// the page limit must count visible rows, not newest rows overall
	got, err := env.Engine.ListTasks(env.Ctx, v1, repo.TaskFilters{Limit: 51})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != mine.ID {
		t.Fatalf("expected v1's own task on the first page, got %d rows", len(got))
	}
}

func TestUpdateProgress(t *testing.T) {
	env := newTestEnv(t)
	owner := env.signup(t, "owner@example.com", "")
	dev := env.developer(t, "worker@example.com")

	task, err := env.Engine.CreateTask(env.Ctx, owner, engine.TaskCreateOptions{Title: "Tracked"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AssignTask(env.Ctx, dev, task.ID); err != nil {
		t.Fatal(err)
	}
	task, err = env.Engine.UpdateProgress(env.Ctx, dev, task.ID, 40)
	if err != nil || task.Progress != 40 {
		t.Fatalf("progress update: %v", err)
	}
	// the owner does not report progress
	_, err = env.Engine.UpdateProgress(env.Ctx, owner, task.ID, 50)
	var forbidden gate.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	// progress does not move backward
	if _, err := env.Engine.UpdateProgress(env.Ctx, dev, task.ID, 10); err == nil {
		t.Fatalf("expected backward progress rejected")
	}
}

func TestSessionResolve(t *testing.T) {
	env := newTestEnv(t)
	p := env.signup(t, "login@example.com", "")

	token, _, err := env.Engine.Login(env.Ctx, "login@example.com")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resolved, err := env.Engine.Resolve(env.Ctx, token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != p.ID {
		t.Fatalf("resolved wrong principal")
	}

	if _, err := env.Engine.Resolve(env.Ctx, "bogus"); !errors.Is(err, engine.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for unknown token, got %v", err)
	}
	if _, err := env.Engine.Resolve(env.Ctx, ""); !errors.Is(err, engine.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for empty token, got %v", err)
	}

	// expired sessions stop resolving
	env.Engine.Now = func() time.Time { return time.Now().Add(100 * 24 * time.Hour) }
	if _, err := env.Engine.Resolve(env.Ctx, token); !errors.Is(err, engine.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for expired session, got %v", err)
	}
}

func TestAPIKeyResolve(t *testing.T) {
	env := newTestEnv(t)
	p := env.signup(t, "keys@example.com", "")

	key, raw, err := env.Engine.CreateAPIKey(env.Ctx, p.ID, "ci")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	if key.KeyHash == raw {
		t.Fatalf("raw key must not be stored")
	}
	resolved, err := env.Engine.ResolveAPIKey(env.Ctx, raw)
	if err != nil || resolved.ID != p.ID {
		t.Fatalf("resolve api key: %v", err)
	}
	if _, err := env.Engine.ResolveAPIKey(env.Ctx, "nope"); !errors.Is(err, engine.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	owner := env.signup(t, "owner@example.com", "")
	dev := env.developer(t, "worker@example.com")

	task, err := env.Engine.CreateTask(env.Ctx, owner, engine.TaskCreateOptions{Title: "evented"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AssignTask(env.Ctx, dev, task.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AdvanceTask(env.Ctx, dev, task.ID, domain.TaskCompleted); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 50, "", "task", task.ID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(evts) < 3 {
		t.Fatalf("expected created/assigned/advanced events, got %d", len(evts))
	}
}

type fakeCompleter struct {
	out string
	err error
}

func (f fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return f.out, f.err
}

func TestDraftTask(t *testing.T) {
	env := newTestEnv(t)
	owner := env.signup(t, "owner@example.com", "")
	dev := env.developer(t, "worker@example.com")
	env.Engine.Completer = fakeCompleter{out: "Build a login page with OAuth."}

	draft, err := env.Engine.DraftTask(env.Ctx, owner, "login page")
	if err != nil || draft == "" {
		t.Fatalf("draft: %v", err)
	}
	// drafting is a vibe coder feature
	var forbidden gate.ForbiddenError
	if _, err := env.Engine.DraftTask(env.Ctx, dev, "anything"); !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
}
