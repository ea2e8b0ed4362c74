package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"vibeline/internal/config"
	"vibeline/internal/db"
	"vibeline/internal/engine"
	"vibeline/internal/migrate"
)

func TestWebhookDispatcherStopsOnCancel(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	d := &webhookDispatcher{
		engine:   engine.New(conn, config.Default()),
		webhooks: []config.Webhook{{URL: "http://127.0.0.1:9/hook"}},
		client:   &http.Client{Timeout: time.Second},
		cursors:  make(map[int]int64),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher kept running after cancel")
	}
}

func TestEventFilter(t *testing.T) {
	all := newEventFilter(nil)
	if !all.match("task.created") || !all.match("anything") {
		t.Fatalf("empty filter should match every event")
	}
	scoped := newEventFilter([]string{"task.assigned", " task.advanced "})
	if !scoped.match("task.assigned") || !scoped.match("task.advanced") {
		t.Fatalf("scoped filter should match listed events")
	}
	if scoped.match("task.created") {
		t.Fatalf("scoped filter should reject unlisted events")
	}
}
