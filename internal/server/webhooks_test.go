package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"taskdeck/internal/config"
	"taskdeck/internal/db"
	"taskdeck/internal/engine"
	"taskdeck/internal/events"
	"taskdeck/internal/migrate"
)

func TestEventFilter(t *testing.T) {
	cases := []struct {
		types []string
		event string
		want  bool
	}{
		{nil, "task.created", true},
		{[]string{"task.created"}, "task.created", true},
		{[]string{"task.created"}, "task.nudged", false},
		{[]string{"task"}, "task.review_approved", true},
		{[]string{"task"}, "timelog.started", false},
		{[]string{" ", ""}, "task.created", true},
	}
	for _, tc := range cases {
		filter := newEventFilter(tc.types)
		if got := filter.match(tc.event); got != tc.want {
			t.Errorf("filter %v match %q = %v, want %v", tc.types, tc.event, got, tc.want)
		}
	}
}

func TestWebhookDispatcherStop(t *testing.T) {
	var missing *WebhookDispatcher
	missing.Stop()

	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{URL: "http://127.0.0.1:0/hook"}}
	e := engine.New(conn, cfg)

	d := StartWebhookDispatcher(e)
	if d == nil {
		t.Fatal("dispatcher not started")
	}
	d.Stop()
	d.Stop()
}

func TestWebhookDelivery(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	ctx := context.Background()

	appendEvent := func(evtType string) {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin tx: %v", err)
		}
		defer tx.Rollback()
		if err := e.Events.Append(ctx, tx, evtType, "task", "t1", "alice", events.EventPayload{"n": 1}); err != nil {
			t.Fatalf("append event: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	appendEvent("task.created")
	appendEvent("timelog.started")
	appendEvent("task.nudged")

	var delivered int32
	var lastType, lastSecret string
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			t.Errorf("decode delivery: %v", err)
		}
		lastType = r.Header.Get("X-Taskdeck-Event")
		lastSecret = r.Header.Get("X-Taskdeck-Secret")
		atomic.AddInt32(&delivered, 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hookSrv.Close()

	hook := config.WebhookConfig{URL: hookSrv.URL, Types: []string{"task"}, Secret: "s3cr3t"}
	d := &WebhookDispatcher{
		engine:   e,
		webhooks: []config.WebhookConfig{hook},
		client:   hookSrv.Client(),
		cursors:  map[int]int64{0: 0},
	}
	d.dispatchWebhook(0, hook)

	if got := atomic.LoadInt32(&delivered); got != 2 {
		t.Fatalf("delivered %d events, want 2 (timelog.* filtered out)", got)
	}
	if lastType != "task.nudged" {
		t.Fatalf("last event type = %q, want task.nudged", lastType)
	}
	if lastSecret != "s3cr3t" {
		t.Fatalf("secret header = %q", lastSecret)
	}

	// Cursor advanced past everything, so a second pass delivers nothing.
	d.dispatchWebhook(0, hook)
	if got := atomic.LoadInt32(&delivered); got != 2 {
		t.Fatalf("redelivered: %d total deliveries", got)
	}
}
