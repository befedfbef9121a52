package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskdeck/internal/config"
	"taskdeck/internal/db"
	"taskdeck/internal/domain"
	"taskdeck/internal/engine"
	"taskdeck/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	ctx := context.Background()
	users := []domain.User{
		{ID: "root", Name: "root", Email: "root@example.com", Role: domain.RoleAdmin},
		{ID: "alice", Name: "alice", Email: "alice@example.com", Role: domain.RoleMember},
		{ID: "bob", Name: "bob", Email: "bob@example.com", Role: domain.RoleMember},
		{ID: "carol", Name: "carol", Email: "carol@example.com", Role: domain.RoleMember},
	}
	for _, u := range users {
		u.CreatedAt = "2024-01-01T00:00:00Z"
		if err := e.Repo.InsertUser(ctx, u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id}
}

func createTask(t *testing.T, srv *testServer, payload map[string]any) domain.Task {
	t.Helper()
	if payload == nil {
		payload = map[string]any{}
	}
	if payload["title"] == nil {
		payload["title"] = "Ship feature"
	}
	if payload["assigned_to"] == nil {
		payload["assigned_to"] = []string{"bob"}
	}
	if payload["reviewers"] == nil {
		payload["reviewers"] = []string{"carol"}
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", payload, asActor("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var created domain.Task
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return created
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return payload.Error.Code
}

func TestReviewFlowHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	task := createTask(t, srv, nil)

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/tasks/"+task.ID+"/submit-review", nil, asActor("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/tasks/"+task.ID+"/process-review", map[string]any{
		"decision": "approved",
	}, asActor("carol"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("process review status %d: %s", res.StatusCode, string(data))
	}
	var reviewed domain.Task
	_ = json.Unmarshal(data, &reviewed)
	if reviewed.ReviewStatus != domain.ReviewPendingFinalApproval {
		t.Fatalf("review status = %s, want pending_final_approval", reviewed.ReviewStatus)
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/tasks/"+task.ID+"/final-approval", map[string]any{
		"decision": "approved",
	}, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("final approval status %d: %s", res.StatusCode, string(data))
	}
	var final domain.Task
	_ = json.Unmarshal(data, &final)
	if final.ReviewStatus != domain.ReviewApproved {
		t.Fatalf("review status = %s, want approved", final.ReviewStatus)
	}
}

func TestErrorMappingHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// No credentials at all.
	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", res.StatusCode)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/nope", nil, asActor("alice"))
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("missing task: %d %s", res.StatusCode, string(data))
	}

	task := createTask(t, srv, nil)

	// Submitting from pending_review is an invalid transition.
	doJSON(t, client, http.MethodPut, srv.URL+"/v0/tasks/"+task.ID+"/submit-review", nil, asActor("bob"))
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/tasks/"+task.ID+"/submit-review", nil, asActor("bob"))
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "invalid_state_transition" {
		t.Fatalf("double submit: %d %s", res.StatusCode, string(data))
	}

	// changes_requested without a comment.
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/tasks/"+task.ID+"/process-review", map[string]any{
		"decision": "changes_requested",
	}, asActor("carol"))
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "missing_comment" {
		t.Fatalf("missing comment: %d %s", res.StatusCode, string(data))
	}

	// Member deleting a task is forbidden.
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/tasks/"+task.ID, nil, asActor("alice"))
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("member delete: %d %s", res.StatusCode, string(data))
	}

	// Dependency gate surfaces the blocking titles.
	dep := createTask(t, srv, map[string]any{"title": "Set up schema"})
	blocked := createTask(t, srv, map[string]any{"title": "Blocked", "dependencies": []string{dep.ID}})
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/tasks/"+blocked.ID+"/direct-status-update", map[string]any{
		"new_status": "in_progress",
	}, asActor("root"))
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "blocked_by_dependency" {
		t.Fatalf("blocked dep: %d %s", res.StatusCode, string(data))
	}

	// Second nudge within the window is rate limited.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+blocked.ID+"/nudge", nil, asActor("carol"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first nudge: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+blocked.ID+"/nudge", nil, asActor("carol"))
	if res.StatusCode != http.StatusTooManyRequests || errorCode(t, data) != "too_many_requests" {
		t.Fatalf("rate limited nudge: %d %s", res.StatusCode, string(data))
	}
}

func TestTimerHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	task := createTask(t, srv, nil)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/timelogs/start", nil, asActor("bob"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start timer: %d %s", res.StatusCode, string(data))
	}
	var log domain.TimeLog
	if err := json.Unmarshal(data, &log); err != nil {
		t.Fatalf("unmarshal log: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/timelogs/start", nil, asActor("bob"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "timer_already_running" {
		t.Fatalf("double start: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/timelogs/active", nil, asActor("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("active: %d %s", res.StatusCode, string(data))
	}
	var active []domain.TimeLog
	_ = json.Unmarshal(data, &active)
	if len(active) != 1 {
		t.Fatalf("active timers = %d, want 1", len(active))
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/tasks/"+task.ID+"/timelogs/"+log.ID+"/stop", nil, asActor("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stop: %d %s", res.StatusCode, string(data))
	}
	var stopped domain.TimeLog
	_ = json.Unmarshal(data, &stopped)
	if stopped.EndTime == nil {
		t.Fatal("stopped log missing end_time")
	}
}

func TestJWTAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	claims := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "root",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: domain.RoleAdmin,
	})
	token, err := claims.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/users", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jwt request: %d %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", res.StatusCode)
	}
}
