package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/taskman/internal/auth"
	"github.com/hitoshi/taskman/internal/identity"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/task"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn    func(ctx context.Context, email, password string) (*auth.Result, error)
	loginFn       func(ctx context.Context, email, password string) (*auth.Result, error)
	logoutFn      func(ctx context.Context, token string) error
	currentUserFn func(ctx context.Context, uid string) (*model.User, error)
}

func (m *mockAuthService) Register(ctx context.Context, email, password string) (*auth.Result, error) {
	return m.registerFn(ctx, email, password)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.Result, error) {
	return m.loginFn(ctx, email, password)
}

func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	return m.logoutFn(ctx, token)
}

func (m *mockAuthService) CurrentUser(ctx context.Context, uid string) (*model.User, error) {
	return m.currentUserFn(ctx, uid)
}

type mockProjectService struct {
	listFn   func(ctx context.Context, callerUID string) ([]*model.Project, error)
	createFn func(ctx context.Context, callerUID, name, description string) (*model.Project, error)
}

func (m *mockProjectService) ListProjects(ctx context.Context, callerUID string) ([]*model.Project, error) {
	return m.listFn(ctx, callerUID)
}

func (m *mockProjectService) CreateProject(ctx context.Context, callerUID, name, description string) (*model.Project, error) {
	return m.createFn(ctx, callerUID, name, description)
}

type mockTaskService struct {
	listFn   func(ctx context.Context, callerUID, projectID string) ([]*model.Task, error)
	createFn func(ctx context.Context, callerUID, projectID string, in task.CreateTaskInput) (*model.Task, error)
	updateFn func(ctx context.Context, callerUID, projectID, taskID string, in task.UpdateTaskInput) (*model.Task, error)
	deleteFn func(ctx context.Context, callerUID, projectID, taskID string) error
}

func (m *mockTaskService) ListTasks(ctx context.Context, callerUID, projectID string) ([]*model.Task, error) {
	return m.listFn(ctx, callerUID, projectID)
}

func (m *mockTaskService) CreateTask(ctx context.Context, callerUID, projectID string, in task.CreateTaskInput) (*model.Task, error) {
	return m.createFn(ctx, callerUID, projectID, in)
}

func (m *mockTaskService) UpdateTask(ctx context.Context, callerUID, projectID, taskID string, in task.UpdateTaskInput) (*model.Task, error) {
	return m.updateFn(ctx, callerUID, projectID, taskID, in)
}

func (m *mockTaskService) DeleteTask(ctx context.Context, callerUID, projectID, taskID string) error {
	return m.deleteFn(ctx, callerUID, projectID, taskID)
}

// staticVerifier は固定のトークン→UID対応で検証する。
type staticVerifier map[string]string

func (v staticVerifier) VerifyToken(_ context.Context, token string) (*identity.Claims, error) {
	uid, ok := v[token]
	if !ok {
		return nil, identity.ErrInvalidToken
	}
	return &identity.Claims{UID: uid, SessionID: "sess-" + uid}, nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error { return m.err }

// --- ヘルパー ---

// authedRequest はベアラー認証済みのコンテキストを持つリクエストを生成する。
func authedRequest(method, target, uid string, body any) *http.Request {
	req := newJSONRequest(method, target, body)
	return req.WithContext(middleware.ContextWithUserID(req.Context(), uid))
}

func newJSONRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v\nbody: %s", err, w.Body.String())
	}
	return v
}

func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status = %d, want %d (body: %s)", w.Code, status, w.Body.String())
	}
	body := decodeBody[middleware.ErrorResponseBody](t, w)
	if body.Code != code {
		t.Errorf("code = %q, want %q", body.Code, code)
	}
	if body.Error == "" {
		t.Error("error message should not be empty")
	}
}
