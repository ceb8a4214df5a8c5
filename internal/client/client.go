// Package client はtaskman APIのGoクライアントと、UI層が共有するセッション状態を提供する。
//
// Clientはベアラートークンを保持し、ログイン・登録・ログアウト・セッション復元のたびに
// 購読者へ現在のユーザーを通知する。UI層はSessionStateを1つだけ生成し、
// AppContext経由で各コンポーネントに渡して参照する。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// defaultTimeout はhttpClient未指定時のタイムアウト。
const defaultTimeout = 10 * time.Second

// User はログイン中のユーザーを表す。
type User struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// Project はAPIが返すプロジェクト。
type Project struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Task はAPIが返すタスク。
type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	DueDate     *time.Time `json:"dueDate"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// NewTask はタスク作成時の入力。
type NewTask struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status,omitempty"`
	DueDate     *string `json:"dueDate,omitempty"`
}

// TaskUpdate はタスクの部分更新内容。nilのフィールドは送信しない。
// ClearDueDateがtrueの場合は dueDate: null を送って期限をクリアする。
type TaskUpdate struct {
	Title        *string
	Description  *string
	Status       *string
	DueDate      *string
	ClearDueDate bool
}

func (u TaskUpdate) body() map[string]any {
	m := make(map[string]any)
	if u.Title != nil {
		m["title"] = *u.Title
	}
	if u.Description != nil {
		m["description"] = *u.Description
	}
	if u.Status != nil {
		m["status"] = *u.Status
	}
	switch {
	case u.ClearDueDate:
		m["dueDate"] = nil
	case u.DueDate != nil:
		m["dueDate"] = *u.DueDate
	}
	return m
}

// Error はAPIのエラーレスポンスを表す。
type Error struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"error"`
	Category   string `json:"category"`
	Action     string `json:"action"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("taskman API %d [%s] %s", e.StatusCode, e.Code, e.Message)
}

// IsUnauthorized はトークンが無効で再ログインが必要かどうかを返す。
func (e *Error) IsUnauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

// IdentityNotifier はログイン状態の変化を購読できる。
// 購読時点で状態が確定していれば、その状態を直ちに1回通知する。
type IdentityNotifier interface {
	OnIdentityChange(fn func(*User)) (unsubscribe func())
}

// Client はtaskman APIのクライアント。並行に利用してよい。
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger

	// notifyMu は状態の変更と購読者への通知を直列化する。
	// 通知コールバック内からClientの状態を変更してはならない。
	notifyMu sync.Mutex

	mu        sync.Mutex
	token     string
	user      *User
	resolved  bool // 一度でもログイン状態が確定したか
	listeners map[int]func(*User)
	nextID    int
}

// NewClient はClientを生成する。httpClientがnilの場合はタイムアウト付きのクライアントを使う。
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
		listeners:  make(map[int]func(*User)),
	}
}

// OnIdentityChange はログイン状態の変化を購読する。
// 確定済みの状態の再送は通知と同じロックの下で行うため、
// 並行するログイン等の新しい通知より後に古い状態が届くことはない。
func (c *Client) OnIdentityChange(fn func(*User)) func() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	resolved, user := c.resolved, copyUser(c.user)
	c.mu.Unlock()

	if resolved {
		fn(user)
	}

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Token は保持中のベアラートークンを返す。未ログインの場合は空文字。
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// CurrentUser はログイン中のユーザーを返す。未ログインの場合はnil。
func (c *Client) CurrentUser() *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyUser(c.user)
}

type authResult struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	IDToken   string    `json:"idToken"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Register はアカウントを作成し、そのままログイン状態にする。
func (c *Client) Register(ctx context.Context, email, password string) (*User, error) {
	return c.authenticate(ctx, "/api/auth/register", email, password)
}

// Login はログインする。
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	return c.authenticate(ctx, "/api/auth/login", email, password)
}

func (c *Client) authenticate(ctx context.Context, path, email, password string) (*User, error) {
	var res authResult
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, path, nil, body, &res); err != nil {
		return nil, err
	}

	user := &User{UID: res.UID, Email: res.Email}
	c.setIdentity(res.IDToken, user)
	return copyUser(user), nil
}

// Logout はサーバー側のトークンを失効させ、ログアウト状態にする。
// サーバー呼び出しが失敗してもローカルの状態はログアウトにする。
func (c *Client) Logout(ctx context.Context) error {
	if c.Token() == "" {
		c.setIdentity("", nil)
		return nil
	}

	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil)
	c.setIdentity("", nil)
	if err != nil {
		c.logger.Warn("logout request failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// Restore は保存済みのトークンでセッションを復元する。
// トークンが空または無効な場合はログアウト状態として確定させ、nilを返す。
func (c *Client) Restore(ctx context.Context, token string) (*User, error) {
	if token == "" {
		c.setIdentity("", nil)
		return nil, nil
	}

	c.mu.Lock()
	prevToken := c.token
	c.token = token
	c.mu.Unlock()

	var user User
	err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, nil, &user)
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.IsUnauthorized() {
			c.setIdentity("", nil)
			return nil, nil
		}
		// 通信エラーの場合は状態を確定させず、直前のトークンに戻す
		c.mu.Lock()
		if c.token == token {
			c.token = prevToken
		}
		c.mu.Unlock()
		return nil, err
	}

	c.setIdentity(token, &user)
	return copyUser(&user), nil
}

// ListProjects はプロジェクト一覧を返す。
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	projects := []Project{}
	if err := c.do(ctx, http.MethodGet, "/api/projects", nil, nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// CreateProject はプロジェクトを作成する。
func (c *Client) CreateProject(ctx context.Context, name, description string) (*Project, error) {
	var p Project
	body := map[string]string{"name": name, "description": description}
	if err := c.do(ctx, http.MethodPost, "/api/projects", nil, body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListTasks はプロジェクト配下のタスク一覧を返す。
func (c *Client) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	tasks := []Task{}
	q := url.Values{"projectId": {projectID}}
	if err := c.do(ctx, http.MethodGet, "/api/tasks", q, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CreateTask はタスクを作成する。
func (c *Client) CreateTask(ctx context.Context, projectID string, in NewTask) (*Task, error) {
	var t Task
	q := url.Values{"projectId": {projectID}}
	if err := c.do(ctx, http.MethodPost, "/api/tasks", q, in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTask はタスクを部分更新する。
func (c *Client) UpdateTask(ctx context.Context, projectID, taskID string, in TaskUpdate) (*Task, error) {
	var t Task
	q := url.Values{"projectId": {projectID}, "taskId": {taskID}}
	if err := c.do(ctx, http.MethodPut, "/api/tasks", q, in.body(), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteTask はタスクを削除する。
func (c *Client) DeleteTask(ctx context.Context, projectID, taskID string) error {
	q := url.Values{"projectId": {projectID}, "taskId": {taskID}}
	return c.do(ctx, http.MethodDelete, "/api/tasks", q, nil, nil)
}

// setIdentity は状態を更新し、全購読者に通知する。
func (c *Client) setIdentity(token string, user *User) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	c.token = token
	c.user = copyUser(user)
	c.resolved = true
	listeners := make([]func(*User), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(copyUser(user))
	}
}

// do はJSONリクエストを送り、2xxならoutにデコードする。
// 2xx以外は*Errorを返す。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("レスポンスのデコードに失敗しました: %w", err)
	}
	return nil
}

func copyUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
