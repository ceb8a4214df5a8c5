package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/task"
)

// TaskServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
type TaskServiceInterface interface {
	ListTasks(ctx context.Context, callerUID, projectID string) ([]*model.Task, error)
	CreateTask(ctx context.Context, callerUID, projectID string, in task.CreateTaskInput) (*model.Task, error)
	UpdateTask(ctx context.Context, callerUID, projectID, taskID string, in task.UpdateTaskInput) (*model.Task, error)
	DeleteTask(ctx context.Context, callerUID, projectID, taskID string) error
}

// TaskHandler はプロジェクト配下のタスク管理のHTTPハンドラー。
// プロジェクトとタスクはクエリパラメータ projectId と taskId で指定する。
type TaskHandler struct {
	service TaskServiceInterface
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(service TaskServiceInterface) *TaskHandler {
	return &TaskHandler{service: service}
}

type createTaskRequest struct {
	ProjectID   string  `json:"projectId"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	DueDate     *string `json:"dueDate"`
}

type taskResponse struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	DueDate     *time.Time `json:"dueDate"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ListTasks はプロジェクト配下のタスク一覧を返す。
// GET /api/tasks?projectId=
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerUID(w, r)
	if !ok {
		return
	}

	tasks, err := h.service.ListTasks(r.Context(), uid, r.URL.Query().Get("projectId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, toTaskResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateTask はタスクを作成する。projectIdはボディでも指定できる。
// POST /api/tasks?projectId=
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerUID(w, r)
	if !ok {
		return
	}

	var req createTaskRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		projectID = req.ProjectID
	}

	t, err := h.service.CreateTask(r.Context(), uid, projectID, task.CreateTaskInput{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		DueDate:     req.DueDate,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTaskResponse(t))
}

// UpdateTask はタスクを部分更新する。
// 更新できるのはtitle・description・status・dueDateのみで、それ以外のキーは無視する。
// taskIdはクエリで指定し、無い場合はボディのtaskIdまたはidを使う。
// PUT /api/tasks?projectId=&taskId=
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerUID(w, r)
	if !ok {
		return
	}

	var body map[string]json.RawMessage
	if !decodeJSONBody(w, r, &body) {
		return
	}
	// JSONのnullはエラーにならずnilマップになる
	if body == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	in, err := parseTaskPatch(body)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	q := r.URL.Query()
	taskID := q.Get("taskId")
	if taskID == "" {
		taskID = firstString(body, "taskId", "id")
	}

	t, err := h.service.UpdateTask(r.Context(), uid, q.Get("projectId"), taskID, in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTaskResponse(t))
}

// DeleteTask はタスクを削除する。存在しないタスクでも成功を返す。
// DELETE /api/tasks?projectId=&taskId=
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerUID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	taskID := q.Get("taskId")
	if taskID == "" {
		taskID = q.Get("id")
	}

	if err := h.service.DeleteTask(r.Context(), uid, q.Get("projectId"), taskID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Task deleted"})
}

// parseTaskPatch は更新ボディから許可されたフィールドだけを取り出す。
// title・description・statusはnullなら未指定扱い。dueDateはキーがあれば適用し、nullは期限のクリア。
func parseTaskPatch(body map[string]json.RawMessage) (task.UpdateTaskInput, error) {
	var in task.UpdateTaskInput
	var err error

	if in.Title, err = optionalString(body, "title"); err != nil {
		return in, err
	}
	if in.Description, err = optionalString(body, "description"); err != nil {
		return in, err
	}
	if in.Status, err = optionalString(body, "status"); err != nil {
		return in, err
	}
	if _, ok := body["dueDate"]; ok {
		in.DueDateSet = true
		if in.DueDate, err = optionalString(body, "dueDate"); err != nil {
			return in, err
		}
	}
	return in, nil
}

// optionalString はキーが無いかnullならnil、文字列ならその値を返す。
func optionalString(body map[string]json.RawMessage, key string) (*string, error) {
	raw, ok := body[key]
	if !ok || isJSONNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func firstString(body map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if s, err := optionalString(body, k); err == nil && s != nil && *s != "" {
			return *s
		}
	}
	return ""
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func toTaskResponse(t *model.Task) taskResponse {
	resp := taskResponse{
		ID:          t.ID,
		ProjectID:   t.ProjectID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt.UTC(),
		UpdatedAt:   t.UpdatedAt.UTC(),
	}
	if t.DueDate != nil {
		due := t.DueDate.UTC()
		resp.DueDate = &due
	}
	return resp
}
