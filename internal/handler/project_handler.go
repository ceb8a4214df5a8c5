package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/taskman/internal/model"
)

// ProjectServiceInterface はプロジェクトハンドラーが必要とするサービスインターフェース。
type ProjectServiceInterface interface {
	ListProjects(ctx context.Context, callerUID string) ([]*model.Project, error)
	CreateProject(ctx context.Context, callerUID, name, description string) (*model.Project, error)
}

// ProjectHandler はプロジェクト管理のHTTPハンドラー。
type ProjectHandler struct {
	service ProjectServiceInterface
}

// NewProjectHandler はProjectHandlerを生成する。
func NewProjectHandler(service ProjectServiceInterface) *ProjectHandler {
	return &ProjectHandler{service: service}
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type projectResponse struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ListProjects は呼び出し元のプロジェクト一覧を返す。
// GET /api/projects
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerUID(w, r)
	if !ok {
		return
	}

	projects, err := h.service.ListProjects(r.Context(), uid)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]projectResponse, 0, len(projects))
	for _, p := range projects {
		resp = append(resp, toProjectResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateProject はプロジェクトを作成する。
// POST /api/projects
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerUID(w, r)
	if !ok {
		return
	}

	var req createProjectRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	p, err := h.service.CreateProject(r.Context(), uid, req.Name, req.Description)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

func toProjectResponse(p *model.Project) projectResponse {
	return projectResponse{
		ID:          p.ID,
		OwnerID:     p.OwnerID,
		Name:        p.Name,
		Description: p.Description,
		CreatedAt:   p.CreatedAt.UTC(),
	}
}
