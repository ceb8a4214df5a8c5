// Package project はプロジェクト管理のドメインロジックを提供する。
// すべての操作は呼び出し元ユーザー（トークンから得たUID）の所有範囲に限定される。
package project

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
	"github.com/hitoshi/taskman/internal/security"
)

// MaxNameLength はプロジェクト名の最大文字数（projects.nameの列長）。
const MaxNameLength = 255

// Service はプロジェクト管理のサービス層。
type Service struct {
	repo      repository.ProjectRepository
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.ProjectRepository, sanitizer security.TextSanitizer, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		metrics:   mc,
		now:       time.Now,
	}
}

// ListProjects は呼び出し元が所有するプロジェクトの一覧を返す。
// 0件の場合は空スライスを返す。
func (s *Service) ListProjects(ctx context.Context, callerUID string) ([]*model.Project, error) {
	projects, err := s.repo.ListByOwner(ctx, callerUID)
	if err != nil {
		return nil, fmt.Errorf("プロジェクト一覧の取得に失敗しました: %w", err)
	}
	if projects == nil {
		projects = []*model.Project{}
	}
	return projects, nil
}

// CreateProject はプロジェクトを作成する。
// 名前は制御文字と前後の空白を除いた後に空であれば検証エラーとし、何も保存しない。
func (s *Service) CreateProject(ctx context.Context, callerUID, name, description string) (*model.Project, error) {
	name = s.sanitizer.Clean(name)
	if name == "" {
		return nil, model.NewMissingFieldsError("name")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, model.NewFieldTooLongError("name", MaxNameLength)
	}

	p := &model.Project{
		ID:          uuid.New().String(),
		OwnerID:     callerUID,
		Name:        name,
		Description: s.sanitizer.Clean(description),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("プロジェクトの作成に失敗しました: %w", err)
	}

	s.metrics.RecordDocumentWrite("project", "create")
	return p, nil
}

// GetProject は呼び出し元が所有するプロジェクトを返す。
// 存在しない場合と他ユーザーの所有である場合は区別せず、どちらもPROJECT_NOT_FOUNDを返す。
// UUID形式でないIDも存在しないものとして扱う。
func (s *Service) GetProject(ctx context.Context, callerUID, projectID string) (*model.Project, error) {
	if projectID == "" {
		return nil, model.NewMissingFieldsError("projectId")
	}
	if _, err := uuid.Parse(projectID); err != nil {
		return nil, model.NewProjectNotFoundError(projectID)
	}

	p, err := s.repo.FindByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
	}
	if p == nil || p.OwnerID != callerUID {
		return nil, model.NewProjectNotFoundError(projectID)
	}
	return p, nil
}
