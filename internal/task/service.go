// Package task はプロジェクト配下のタスク管理のドメインロジックを提供する。
package task

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
	"github.com/hitoshi/taskman/internal/security"
)

// MaxTitleLength はタスク名の最大文字数（tasks.titleの列長）。
const MaxTitleLength = 500

// dateOnlyLayout は日付のみ指定された期限の形式。UTCの0時として扱う。
const dateOnlyLayout = "2006-01-02"

// ProjectAuthorizer は親プロジェクトの所有者確認を行う。
// project.Serviceが実装する。
type ProjectAuthorizer interface {
	GetProject(ctx context.Context, callerUID, projectID string) (*model.Project, error)
}

// CreateTaskInput はタスク作成時の入力。
type CreateTaskInput struct {
	Title       string
	Description string
	Status      string  // 空の場合はtodo
	DueDate     *string // nilまたは空文字は期限なし
}

// UpdateTaskInput はタスク更新時の入力。
// Title/Description/Statusはnilまたは空文字なら変更しない。
// DueDateSetがtrueの場合のみ期限を変更し、DueDateがnilまたは空文字なら期限をクリアする。
type UpdateTaskInput struct {
	Title       *string
	Description *string
	Status      *string
	DueDateSet  bool
	DueDate     *string
}

// Service はタスク管理のサービス層。
type Service struct {
	repo      repository.TaskRepository
	projects  ProjectAuthorizer
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.TaskRepository,
	projects ProjectAuthorizer,
	sanitizer security.TextSanitizer,
	mc metrics.MetricsCollector,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		projects:  projects,
		sanitizer: sanitizer,
		metrics:   mc,
		now:       time.Now,
	}
}

// ListTasks はプロジェクト配下のタスク一覧を返す。
func (s *Service) ListTasks(ctx context.Context, callerUID, projectID string) ([]*model.Task, error) {
	if _, err := s.projects.GetProject(ctx, callerUID, projectID); err != nil {
		return nil, err
	}

	tasks, err := s.repo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("タスク一覧の取得に失敗しました: %w", err)
	}
	if tasks == nil {
		tasks = []*model.Task{}
	}
	return tasks, nil
}

// CreateTask はタスクを作成する。
func (s *Service) CreateTask(ctx context.Context, callerUID, projectID string, in CreateTaskInput) (*model.Task, error) {
	if projectID == "" {
		return nil, model.NewMissingFieldsError("projectId")
	}

	title, err := s.cleanTitle(in.Title)
	if err != nil {
		return nil, err
	}
	if title == "" {
		return nil, model.NewMissingFieldsError("title")
	}

	status := model.DefaultTaskStatus
	if strings.TrimSpace(in.Status) != "" {
		st, ok := model.ParseTaskStatus(in.Status)
		if !ok {
			return nil, model.NewInvalidStatusError(in.Status)
		}
		status = st
	}

	dueDate, err := parseDueDate(in.DueDate)
	if err != nil {
		return nil, err
	}

	if _, err := s.projects.GetProject(ctx, callerUID, projectID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	t := &model.Task{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		Title:       title,
		Description: s.sanitizer.Clean(in.Description),
		Status:      status,
		DueDate:     dueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("タスクの作成に失敗しました: %w", err)
	}

	s.metrics.RecordDocumentWrite("task", "create")
	return t, nil
}

// UpdateTask はタスクを部分更新し、更新後のタスクを返す。
// 変更対象がなくてもupdatedAtは更新する。
func (s *Service) UpdateTask(ctx context.Context, callerUID, projectID, taskID string, in UpdateTaskInput) (*model.Task, error) {
	if err := requireIDs(projectID, taskID); err != nil {
		return nil, err
	}

	patch, err := s.buildPatch(in)
	if err != nil {
		return nil, err
	}

	if _, err := s.projects.GetProject(ctx, callerUID, projectID); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(taskID); err != nil {
		return nil, model.NewTaskNotFoundError(taskID)
	}

	patch.UpdatedAt = s.now().UTC()
	updated, err := s.repo.Update(ctx, projectID, taskID, patch)
	if err != nil {
		return nil, fmt.Errorf("タスクの更新に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewTaskNotFoundError(taskID)
	}

	s.metrics.RecordDocumentWrite("task", "update")
	return updated, nil
}

// DeleteTask はタスクを削除する。対象が存在しなくても成功とする。
func (s *Service) DeleteTask(ctx context.Context, callerUID, projectID, taskID string) error {
	if err := requireIDs(projectID, taskID); err != nil {
		return err
	}
	if _, err := s.projects.GetProject(ctx, callerUID, projectID); err != nil {
		return err
	}

	// UUID形式でないIDは該当行が存在し得ないため、削除済みと同じ扱い
	if _, err := uuid.Parse(taskID); err != nil {
		return nil
	}

	if err := s.repo.Delete(ctx, projectID, taskID); err != nil {
		return fmt.Errorf("タスクの削除に失敗しました: %w", err)
	}

	s.metrics.RecordDocumentWrite("task", "delete")
	return nil
}

func (s *Service) buildPatch(in UpdateTaskInput) (*model.TaskPatch, error) {
	patch := &model.TaskPatch{}

	if in.Title != nil {
		title, err := s.cleanTitle(*in.Title)
		if err != nil {
			return nil, err
		}
		if title != "" {
			patch.Title = &title
		}
	}

	if in.Description != nil {
		if desc := s.sanitizer.Clean(*in.Description); desc != "" {
			patch.Description = &desc
		}
	}

	if in.Status != nil && strings.TrimSpace(*in.Status) != "" {
		st, ok := model.ParseTaskStatus(*in.Status)
		if !ok {
			return nil, model.NewInvalidStatusError(*in.Status)
		}
		patch.Status = &st
	}

	if in.DueDateSet {
		due, err := parseDueDate(in.DueDate)
		if err != nil {
			return nil, err
		}
		patch.DueDateSet = true
		patch.DueDate = due
	}

	return patch, nil
}

func (s *Service) cleanTitle(raw string) (string, error) {
	title := s.sanitizer.Clean(raw)
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", model.NewFieldTooLongError("title", MaxTitleLength)
	}
	return title, nil
}

func requireIDs(projectID, taskID string) error {
	var missing []string
	if projectID == "" {
		missing = append(missing, "projectId")
	}
	if taskID == "" {
		missing = append(missing, "taskId")
	}
	if len(missing) > 0 {
		return model.NewMissingFieldsError(missing...)
	}
	return nil
}

// parseDueDate は期限文字列を解釈する。
// RFC 3339形式（小数秒あり・なし）またはYYYY-MM-DDを受け付け、UTCに揃える。
// nilと空文字は期限なしとしてnilを返す。
func parseDueDate(v *string) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	raw := strings.TrimSpace(*v)
	if raw == "" {
		return nil, nil
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, dateOnlyLayout} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, model.NewInvalidDueDateError(*v)
}
