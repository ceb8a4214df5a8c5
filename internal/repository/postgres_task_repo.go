package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/taskman/internal/model"
)

// PostgresTaskRepo はPostgreSQLを使用したタスクリポジトリ。
type PostgresTaskRepo struct {
	db *sql.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

const taskColumns = `id, project_id, title, description, status, due_date, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(s rowScanner) (*model.Task, error) {
	t := &model.Task{}
	var status string
	var due sql.NullTime
	if err := s.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &status, &due, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = model.TaskStatus(status)
	if due.Valid {
		d := due.Time
		t.DueDate = &d
	}
	return t, nil
}

// Create はタスクを作成する。
func (r *PostgresTaskRepo) Create(ctx context.Context, task *model.Task) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (id, project_id, title, description, status, due_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		task.ID, task.ProjectID, task.Title, task.Description, string(task.Status),
		nullTime(task.DueDate), task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// FindByID は指定プロジェクト配下のタスクを取得する。見つからない場合はnilを返す。
func (r *PostgresTaskRepo) FindByID(ctx context.Context, projectID, taskID string) (*model.Task, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = $1 AND id = $2`,
		projectID, taskID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task by ID: %w", err)
	}
	return t, nil
}

// ListByProject はプロジェクト配下のタスク一覧を返す。
func (r *PostgresTaskRepo) ListByProject(ctx context.Context, projectID string) ([]*model.Task, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+`
		 FROM tasks
		 WHERE project_id = $1
		 ORDER BY created_at ASC, id ASC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	return tasks, nil
}

// Update はpatchの指定フィールドのみを更新する。
// nilのフィールドはCOALESCEで既存値を維持し、due_dateはDueDateSetの場合のみ置き換える。
func (r *PostgresTaskRepo) Update(ctx context.Context, projectID, taskID string, patch *model.TaskPatch) (*model.Task, error) {
	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}

	t, err := scanTask(r.db.QueryRowContext(ctx,
		`UPDATE tasks SET
			title = COALESCE($3, title),
			description = COALESCE($4, description),
			status = COALESCE($5, status),
			due_date = CASE WHEN $6 THEN $7 ELSE due_date END,
			updated_at = $8
		 WHERE project_id = $1 AND id = $2
		 RETURNING `+taskColumns,
		projectID, taskID,
		patch.Title, patch.Description, status,
		patch.DueDateSet, nullTime(patch.DueDate),
		patch.UpdatedAt,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return t, nil
}

// Delete はタスクを削除する。対象が存在しなくてもエラーにしない。
func (r *PostgresTaskRepo) Delete(ctx context.Context, projectID, taskID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE project_id = $1 AND id = $2`,
		projectID, taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
