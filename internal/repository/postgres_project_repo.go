package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/taskman/internal/model"
)

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトリポジトリ。
type PostgresProjectRepo struct {
	db *sql.DB
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db *sql.DB) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

const projectColumns = `id, owner_id, name, description, created_at`

// Create はプロジェクトを作成する。
func (r *PostgresProjectRepo) Create(ctx context.Context, project *model.Project) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO projects (id, owner_id, name, description, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		project.ID, project.OwnerID, project.Name, project.Description, project.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
func (r *PostgresProjectRepo) FindByID(ctx context.Context, id string) (*model.Project, error) {
	p := &model.Project{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project by ID: %w", err)
	}

	return p, nil
}

// ListByOwner は所有者のプロジェクト一覧を返す。
func (r *PostgresProjectRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Project, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+projectColumns+`
		 FROM projects
		 WHERE owner_id = $1
		 ORDER BY created_at ASC, id ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []*model.Project{}
	for rows.Next() {
		p := &model.Project{}
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}

	return projects, nil
}

// compile-time interface check
var _ ProjectRepository = (*PostgresProjectRepo)(nil)
