// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/taskman/internal/model"
)

// ErrDuplicateEmail は登録済みのメールアドレスでcredentialを作成しようとした場合に返る。
var ErrDuplicateEmail = errors.New("email already registered")

// CredentialRepository はメールアドレス・パスワード認証情報の永続化インターフェース。
type CredentialRepository interface {
	// Create はcredentialを作成し、採番されたUIDとcreated_atをcredに設定する。
	// メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, cred *model.Credential) error

	// FindByEmail はメールアドレスでcredentialを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Credential, error)
}

// UserRepository はユーザープロフィールの永続化インターフェース。
type UserRepository interface {
	// Create はユーザープロフィールを作成する。IDはcredentialのUIDを使う。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。存在しなくてもエラーにしない。
	DeleteByID(ctx context.Context, id string) error
}

// ProjectRepository はプロジェクトの永続化インターフェース。
type ProjectRepository interface {
	// Create はプロジェクトを作成する。
	Create(ctx context.Context, project *model.Project) error

	// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Project, error)

	// ListByOwner は所有者のプロジェクト一覧をcreated_at昇順で返す。
	// 0件の場合は空スライスを返す。
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Project, error)
}

// TaskRepository はプロジェクト配下のタスクの永続化インターフェース。
// すべての操作はprojectIDとtaskIDの組で対象を特定する。
type TaskRepository interface {
	// Create はタスクを作成する。
	Create(ctx context.Context, task *model.Task) error

	// FindByID は指定プロジェクト配下のタスクを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, projectID, taskID string) (*model.Task, error)

	// ListByProject はプロジェクト配下のタスク一覧をcreated_at昇順で返す。
	// 0件の場合は空スライスを返す。
	ListByProject(ctx context.Context, projectID string) ([]*model.Task, error)

	// Update はpatchの指定フィールドのみを更新し、更新後のタスクを返す。
	// 対象が存在しない場合はnilを返す。
	Update(ctx context.Context, projectID, taskID string, patch *model.TaskPatch) (*model.Task, error)

	// Delete はタスクを削除する。存在しない場合も成功として扱う。
	Delete(ctx context.Context, projectID, taskID string) error
}
