// Package memory はrepositoryインターフェースのインメモリ実装を提供する。
// サービス層・HTTP層・クライアントのテストでPostgreSQLの代わりに使う。
// PostgreSQL実装と同じく、見つからない場合はnilを返し、一覧は作成日時の昇順で返す。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
)

// Store は全テーブル分のデータを保持する。
type Store struct {
	mu          sync.RWMutex
	credentials map[string]*model.Credential // key: email
	users       map[string]*model.User
	sessions    map[string]*model.Session
	projects    map[string]*model.Project
	tasks       map[string]*model.Task

	// Now はセッションの有効期限判定に使う時刻。テストで差し替えられる。
	Now func() time.Time
}

// NewStore は空のStoreを生成する。
func NewStore() *Store {
	return &Store{
		credentials: make(map[string]*model.Credential),
		users:       make(map[string]*model.User),
		sessions:    make(map[string]*model.Session),
		projects:    make(map[string]*model.Project),
		tasks:       make(map[string]*model.Task),
		Now:         time.Now,
	}
}

// Credentials はCredentialRepositoryとしてのビューを返す。
func (s *Store) Credentials() *CredentialRepo { return &CredentialRepo{s} }

// Users はUserRepositoryとしてのビューを返す。
func (s *Store) Users() *UserRepo { return &UserRepo{s} }

// Sessions はSessionRepositoryとしてのビューを返す。
func (s *Store) Sessions() *SessionRepo { return &SessionRepo{s} }

// Projects はProjectRepositoryとしてのビューを返す。
func (s *Store) Projects() *ProjectRepo { return &ProjectRepo{s} }

// Tasks はTaskRepositoryとしてのビューを返す。
func (s *Store) Tasks() *TaskRepo { return &TaskRepo{s} }

// SessionCount は保存されているセッション数を返す。
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ProjectCount は保存されているプロジェクト数を返す。
func (s *Store) ProjectCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.projects)
}

// --- credentials ---

type CredentialRepo struct{ s *Store }

func (r *CredentialRepo) Create(_ context.Context, cred *model.Credential) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.credentials[cred.Email]; ok {
		return repository.ErrDuplicateEmail
	}
	cred.UID = uuid.New().String()
	cred.CreatedAt = r.s.Now()
	cp := *cred
	r.s.credentials[cred.Email] = &cp
	return nil
}

func (r *CredentialRepo) FindByEmail(_ context.Context, email string) (*model.Credential, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	c, ok := r.s.credentials[email]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// --- users ---

type UserRepo struct{ s *Store }

func (r *UserRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cp := *user
	r.s.users[user.ID] = &cp
	return nil
}

func (r *UserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// --- sessions ---

type SessionRepo struct{ s *Store }

func (r *SessionRepo) Create(_ context.Context, session *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cp := *session
	r.s.sessions[session.ID] = &cp
	return nil
}

func (r *SessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sess, ok := r.s.sessions[id]
	if !ok || sess.IsExpired(r.s.Now()) {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (r *SessionRepo) DeleteByID(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.sessions, id)
	return nil
}

// --- projects ---

type ProjectRepo struct{ s *Store }

func (r *ProjectRepo) Create(_ context.Context, p *model.Project) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cp := *p
	r.s.projects[p.ID] = &cp
	return nil
}

func (r *ProjectRepo) FindByID(_ context.Context, id string) (*model.Project, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.projects[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *ProjectRepo) ListByOwner(_ context.Context, ownerID string) ([]*model.Project, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []*model.Project{}
	for _, p := range r.s.projects {
		if p.OwnerID == ownerID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// --- tasks ---

type TaskRepo struct{ s *Store }

func (r *TaskRepo) Create(_ context.Context, t *model.Task) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.tasks[t.ID] = copyTask(t)
	return nil
}

func (r *TaskRepo) FindByID(_ context.Context, projectID, taskID string) (*model.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.tasks[taskID]
	if !ok || t.ProjectID != projectID {
		return nil, nil
	}
	return copyTask(t), nil
}

func (r *TaskRepo) ListByProject(_ context.Context, projectID string) ([]*model.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []*model.Task{}
	for _, t := range r.s.tasks {
		if t.ProjectID == projectID {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *TaskRepo) Update(_ context.Context, projectID, taskID string, patch *model.TaskPatch) (*model.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tasks[taskID]
	if !ok || t.ProjectID != projectID {
		return nil, nil
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.DueDateSet {
		t.DueDate = copyTime(patch.DueDate)
	}
	t.UpdatedAt = patch.UpdatedAt
	return copyTask(t), nil
}

func (r *TaskRepo) Delete(_ context.Context, projectID, taskID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if t, ok := r.s.tasks[taskID]; ok && t.ProjectID == projectID {
		delete(r.s.tasks, taskID)
	}
	return nil
}

func copyTask(t *model.Task) *model.Task {
	cp := *t
	cp.DueDate = copyTime(t.DueDate)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// compile-time interface checks
var (
	_ repository.CredentialRepository = (*CredentialRepo)(nil)
	_ repository.UserRepository       = (*UserRepo)(nil)
	_ repository.SessionRepository    = (*SessionRepo)(nil)
	_ repository.ProjectRepository    = (*ProjectRepo)(nil)
	_ repository.TaskRepository       = (*TaskRepo)(nil)
)
