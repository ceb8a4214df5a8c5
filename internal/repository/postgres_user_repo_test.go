package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/taskman/internal/model"
)

func TestNewPostgresRepos_Initialize(t *testing.T) {
	if NewPostgresCredentialRepo(nil) == nil {
		t.Error("expected non-nil credential repo")
	}
	if NewPostgresUserRepo(nil) == nil {
		t.Error("expected non-nil user repo")
	}
	if NewPostgresSessionRepo(nil) == nil {
		t.Error("expected non-nil session repo")
	}
}

func TestPostgresCredentialRepo_CreateAndFind(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewPostgresCredentialRepo(db)
	ctx := context.Background()

	cred := &model.Credential{Email: "alice@example.com", PasswordHash: "bcrypt-hash"}
	if err := repo.Create(ctx, cred); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if cred.UID == "" {
		t.Fatal("Create() should assign UID")
	}
	if cred.CreatedAt.IsZero() {
		t.Error("Create() should assign CreatedAt")
	}

	found, err := repo.FindByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if found == nil {
		t.Fatal("FindByEmail() returned nil")
	}
	if found.UID != cred.UID {
		t.Errorf("UID = %q, want %q", found.UID, cred.UID)
	}
	if found.PasswordHash != "bcrypt-hash" {
		t.Errorf("PasswordHash = %q, want %q", found.PasswordHash, "bcrypt-hash")
	}
}

func TestPostgresCredentialRepo_FindByEmail_NotFound(t *testing.T) {
	db := setupRepoTestDB(t)

	found, err := NewPostgresCredentialRepo(db).FindByEmail(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if found != nil {
		t.Errorf("FindByEmail() = %+v, want nil", found)
	}
}

func TestPostgresCredentialRepo_Create_DuplicateEmail(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewPostgresCredentialRepo(db)
	ctx := context.Background()

	if err := repo.Create(ctx, &model.Credential{Email: "dup@example.com", PasswordHash: "a"}); err != nil {
		t.Fatalf("1件目のCreate() error = %v", err)
	}

	err := repo.Create(ctx, &model.Credential{Email: "dup@example.com", PasswordHash: "b"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("Create() error = %v, want ErrDuplicateEmail", err)
	}
}

func TestPostgresUserRepo_CreateAndFind(t *testing.T) {
	db := setupRepoTestDB(t)
	uid := createTestUser(t, db, "bob@example.com")

	user, err := NewPostgresUserRepo(db).FindByID(context.Background(), uid)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if user == nil {
		t.Fatal("FindByID() returned nil")
	}
	if user.Email != "bob@example.com" {
		t.Errorf("Email = %q, want %q", user.Email, "bob@example.com")
	}
}

func TestPostgresSessionRepo_Lifecycle(t *testing.T) {
	db := setupRepoTestDB(t)
	uid := createTestUser(t, db, "carol@example.com")
	repo := NewPostgresSessionRepo(db)
	ctx := context.Background()

	now := time.Now().UTC()
	active := &model.Session{ID: "session-active", UserID: uid, ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	expired := &model.Session{ID: "session-expired", UserID: uid, ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour)}

	for _, s := range []*model.Session{active, expired} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create(%s) error = %v", s.ID, err)
		}
	}

	t.Run("有効なセッションは取得できる", func(t *testing.T) {
		s, err := repo.FindByID(ctx, "session-active")
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if s == nil || s.UserID != uid {
			t.Fatalf("FindByID() = %+v, want session for %s", s, uid)
		}
	})

	t.Run("期限切れのセッションはnil", func(t *testing.T) {
		s, err := repo.FindByID(ctx, "session-expired")
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if s != nil {
			t.Errorf("FindByID() = %+v, want nil", s)
		}
	})

	t.Run("削除後は取得できない", func(t *testing.T) {
		if err := repo.DeleteByID(ctx, "session-active"); err != nil {
			t.Fatalf("DeleteByID() error = %v", err)
		}
		s, err := repo.FindByID(ctx, "session-active")
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if s != nil {
			t.Errorf("FindByID() after delete = %+v, want nil", s)
		}
	})

	t.Run("存在しないセッションの削除はエラーにならない", func(t *testing.T) {
		if err := repo.DeleteByID(ctx, "no-such-session"); err != nil {
			t.Errorf("DeleteByID() error = %v", err)
		}
	})
}
