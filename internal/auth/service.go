// Package auth はメールアドレス・パスワードによる登録とログイン、
// ログアウト、現在のユーザー取得を提供する。
// 資格情報の照合とトークン発行はidentityパッケージに委譲する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/taskman/internal/identity"
	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
)

// 認証操作のメトリクスラベル
const (
	ActionRegister = "register"
	ActionLogin    = "login"
	ActionLogout   = "logout"
)

// IdentityProvider はアカウント管理とトークン発行のインターフェース。
// identity.Serviceが実装する。
type IdentityProvider interface {
	CreateAccount(ctx context.Context, email, password string) (*identity.Account, error)
	SignIn(ctx context.Context, email, password string) (*identity.Account, error)
	IssueToken(ctx context.Context, uid string) (*identity.Token, error)
	RevokeToken(ctx context.Context, token string) error
}

// Result は登録・ログイン成功時の結果。
type Result struct {
	UID       string
	Email     string
	IDToken   string
	ExpiresAt time.Time
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	idp      IdentityProvider
	userRepo repository.UserRepository
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewService はServiceを生成する。mcがnilの場合はメトリクスを記録しない。
func NewService(idp IdentityProvider, userRepo repository.UserRepository, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		idp:      idp,
		userRepo: userRepo,
		metrics:  mc,
		now:      time.Now,
	}
}

// Register はアカウントを作成し、ユーザープロフィール {email, createdAt} を保存してトークンを発行する。
// 入力の検証エラーはidentityサービスのメッセージをそのまま返す。
func (s *Service) Register(ctx context.Context, email, password string) (*Result, error) {
	if email == "" || password == "" {
		s.metrics.RecordAuthAttempt(ActionRegister, metrics.OutcomeFailure)
		return nil, model.NewMissingFieldsError("email", "password")
	}

	acct, err := s.idp.CreateAccount(ctx, email, password)
	if err != nil {
		s.recordOutcome(ActionRegister, err)
		return nil, err
	}

	now := s.now()
	user := &model.User{
		ID:        acct.UID,
		Email:     acct.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		s.metrics.RecordAuthAttempt(ActionRegister, metrics.OutcomeError)
		return nil, fmt.Errorf("failed to create user profile: %w", err)
	}

	token, err := s.idp.IssueToken(ctx, acct.UID)
	if err != nil {
		s.metrics.RecordAuthAttempt(ActionRegister, metrics.OutcomeError)
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	s.metrics.RecordAuthAttempt(ActionRegister, metrics.OutcomeSuccess)
	slog.Info("user registered", slog.String("user_id", acct.UID))

	return &Result{UID: acct.UID, Email: acct.Email, IDToken: token.Value, ExpiresAt: token.ExpiresAt}, nil
}

// Login は資格情報を照合してトークンを発行する。
// 照合に失敗した場合はセッションを作成しない。
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	acct, err := s.idp.SignIn(ctx, email, password)
	if err != nil {
		s.recordOutcome(ActionLogin, err)
		return nil, err
	}

	token, err := s.idp.IssueToken(ctx, acct.UID)
	if err != nil {
		s.metrics.RecordAuthAttempt(ActionLogin, metrics.OutcomeError)
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	s.metrics.RecordAuthAttempt(ActionLogin, metrics.OutcomeSuccess)
	slog.Info("user logged in", slog.String("user_id", acct.UID))

	return &Result{UID: acct.UID, Email: acct.Email, IDToken: token.Value, ExpiresAt: token.ExpiresAt}, nil
}

// Logout はトークンを失効させる。
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.idp.RevokeToken(ctx, token); err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			s.metrics.RecordAuthAttempt(ActionLogout, metrics.OutcomeFailure)
			return model.NewUnauthorizedError()
		}
		s.metrics.RecordAuthAttempt(ActionLogout, metrics.OutcomeError)
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	s.metrics.RecordAuthAttempt(ActionLogout, metrics.OutcomeSuccess)
	return nil
}

// CurrentUser は認証済みユーザーのプロフィールを返す。
func (s *Service) CurrentUser(ctx context.Context, uid string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// recordOutcome はエラーの種類から結果ラベルを決めて記録する。
func (s *Service) recordOutcome(action string, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		s.metrics.RecordAuthAttempt(action, metrics.OutcomeFailure)
		return
	}
	s.metrics.RecordAuthAttempt(action, metrics.OutcomeError)
}
