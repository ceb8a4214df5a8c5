// Package identity はメールアドレス・パスワードによるアカウント管理と、
// Bearerトークン（HS256署名のJWT）の発行・検証・失効を提供する。
//
// トークンはsessionsテーブルの行と1対1に対応し、行が存在する間だけ有効。
// ログアウトで行を削除すると、署名と有効期限が正しくても検証に失敗する。
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength はパスワードの最小文字数。
	MinPasswordLength = 6
	// maxPasswordBytes はbcryptが扱える最大バイト数。
	maxPasswordBytes = 72
	maxEmailLength   = 255

	defaultIssuer = "taskman"
)

// ErrInvalidToken はトークンの検証に失敗した場合に返る。
// 署名不正・期限切れ・失効済みなど原因を問わず、このエラーをラップして返す。
var ErrInvalidToken = errors.New("invalid token")

// Config はidentityサービスの設定。
type Config struct {
	Secret     []byte        // HS256署名鍵
	TokenTTL   time.Duration // トークン有効期間
	BcryptCost int
	Issuer     string // 空の場合は "taskman"
}

// Account は認証済みアカウントを表す。
type Account struct {
	UID   string
	Email string
}

// Token は発行したBearerトークンを表す。
type Token struct {
	Value     string
	SessionID string
	ExpiresAt time.Time
}

// Claims は検証済みトークンから取り出した情報。
type Claims struct {
	UID       string
	SessionID string
	ExpiresAt time.Time
}

// Service はアカウントとトークンを管理する。
type Service struct {
	creds    repository.CredentialRepository
	sessions repository.SessionRepository
	cfg      Config
	now      func() time.Time

	// dummyHash は存在しないメールアドレスでのサインイン時にも
	// bcryptの比較を行い、応答時間で登録有無を推測されないようにするためのハッシュ。
	dummyHash []byte
}

// NewService はServiceを生成する。
func NewService(creds repository.CredentialRepository, sessions repository.SessionRepository, cfg Config) *Service {
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("taskman-dummy-password"), cfg.BcryptCost)
	if err != nil {
		// コストが範囲外の場合。CreateAccountでも同じエラーになる。
		slog.Error("failed to prepare dummy password hash", slog.String("error", err.Error()))
	}

	return &Service{
		creds:     creds,
		sessions:  sessions,
		cfg:       cfg,
		now:       time.Now,
		dummyHash: dummy,
	}
}

// CreateAccount はアカウントを作成する。
// メールアドレスは前後の空白を除去して小文字化する。
// 形式不正・短すぎるパスワード・登録済みメールアドレスの場合はAPIErrorを返す。
func (s *Service) CreateAccount(ctx context.Context, email, password string) (*Account, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	cred := &model.Credential{Email: email, PasswordHash: string(hash)}
	if err := s.creds.Create(ctx, cred); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailAlreadyInUseError()
		}
		return nil, fmt.Errorf("failed to create credential: %w", err)
	}

	return &Account{UID: cred.UID, Email: cred.Email}, nil
}

// SignIn はメールアドレスとパスワードを照合する。
// 未登録のメールアドレスとパスワード誤りは同じエラーを返す。
func (s *Service) SignIn(ctx context.Context, email, password string) (*Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, model.NewInvalidCredentialsError()
	}

	cred, err := s.creds.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	if cred == nil {
		if s.dummyHash != nil {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		}
		return nil, model.NewInvalidCredentialsError()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, model.NewInvalidCredentialsError()
	}

	return &Account{UID: cred.UID, Email: cred.Email}, nil
}

// IssueToken はセッションを作成し、それに紐づく署名済みトークンを返す。
func (s *Service) IssueToken(ctx context.Context, uid string) (*Token, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.TokenTTL)

	session := &model.Session{
		ID:        sessionID,
		UserID:    uid,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	claims := jwt.RegisteredClaims{
		Subject:   uid,
		ID:        sessionID,
		Issuer:    s.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Token{Value: signed, SessionID: sessionID, ExpiresAt: expiresAt}, nil
}

// VerifyToken はトークンの署名・アルゴリズム・有効期限・セッションの存在を検証する。
// 検証に失敗した場合はErrInvalidTokenをラップしたエラーを返す。
func (s *Service) VerifyToken(ctx context.Context, token string) (*Claims, error) {
	rc, err := s.parse(token)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.FindByID(ctx, rc.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: session lookup failed: %v", ErrInvalidToken, err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: session not found or expired", ErrInvalidToken)
	}
	if session.UserID != rc.Subject {
		return nil, fmt.Errorf("%w: session does not belong to subject", ErrInvalidToken)
	}

	return &Claims{
		UID:       rc.Subject,
		SessionID: rc.ID,
		ExpiresAt: rc.ExpiresAt.Time,
	}, nil
}

// RevokeToken はトークンに対応するセッションを削除する。
// 署名が正しければ期限切れのトークンでも失効できる。
func (s *Service) RevokeToken(ctx context.Context, token string) error {
	rc, err := s.parse(token, jwt.WithoutClaimsValidation())
	if err != nil {
		return err
	}

	if err := s.sessions.DeleteByID(ctx, rc.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *Service) parse(token string, extra ...jwt.ParserOption) (*jwt.RegisteredClaims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	opts := append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}, extra...)

	rc := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, rc, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if rc.Subject == "" || rc.ID == "" {
		return nil, fmt.Errorf("%w: missing sub or jti", ErrInvalidToken)
	}

	return rc, nil
}

// normalizeEmail はメールアドレスを正規化し、形式を検証する。
// 表示名付きの形式（"Alice <alice@example.com>"）は受け付けない。
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(email) > maxEmailLength {
		return "", model.NewInvalidEmailError()
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", model.NewInvalidEmailError()
	}
	return email, nil
}

func validatePassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return model.NewWeakPasswordError(MinPasswordLength)
	}
	if len(password) > maxPasswordBytes {
		return model.NewPasswordTooLongError(maxPasswordBytes)
	}
	return nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
