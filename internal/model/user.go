package model

import "time"

// User はサービス利用ユーザーのプロフィールを表す。
// IDは認証情報（Credential）のUIDと同一。
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Credential はメールアドレスとパスワードハッシュの組を表す。
// identityパッケージのみが読み書きする。
type Credential struct {
	UID          string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Session は発行済みトークンに対応するログインセッションを表す。
// IDはトークンのjtiクレームと一致する。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired はnow時点でセッションが期限切れかどうかを返す。
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
