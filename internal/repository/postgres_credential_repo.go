package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/taskman/internal/model"
	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// PostgresCredentialRepo はPostgreSQLを使用したcredentialリポジトリ。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// Create はcredentialを作成する。UIDはDBで採番する。
func (r *PostgresCredentialRepo) Create(ctx context.Context, cred *model.Credential) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO credentials (email, password_hash)
		 VALUES ($1, $2)
		 RETURNING uid, created_at`,
		cred.Email, cred.PasswordHash,
	).Scan(&cred.UID, &cred.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

// FindByEmail はメールアドレスでcredentialを検索する。見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) FindByEmail(ctx context.Context, email string) (*model.Credential, error) {
	cred := &model.Credential{}
	err := r.db.QueryRowContext(ctx,
		`SELECT uid, email, password_hash, created_at
		 FROM credentials
		 WHERE email = $1`,
		email,
	).Scan(&cred.UID, &cred.Email, &cred.PasswordHash, &cred.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential by email: %w", err)
	}

	return cred, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
