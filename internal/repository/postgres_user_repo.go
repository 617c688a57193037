package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/famledger/internal/model"
)

const userColumns = `id, email, username, password_hash, role, is_active, last_login_at, created_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db DBTX
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db DBTX) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
// emailの一意制約違反はConflictErrorとして返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	var passwordHash sql.NullString
	if hash, ok := user.Credential.PasswordHash(); ok {
		passwordHash = sql.NullString{String: hash, Valid: true}
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (email, username, password_hash, role, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		user.Email, user.Username, passwordHash, string(user.Role), user.IsActive,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return model.NewEmailTakenError()
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateLastLogin は最終ログイン日時を更新する。
func (r *PostgresUserRepo) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// UpdateCredential は認証情報を更新する。FederatedOnlyの場合はpassword_hashをNULLにする。
func (r *PostgresUserRepo) UpdateCredential(ctx context.Context, id int64, credential model.Credential) error {
	var passwordHash sql.NullString
	if hash, ok := credential.PasswordHash(); ok {
		passwordHash = sql.NullString{String: hash, Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	return requireRowAffected(result, id)
}

// SetActive はアカウントの有効フラグを更新する。
func (r *PostgresUserRepo) SetActive(ctx context.Context, id int64, active bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_active = $2 WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return fmt.Errorf("failed to update active flag: %w", err)
	}
	return requireRowAffected(result, id)
}

// scanUser は1行をUserに変換する。行が存在しない場合はnil,nilを返す。
func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var (
		passwordHash sql.NullString
		role         string
		lastLoginAt  sql.NullTime
	)
	err := row.Scan(
		&user.ID, &user.Email, &user.Username, &passwordHash,
		&role, &user.IsActive, &lastLoginAt, &user.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	user.Role = model.Role(role)
	if passwordHash.Valid {
		user.Credential = model.PasswordCredential(passwordHash.String)
	} else {
		user.Credential = model.FederatedOnlyCredential()
	}
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		user.LastLoginAt = &t
	}
	return user, nil
}

// requireRowAffected は更新対象のユーザーが存在したことを確認する。
func requireRowAffected(result sql.Result, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %d", id)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
