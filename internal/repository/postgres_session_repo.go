package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/famledger/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db DBTX
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db DBTX) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO sessions (user_id, token_hash, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		session.UserID, session.TokenHash, session.CreatedAt, session.ExpiresAt,
	).Scan(&session.ID)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByTokenHash はトークンハッシュでセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error) {
	session := &model.Session{}
	var revokedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, created_at, expires_at, revoked_at
		 FROM sessions
		 WHERE token_hash = $1`,
		tokenHash,
	).Scan(&session.ID, &session.UserID, &session.TokenHash, &session.CreatedAt, &session.ExpiresAt, &revokedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	if revokedAt.Valid {
		t := revokedAt.Time
		session.RevokedAt = &t
	}
	return session, nil
}

// RevokeByTokenHash は未失効のセッションを失効させる。
func (r *PostgresSessionRepo) RevokeByTokenHash(ctx context.Context, tokenHash string, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $2
		 WHERE token_hash = $1 AND revoked_at IS NULL`,
		tokenHash, at,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// RevokeAllByUserID はユーザーの未失効セッションを全て失効させる。
func (r *PostgresSessionRepo) RevokeAllByUserID(ctx context.Context, userID int64, exceptTokenHash string, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $3
		 WHERE user_id = $1 AND revoked_at IS NULL AND token_hash <> $2`,
		userID, exceptTokenHash, at,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// ListByUserID はユーザーの全セッションを返す。
func (r *PostgresSessionRepo) ListByUserID(ctx context.Context, userID int64) ([]*model.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, token_hash, created_at, expires_at, revoked_at
		 FROM sessions
		 WHERE user_id = $1
		 ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		s := &model.Session{}
		var revokedAt sql.NullTime
		if err := rows.Scan(&s.ID, &s.UserID, &s.TokenHash, &s.CreatedAt, &s.ExpiresAt, &revokedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if revokedAt.Valid {
			t := revokedAt.Time
			s.RevokedAt = &t
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
