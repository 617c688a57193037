package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/famledger/internal/model"
)

// PostgresOAuthAccountRepo はPostgreSQLを使用した外部IdP紐付けリポジトリ。
type PostgresOAuthAccountRepo struct {
	db DBTX
}

// NewPostgresOAuthAccountRepo はPostgresOAuthAccountRepoを生成する。
func NewPostgresOAuthAccountRepo(db DBTX) *PostgresOAuthAccountRepo {
	return &PostgresOAuthAccountRepo{db: db}
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idで紐付けを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresOAuthAccountRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.OAuthAccount, error) {
	account := &model.OAuthAccount{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, email, created_at
		 FROM oauth_accounts
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&account.ID, &account.UserID, &account.Provider, &account.ProviderUserID, &account.Email, &account.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find oauth account: %w", err)
	}

	return account, nil
}

// Create は紐付けを作成する。
// 同一の外部アイデンティティが並行して紐付けられた場合はConflictErrorを返す。
func (r *PostgresOAuthAccountRepo) Create(ctx context.Context, account *model.OAuthAccount) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO oauth_accounts (user_id, provider, provider_user_id, email)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		account.UserID, account.Provider, account.ProviderUserID, account.Email,
	).Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "oauth_accounts_provider_provider_user_id_key") {
			return model.NewAccountExistsError()
		}
		return fmt.Errorf("failed to insert oauth account: %w", err)
	}
	return nil
}

// compile-time interface check
var _ OAuthAccountRepository = (*PostgresOAuthAccountRepo)(nil)
