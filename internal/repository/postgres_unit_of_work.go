package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresUnitOfWork はPostgreSQLのトランザクションでUnitOfWorkを実装する。
type PostgresUnitOfWork struct {
	db TxBeginner
}

// NewPostgresUnitOfWork はPostgresUnitOfWorkを生成する。
func NewPostgresUnitOfWork(db TxBeginner) *PostgresUnitOfWork {
	return &PostgresUnitOfWork{db: db}
}

// Do はトランザクションを開始し、それに束縛したリポジトリ群をfnに渡す。
// fnがnilを返した場合はコミットし、それ以外はロールバックしてfnのエラーをそのまま返す。
func (u *PostgresUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	tx, err := u.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// panic時もロールバックしてから再送出する
		_ = tx.Rollback()
	}()

	if err := fn(ctx, NewTxRepositories(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// NewTxRepositories はdb（*sql.DBまたは*sql.Tx）に束縛したリポジトリ群を返す。
func NewTxRepositories(db DBTX) Repositories {
	return Repositories{
		Users:         NewPostgresUserRepo(db),
		Families:      NewPostgresFamilyRepo(db),
		Memberships:   NewPostgresMembershipRepo(db),
		Sessions:      NewPostgresSessionRepo(db),
		OAuthAccounts: NewPostgresOAuthAccountRepo(db),
	}
}

// compile-time interface check
var _ UnitOfWork = (*PostgresUnitOfWork)(nil)
