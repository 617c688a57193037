// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/famledger/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	// 比較は保存された値と大文字小文字を区別して行う。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDとcreated_atをuserに設定する。
	// emailが既に存在する場合はConflictErrorを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateLastLogin は最終ログイン日時を更新する。
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error

	// UpdateCredential は認証情報を更新する。
	UpdateCredential(ctx context.Context, id int64, credential model.Credential) error

	// SetActive はアカウントの有効フラグを更新する。
	SetActive(ctx context.Context, id int64, active bool) error
}

// FamilyRepository は家族（グループ）データの永続化インターフェース。
type FamilyRepository interface {
	// Create は家族を作成し、採番されたIDとcreated_atをfamilyに設定する。
	Create(ctx context.Context, family *model.Family) error
}

// MembershipRepository は家族への所属データの永続化インターフェース。
type MembershipRepository interface {
	// Create は所属レコードを作成する。
	Create(ctx context.Context, membership *model.Membership) error

	// ListByUserID はユーザーの所属一覧を返す。
	ListByUserID(ctx context.Context, userID int64) ([]*model.Membership, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成し、採番されたIDをsessionに設定する。
	Create(ctx context.Context, session *model.Session) error

	// FindByTokenHash はトークンハッシュでセッションを取得する。
	// 失効・期限切れも含めて返し、有効性の判定は呼び出し側が行う。見つからない場合はnilを返す。
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error)

	// RevokeByTokenHash は未失効のセッションのrevoked_atを設定し、更新件数を返す。
	RevokeByTokenHash(ctx context.Context, tokenHash string, at time.Time) (int64, error)

	// RevokeAllByUserID はユーザーの未失効セッションを全て失効させ、更新件数を返す。
	// exceptTokenHashが空でない場合、そのセッションは失効させない。
	RevokeAllByUserID(ctx context.Context, userID int64, exceptTokenHash string, at time.Time) (int64, error)

	// ListByUserID はユーザーの全セッションを作成日時の昇順で返す。
	ListByUserID(ctx context.Context, userID int64) ([]*model.Session, error)
}

// OAuthAccountRepository は外部IdP紐付け情報の永続化インターフェース。
type OAuthAccountRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idで紐付けを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.OAuthAccount, error)

	// Create は紐付けを作成する。(provider, provider_user_id)が重複する場合はConflictErrorを返す。
	Create(ctx context.Context, account *model.OAuthAccount) error
}

// Repositories は1つのトランザクションに束縛されたリポジトリ群。
type Repositories struct {
	Users         UserRepository
	Families      FamilyRepository
	Memberships   MembershipRepository
	Sessions      SessionRepository
	OAuthAccounts OAuthAccountRepository
}

// UnitOfWork は複数リポジトリへの書き込みを1つの原子的な単位として実行する。
// fnがnilを返した場合のみコミットし、エラーを返した場合やpanicした場合はロールバックする。
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// DBTX は*sql.DBと*sql.Txの共通部分。
// リポジトリはこのインターフェース越しにSQLを発行し、トランザクションの有無を意識しない。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
