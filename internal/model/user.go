// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーのシステム上の権限を表す。
type Role string

const (
	// RoleUser は一般ユーザー。
	RoleUser Role = "USER"
	// RoleAdmin は管理者。
	RoleAdmin Role = "ADMIN"
)

// User は家計簿を利用するユーザーを表す。
type User struct {
	ID          int64
	Email       string
	Username    string
	Credential  Credential
	Role        Role
	IsActive    bool
	LastLoginAt *time.Time
	CreatedAt   time.Time
}

// Public はクライアントに返却してよい項目のみを持つビューを返す。
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:       u.ID,
		Email:    u.Email,
		Username: u.Username,
		Role:     u.Role,
	}
}

// PublicUser はAPIレスポンスに含めるユーザー情報。
type PublicUser struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// credentialKind は認証情報の種別タグ。
type credentialKind int

const (
	credentialFederatedOnly credentialKind = iota
	credentialPassword
)

// Credential はユーザーの認証情報を表すタグ付きの値。
// パスワードハッシュを持つか、外部IdP経由でのみログインできるかのどちらか。
// ゼロ値はFederatedOnlyとして扱う。
type Credential struct {
	kind credentialKind
	hash string
}

// PasswordCredential はパスワードハッシュを持つ認証情報を生成する。
func PasswordCredential(hash string) Credential {
	return Credential{kind: credentialPassword, hash: hash}
}

// FederatedOnlyCredential は外部IdP専用アカウントの認証情報を生成する。
func FederatedOnlyCredential() Credential {
	return Credential{kind: credentialFederatedOnly}
}

// PasswordHash はパスワード認証情報の場合のみハッシュとtrueを返す。
func (c Credential) PasswordHash() (string, bool) {
	if c.kind != credentialPassword {
		return "", false
	}
	return c.hash, true
}

// IsFederatedOnly は外部IdP専用アカウントかどうかを返す。
func (c Credential) IsFederatedOnly() bool {
	return c.kind == credentialFederatedOnly
}

// Family はユーザーのデフォルトグループ（家族）を表す。
type Family struct {
	ID        int64
	Name      string
	CreatedBy int64
	CreatedAt time.Time
}

// MembershipRole は家族内での役割。
type MembershipRole string

const (
	// MembershipOwner は家族の作成者。
	MembershipOwner MembershipRole = "OWNER"
	// MembershipMember は招待されたメンバー。
	MembershipMember MembershipRole = "MEMBER"
)

// Membership はユーザーと家族の所属関係を表す。
type Membership struct {
	UserID   int64
	FamilyID int64
	Role     MembershipRole
	JoinedAt time.Time
}

// Session はユーザーのログインセッションを表す。
// 生のトークンは保持せず、そのハッシュのみを持つ。
type Session struct {
	ID        int64
	UserID    int64
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// IsValid は失効しておらず期限内であるかを返す。
func (s *Session) IsValid(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// OAuthProviderGoogle はGoogleプロバイダーの識別子。
const OAuthProviderGoogle = "GOOGLE"

// OAuthAccount は外部IdPのアイデンティティとローカルユーザーの紐付けを表す。
type OAuthAccount struct {
	ID             int64
	UserID         int64
	Provider       string
	ProviderUserID string
	Email          string
	CreatedAt      time.Time
}
