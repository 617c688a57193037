// Package auth はアカウント登録、パスワードログイン、OAuth連携、セッション管理を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/famledger/internal/metrics"
	"github.com/hitoshi/famledger/internal/model"
	"github.com/hitoshi/famledger/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	Provider       string // model.OAuthProviderGoogle 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はstateを埋め込んだ認可エンドポイントのURLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// NameSanitizer は表示名からマークアップを除去する。
type NameSanitizer interface {
	Sanitize(name string) string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge        int  // セッション有効期間（秒）
	RequireVerifiedEmail bool // OAuthでのアカウント作成・紐付けにemail_verifiedを要求するか
}

// RegisterInput はアカウント登録の入力。
type RegisterInput struct {
	Email      string
	Username   string
	Password   string
	FamilyName string // 空の場合は "{username}'s Family"
}

// LoginInput はパスワードログインの入力。
type LoginInput struct {
	Email    string
	Password string
}

// AuthResult は認証成功時の結果。Tokenは生のセッショントークンで、Cookieにのみ載せる。
type AuthResult struct {
	User      model.PublicUser
	Token     string
	ExpiresAt time.Time
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	uow       repository.UnitOfWork
	users     repository.UserRepository
	sessions  repository.SessionRepository
	oauth     OAuthProvider
	hasher    PasswordHasher
	sanitizer NameSanitizer
	recorder  metrics.AuthRecorder
	config    ServiceConfig

	now      func() time.Time
	newToken func() (string, error)

	dummyOnce sync.Once
	dummyHash string
}

// NewService はServiceを生成する。
func NewService(
	uow repository.UnitOfWork,
	users repository.UserRepository,
	sessions repository.SessionRepository,
	oauth OAuthProvider,
	hasher PasswordHasher,
	sanitizer NameSanitizer,
	recorder metrics.AuthRecorder,
	config ServiceConfig,
) *Service {
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}
	return &Service{
		uow:       uow,
		users:     users,
		sessions:  sessions,
		oauth:     oauth,
		hasher:    hasher,
		sanitizer: sanitizer,
		recorder:  recorder,
		config:    config,
		now:       time.Now,
		newToken:  GenerateToken,
	}
}

// SessionValidity はセッションの有効期間を返す。
func (s *Service) SessionValidity() time.Duration {
	if s.config.SessionMaxAge <= 0 {
		return DefaultSessionValidity
	}
	return time.Duration(s.config.SessionMaxAge) * time.Second
}

// Register は新しいユーザーを登録し、家族・所属・初回セッションを1つの単位で作成する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (result *AuthResult, err error) {
	defer func() { s.recorder.RecordRegistration(outcomeOf(err)) }()

	// 1. 入力値を検証
	username := strings.TrimSpace(in.Username)
	if err := ValidateEmail(in.Email); err != nil {
		return nil, err
	}
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if s.sanitizer.Sanitize(username) != username {
		return nil, model.NewValidationError("username", "使用できない文字が含まれています")
	}
	if err := ValidatePassword("password", in.Password); err != nil {
		return nil, err
	}
	familyName := s.sanitizer.Sanitize(in.FamilyName)
	if err := ValidateFamilyName(familyName); err != nil {
		return nil, err
	}
	if familyName == "" {
		familyName = defaultFamilyName(username)
	}

	// 2. パスワードをハッシュ化（トランザクション外で実行）
	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	// 3. ユーザー・家族・所属・セッションを原子的に作成
	user := &model.User{
		Email:      in.Email,
		Username:   username,
		Credential: model.PasswordCredential(hash),
		Role:       model.RoleUser,
		IsActive:   true,
	}
	var token string
	var session *model.Session
	err = s.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if err := provisionUser(ctx, repos, user, familyName); err != nil {
			return err
		}
		var err error
		token, session, err = s.issueSession(ctx, repos.Sessions, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("user registered",
		slog.Int64("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return &AuthResult{User: user.Public(), Token: token, ExpiresAt: session.ExpiresAt}, nil
}

// Login はメールアドレスとパスワードを検証し、新しいセッションを発行する。
// 既存のセッションには影響しない。
func (s *Service) Login(ctx context.Context, in LoginInput) (result *AuthResult, err error) {
	defer func() { s.recorder.RecordLogin(outcomeOf(err)) }()

	// 1. メールアドレスでユーザーを検索
	user, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		// 未登録の場合も検証と同程度の時間をかける
		s.hasher.Verify(s.placeholderHash(), in.Password)
		slog.Info("login rejected", slog.String("reason", "unknown_email"))
		return nil, model.NewInvalidCredentialsError()
	}

	// 2. 無効化済みアカウントは拒否
	if !user.IsActive {
		slog.Info("login rejected", slog.Int64("user_id", user.ID), slog.String("reason", "inactive"))
		return nil, model.NewAccountDisabledError()
	}

	// 3. パスワードを検証（外部IdP専用アカウントは検証しない）
	hash, ok := user.Credential.PasswordHash()
	if !ok {
		slog.Info("login rejected", slog.Int64("user_id", user.ID), slog.String("reason", "federated_only"))
		return nil, model.NewInvalidCredentialsError()
	}
	if !s.hasher.Verify(hash, in.Password) {
		slog.Info("login rejected", slog.Int64("user_id", user.ID), slog.String("reason", "password_mismatch"))
		return nil, model.NewInvalidCredentialsError()
	}

	// 4. 新しいセッションを発行
	token, session, err := s.issueSession(ctx, s.sessions, user.ID)
	if err != nil {
		return nil, err
	}

	// 5. 最終ログイン日時を更新（失敗してもログインは成功させる）
	s.touchLastLogin(ctx, user.ID)

	slog.Info("user logged in", slog.Int64("user_id", user.ID))
	return &AuthResult{User: user.Public(), Token: token, ExpiresAt: session.ExpiresAt}, nil
}

// Logout は提示されたトークンに一致するセッションを失効させる。
// 未知のトークンや失効済みのトークンはエラーにしない。
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}

	n, err := s.sessions.RevokeByTokenHash(ctx, HashToken(rawToken), s.now())
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	s.recorder.RecordSessionsRevoked(n)

	slog.Info("user logged out", slog.Int64("revoked", n))
	return nil
}

// ResolveSession はセッショントークンから認証済みユーザーを取得する。
// トークンなし、該当なし、期限切れ、失効済み、無効化ユーザーはいずれも同じUnauthenticatedErrorを返す。
func (s *Service) ResolveSession(ctx context.Context, rawToken string) (user *model.User, err error) {
	defer func() { s.recorder.RecordSessionResolution(outcomeOf(err)) }()

	if rawToken == "" {
		return nil, model.NewUnauthenticatedError()
	}

	session, err := s.sessions.FindByTokenHash(ctx, HashToken(rawToken))
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || !session.IsValid(s.now()) {
		return nil, model.NewUnauthenticatedError()
	}

	user, err = s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, model.NewUnauthenticatedError()
	}

	return user, nil
}

// OAuthLoginURL はOAuth認証URLを生成する。
func (s *Service) OAuthLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// CompleteOAuth は認可コードを交換し、外部IdPのアイデンティティに対応するユーザーのセッションを発行する。
// 紐付け済みならそのユーザーを、未紐付けならメールアドレスで既存ユーザーを探し、
// いなければユーザー・家族・所属を作成する。紐付けとセッション作成は1つの単位で行う。
func (s *Service) CompleteOAuth(ctx context.Context, code string) (result *AuthResult, err error) {
	defer func() { s.recorder.RecordOAuthCallback(outcomeOf(err)) }()

	if code == "" {
		return nil, model.NewMissingAuthCodeError()
	}

	// 1. 認可コードをトークンに交換し、ユーザー情報を取得（再試行しない）
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		slog.Warn("oauth code exchange failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to exchange oauth code: %w: %w", model.NewUpstreamError(), err)
	}
	if info.ProviderUserID == "" || info.Email == "" {
		slog.Warn("oauth provider returned incomplete identity",
			slog.String("provider", info.Provider),
			slog.Bool("has_subject", info.ProviderUserID != ""),
			slog.Bool("has_email", info.Email != ""),
		)
		return nil, model.NewIncompleteIdentityError()
	}

	// 2. 紐付け・プロビジョニング・セッション作成を原子的に実行
	var user *model.User
	var token string
	var session *model.Session
	err = s.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		user, err = s.resolveFederatedUser(ctx, repos, info)
		if err != nil {
			return err
		}
		token, session, err = s.issueSession(ctx, repos.Sessions, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	// 3. 最終ログイン日時を更新（失敗してもログインは成功させる）
	s.touchLastLogin(ctx, user.ID)

	slog.Info("user logged in via oauth",
		slog.Int64("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return &AuthResult{User: user.Public(), Token: token, ExpiresAt: session.ExpiresAt}, nil
}

// resolveFederatedUser は外部IdPのアイデンティティに対応するユーザーを返す。
// 必要に応じて紐付けやユーザー作成を行う。
func (s *Service) resolveFederatedUser(ctx context.Context, repos repository.Repositories, info *OAuthUserInfo) (*model.User, error) {
	// a. 既存の紐付けを検索
	link, err := repos.OAuthAccounts.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find oauth account: %w", err)
	}
	if link != nil {
		user, err := repos.Users.FindByID(ctx, link.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find linked user: %w", err)
		}
		if user == nil {
			return nil, fmt.Errorf("linked user %d not found", link.UserID)
		}
		if !user.IsActive {
			return nil, model.NewAccountDisabledError()
		}
		return user, nil
	}

	// b. 同じメールアドレスの既存ユーザーに紐付ける
	user, err := repos.Users.FindByEmail(ctx, info.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user != nil {
		if s.config.RequireVerifiedEmail && !info.EmailVerified {
			slog.Warn("oauth auto-link refused for unverified email",
				slog.Int64("user_id", user.ID),
				slog.String("provider", info.Provider),
			)
			return nil, model.NewAccountExistsError()
		}
		if !user.IsActive {
			return nil, model.NewAccountDisabledError()
		}
		if err := createLink(ctx, repos, user.ID, info); err != nil {
			return nil, err
		}
		slog.Info("oauth identity linked to existing user",
			slog.Int64("user_id", user.ID),
			slog.String("provider", info.Provider),
		)
		return user, nil
	}

	// c. 新規ユーザーを外部IdP専用アカウントとして作成
	if s.config.RequireVerifiedEmail && !info.EmailVerified {
		return nil, model.NewEmailNotVerifiedError()
	}
	username := s.federatedUsername(info)
	user = &model.User{
		Email:      info.Email,
		Username:   username,
		Credential: model.FederatedOnlyCredential(),
		Role:       model.RoleUser,
		IsActive:   true,
	}
	if err := provisionUser(ctx, repos, user, defaultFamilyName(username)); err != nil {
		return nil, err
	}
	if err := createLink(ctx, repos, user.ID, info); err != nil {
		return nil, err
	}

	slog.Info("new user created via oauth",
		slog.Int64("user_id", user.ID),
		slog.String("email", user.Email),
		slog.String("provider", info.Provider),
	)
	return user, nil
}

// federatedUsername はプロバイダーの表示名からユーザー名を決める。
// 表示名が使えない場合はメールアドレスのローカル部を使う。
func (s *Service) federatedUsername(info *OAuthUserInfo) string {
	name := s.sanitizer.Sanitize(info.Name)
	if name == "" {
		local := info.Email
		if i := strings.LastIndex(info.Email, "@"); i > 0 {
			local = info.Email[:i]
		}
		name = s.sanitizer.Sanitize(local)
	}
	if utf8.RuneCountInString(name) > usernameMaxLen {
		name = string([]rune(name)[:usernameMaxLen])
	}
	return name
}

// provisionUser はユーザー・家族・OWNER所属を作成する。
func provisionUser(ctx context.Context, repos repository.Repositories, user *model.User, familyName string) error {
	if err := repos.Users.Create(ctx, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	family := &model.Family{Name: familyName, CreatedBy: user.ID}
	if err := repos.Families.Create(ctx, family); err != nil {
		return fmt.Errorf("failed to create family: %w", err)
	}

	membership := &model.Membership{UserID: user.ID, FamilyID: family.ID, Role: model.MembershipOwner}
	if err := repos.Memberships.Create(ctx, membership); err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}
	return nil
}

// createLink は外部IdPの紐付けを作成する。
func createLink(ctx context.Context, repos repository.Repositories, userID int64, info *OAuthUserInfo) error {
	link := &model.OAuthAccount{
		UserID:         userID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		Email:          info.Email,
	}
	if err := repos.OAuthAccounts.Create(ctx, link); err != nil {
		return fmt.Errorf("failed to create oauth account: %w", err)
	}
	return nil
}

// issueSession はトークンを生成し、そのハッシュでセッションを保存する。
func (s *Service) issueSession(ctx context.Context, sessions repository.SessionRepository, userID int64) (string, *model.Session, error) {
	token, err := s.newToken()
	if err != nil {
		return "", nil, err
	}

	now := s.now()
	session := &model.Session{
		UserID:    userID,
		TokenHash: HashToken(token),
		CreatedAt: now,
		ExpiresAt: ExpiryFrom(now, s.SessionValidity()),
	}
	if err := sessions.Create(ctx, session); err != nil {
		return "", nil, fmt.Errorf("failed to save session: %w", err)
	}
	return token, session, nil
}

// hashPassword はハッシュ計算時間を記録しながらパスワードをハッシュ化する。
func (s *Service) hashPassword(plaintext string) (string, error) {
	start := time.Now()
	hash, err := s.hasher.Hash(plaintext)
	s.recorder.RecordPasswordHashDuration(time.Since(start))
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return hash, nil
}

// placeholderHash は未登録メールアドレスでのログイン時に検証に使うハッシュを返す。
func (s *Service) placeholderHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("placeholder-password-never-matches")
		if err != nil {
			slog.Warn("failed to prepare placeholder hash", slog.String("error", err.Error()))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// touchLastLogin は最終ログイン日時を更新する。失敗はログに記録するのみ。
func (s *Service) touchLastLogin(ctx context.Context, userID int64) {
	if err := s.users.UpdateLastLogin(ctx, userID, s.now()); err != nil {
		slog.Warn("failed to update last login",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// defaultFamilyName は家族名が指定されなかった場合の既定名を返す。
func defaultFamilyName(username string) string {
	return username + "'s Family"
}

// outcomeOf はエラーをメトリクスの結果ラベルに変換する。
func outcomeOf(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	kind, ok := model.KindOf(err)
	if !ok {
		return metrics.OutcomeError
	}
	switch kind {
	case model.KindConflict:
		return metrics.OutcomeConflict
	case model.KindValidation:
		return metrics.OutcomeInvalid
	case model.KindUnauthorized:
		return metrics.OutcomeUnauthorized
	case model.KindForbidden:
		return metrics.OutcomeForbidden
	case model.KindUpstream:
		return metrics.OutcomeUpstream
	default:
		return metrics.OutcomeError
	}
}
