// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/famledger/internal/auth"
	"github.com/hitoshi/famledger/internal/middleware"
	"github.com/hitoshi/famledger/internal/model"
)

const (
	oauthStateCookie = "oauth_state"

	defaultOAuthStateMaxAge = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.AuthResult, error)
	Logout(ctx context.Context, rawToken string) error
	ResolveSession(ctx context.Context, rawToken string) (*model.User, error)
	OAuthLoginURL(state string) string
	CompleteOAuth(ctx context.Context, code string) (*auth.AuthResult, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL          string
	LandingPath      string
	CookieDomain     string
	CookieSecure     bool
	SessionMaxAge    int // セッションCookieの有効期間（秒）
	OAuthStateMaxAge int // stateCookieの有効期間（秒）
}

// AuthHandler はユーザー登録・ログイン・OAuth連携のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	if config.OAuthStateMaxAge <= 0 {
		config.OAuthStateMaxAge = defaultOAuthStateMaxAge
	}
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type registerRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	GroupName string `json:"groupName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userResponse は/register, /login, /me のレスポンス。
type userResponse struct {
	User model.PublicUser `json:"user"`
}

// Register はメールアドレスとパスワードでユーザーを登録し、ログイン状態にする。
// POST /register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Register(r.Context(), auth.RegisterInput{
		Email:      req.Email,
		Username:   req.Username,
		Password:   req.Password,
		FamilyName: req.GroupName,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, result)
	writeJSON(w, http.StatusCreated, userResponse{User: result.User})
}

// Login はメールアドレスとパスワードで認証し、新しいセッションを発行する。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, result)
	writeJSON(w, http.StatusOK, userResponse{User: result.User})
}

// Logout は提示されたセッションを失効させ、Cookieを削除する。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			middleware.WriteInternalServerError(w)
			return
		}
	}

	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Me は現在のログインユーザー情報を返す。
// GET /me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	writeJSON(w, http.StatusOK, userResponse{User: user.Public()})
}

// OAuthStart はGoogle OAuthフローを開始する。
// GET /oauth/start
func (h *AuthHandler) OAuthStart(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   h.config.OAuthStateMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.OAuthLoginURL(state), http.StatusTemporaryRedirect)
}

// OAuthCallback はOAuthコールバックを処理する。
// GET /oauth/callback?code=xxx&state=yyy
//
// プロバイダーのエラー、state不一致、認可コード欠落の場合はトークン交換を行わない。
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// stateクッキーは結果に関わらず削除する
	h.clearStateCookie(w)

	if providerErr := query.Get("error"); providerErr != "" {
		slog.Warn("oauth provider returned error", slog.String("error", providerErr))
		handleServiceError(w, model.NewOAuthDeniedError())
		return
	}

	state := query.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || !stateMatches(stateCookie.Value, state) {
		slog.Warn("oauth state mismatch", slog.Bool("cookie_present", err == nil))
		handleServiceError(w, model.NewOAuthStateMismatchError())
		return
	}

	code := query.Get("code")
	if code == "" {
		handleServiceError(w, model.NewMissingAuthCodeError())
		return
	}

	result, err := h.service.CompleteOAuth(r.Context(), code)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, result)
	http.Redirect(w, r, h.config.BaseURL+h.config.LandingPath, http.StatusTemporaryRedirect)
}

// setSessionCookie は生のセッショントークンをHttpOnly Cookieとして設定する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, result *auth.AuthResult) {
	maxAge := h.config.SessionMaxAge
	if maxAge <= 0 {
		maxAge = int(time.Until(result.ExpiresAt).Seconds())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    result.Token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	clearSessionCookie(w, h.config.CookieDomain, h.config.CookieSecure)
}

func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はセッションCookieを即時に失効させる。
func clearSessionCookie(w http.ResponseWriter, domain string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// stateMatches はstateクッキーとクエリのstateを定数時間で比較する。どちらかが空なら不一致。
func stateMatches(cookieValue, param string) bool {
	if cookieValue == "" || param == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookieValue), []byte(param)) == 1
}
