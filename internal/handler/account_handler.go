package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/famledger/internal/account"
	"github.com/hitoshi/famledger/internal/middleware"
	"github.com/hitoshi/famledger/internal/model"
)

// AccountServiceInterface はアカウント管理ハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	// ChangePassword はパスワードを変更し、現在のセッション以外を失効させる。
	ChangePassword(ctx context.Context, userID int64, currentToken string, in account.ChangePasswordInput) error
	// Deactivate はアカウントを無効化し、全セッションを失効させる。
	Deactivate(ctx context.Context, userID int64) error
}

// AccountHandler はログイン中ユーザー自身のアカウント管理のHTTPハンドラー。
type AccountHandler struct {
	service      AccountServiceInterface
	cookieDomain string
	cookieSecure bool
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface, cookieDomain string, cookieSecure bool) *AccountHandler {
	return &AccountHandler{
		service:      service,
		cookieDomain: cookieDomain,
		cookieSecure: cookieSecure,
	}
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword はパスワードを変更する。
// POST /account/password
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var currentToken string
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		currentToken = cookie.Value
	}

	err := h.service.ChangePassword(r.Context(), user.ID, currentToken, account.ChangePasswordInput{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Deactivate はアカウントを無効化し、セッションCookieを削除する。
// POST /account/deactivate
func (h *AccountHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	if err := h.service.Deactivate(r.Context(), user.ID); err != nil {
		handleServiceError(w, err)
		return
	}

	clearSessionCookie(w, h.cookieDomain, h.cookieSecure)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
