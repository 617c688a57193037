package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類を表す。HTTPステータスへの対応付けに使用する。
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindConflict     ErrorKind = "conflict"
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindNotFound     ErrorKind = "not_found"
	KindUpstream     ErrorKind = "upstream"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Kind     ErrorKind // エラー種別
	Code     string    // エラーコード
	Message  string    // エラーメッセージ
	Category string    // カテゴリ: auth, validation, account, system
	Action   string    // ユーザー向け対処方法
	Field    string    // 検証エラーの対象フィールド（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeEmailTaken         = "EMAIL_TAKEN"
	ErrCodeAccountExists      = "ACCOUNT_EXISTS"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeAccountDisabled    = "ACCOUNT_DISABLED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeUpstreamFailed     = "UPSTREAM_FAILED"
	ErrCodeOAuthStateMismatch = "OAUTH_STATE_MISMATCH"
	ErrCodeMissingAuthCode    = "MISSING_AUTH_CODE"
	ErrCodeOAuthDenied        = "OAUTH_DENIED"
	ErrCodeEmailNotVerified   = "EMAIL_NOT_VERIFIED"
	ErrCodePasswordNotSet     = "PASSWORD_NOT_SET"
	ErrCodeIncompleteIdentity = "INCOMPLETE_IDENTITY"
	ErrCodeCSRFInvalid        = "CSRF_INVALID"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// KindOf はエラーチェーンにAPIErrorが含まれていればその種別を返す。
func KindOf(err error) (ErrorKind, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return "", false
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力値が不正です（%s）: %s", field, reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
		Field:    field,
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスで登録してください。",
		Field:    "email",
	}
}

// NewAccountExistsError は外部IdPの自動紐付けを拒否した場合のエラーを生成する。
func NewAccountExistsError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeAccountExists,
		Message:  "このメールアドレスのアカウントが既に存在します。",
		Category: "auth",
		Action:   "パスワードでログインしてください。",
	}
}

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// メールアドレスの存在有無を明かさないため、未登録とパスワード不一致で同じ内容を返す。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Kind:     KindUnauthorized,
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Kind:     KindUnauthorized,
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewAccountDisabledError は無効化されたアカウントへのアクセスエラーを生成する。
func NewAccountDisabledError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeAccountDisabled,
		Message:  "このアカウントは無効化されています。",
		Category: "auth",
		Action:   "管理者に問い合わせてください。",
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%sが見つかりません。", resource),
		Category: "system",
		Action:   "指定内容を確認してください。",
	}
}

// NewUpstreamError は外部IdPとの通信失敗エラーを生成する。
// 詳細はログにのみ記録し、ユーザーには一般的なメッセージを返す。
func NewUpstreamError() *APIError {
	return &APIError{
		Kind:     KindUpstream,
		Code:     ErrCodeUpstreamFailed,
		Message:  "外部認証プロバイダーでの認証に失敗しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewOAuthStateMismatchError はOAuthのstate不一致エラーを生成する。
func NewOAuthStateMismatchError() *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeOAuthStateMismatch,
		Message:  "認証リクエストの検証に失敗しました。",
		Category: "auth",
		Action:   "もう一度ログインをやり直してください。",
	}
}

// NewMissingAuthCodeError は認可コード欠落エラーを生成する。
func NewMissingAuthCodeError() *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeMissingAuthCode,
		Message:  "認可コードがありません。",
		Category: "auth",
		Action:   "もう一度ログインをやり直してください。",
	}
}

// NewOAuthDeniedError はプロバイダー側で認可が拒否された場合のエラーを生成する。
func NewOAuthDeniedError() *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeOAuthDenied,
		Message:  "外部認証プロバイダーで認可されませんでした。",
		Category: "auth",
		Action:   "アクセスを許可してから再度お試しください。",
	}
}

// NewEmailNotVerifiedError はプロバイダーがメールアドレスを検証していない場合のエラーを生成する。
func NewEmailNotVerifiedError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeEmailNotVerified,
		Message:  "外部アカウントのメールアドレスが確認されていません。",
		Category: "auth",
		Action:   "プロバイダー側でメールアドレスを確認してから再度お試しください。",
	}
}

// NewIncompleteIdentityError はプロバイダーがsubjectまたはemailを返さなかった場合のエラーを生成する。
func NewIncompleteIdentityError() *APIError {
	return &APIError{
		Kind:     KindUpstream,
		Code:     ErrCodeIncompleteIdentity,
		Message:  "外部認証プロバイダーから必要な情報を取得できませんでした。",
		Category: "auth",
		Action:   "メールアドレスの共有を許可して再度お試しください。",
	}
}

// NewPasswordNotSetError はパスワード未設定アカウントでパスワード操作をした場合のエラーを生成する。
func NewPasswordNotSetError() *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodePasswordNotSet,
		Message:  "このアカウントにはパスワードが設定されていません。",
		Category: "account",
		Action:   "外部認証プロバイダーでログインしてください。",
	}
}

// NewCSRFInvalidError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeCSRFInvalid,
		Message:  "リクエストの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
// 種別を持たないため、ステータス429は呼び出し側が決める。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーの応答用エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
