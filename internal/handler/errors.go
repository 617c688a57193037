package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/famledger/internal/middleware"
	"github.com/hitoshi/famledger/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 64 << 10

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	middleware.WriteJSON(w, statusCode, body)
}

// decodeJSON はリクエストボディをdstにデコードする。
// 解析できない場合はINVALID_INPUTのレスポンスを書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Kind:     model.KindValidation,
			Code:     model.ErrCodeInvalidInput,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapErrorKindToHTTPStatus(apiErr.Kind)
		if statusCode == http.StatusInternalServerError {
			slog.Error("unclassified api error", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
			return
		}
		if apiErr.Kind == model.KindUpstream {
			// 上流の詳細はログのみに残す
			slog.Warn("upstream failure", slog.String("error", err.Error()))
		}
		middleware.WriteErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapErrorKindToHTTPStatus はエラー種別からHTTPステータスコードにマッピングする。
func mapErrorKindToHTTPStatus(kind model.ErrorKind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindConflict:
		return http.StatusConflict
	case model.KindUnauthorized:
		return http.StatusUnauthorized
	case model.KindForbidden:
		return http.StatusForbidden
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindUpstream:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
