package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/tokenbridge/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// WriteServiceError は認証フローのエラーをHTTPステータスと統一エラーフォーマットに変換して書き込む。
//
//	ErrInvalidRequest             -> 400
//	ErrInvalidCredentialFormat    -> 401
//	ErrAuthenticationFailed       -> 401
//	ErrIdentityVerificationFailed -> 401
//	その他（ErrStorageFailureを含む） -> 500
func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("access_token is required"))
	case errors.Is(err, model.ErrInvalidCredentialFormat), errors.Is(err, model.ErrAuthenticationFailed):
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
	case errors.Is(err, model.ErrIdentityVerificationFailed):
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewIdentityVerificationFailedError())
	default:
		slog.Error("internal error", slog.String("error", err.Error()))
		WriteInternalServerError(w)
	}
}
