// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/tokenbridge/internal/middleware"
	"github.com/hitoshi/tokenbridge/internal/model"
)

// maxRequestBodySize はトークン交換リクエストのボディ上限。
const maxRequestBodySize = 64 << 10

var validate = validator.New(validator.WithRequiredStructEnabled())

// SessionIssuer はトークン交換ハンドラーが必要とするサービスインターフェース。
type SessionIssuer interface {
	IssueSession(ctx context.Context, accessToken string) (*model.IssuedToken, error)
}

// AuthHandler はトークン交換のHTTPハンドラー。
type AuthHandler struct {
	issuer SessionIssuer
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(issuer SessionIssuer) *AuthHandler {
	return &AuthHandler{issuer: issuer}
}

type googleAuthRequest struct {
	AccessToken string `json:"access_token" validate:"required,max=4096"`
}

type googleAuthResponse struct {
	Token string `json:"token"`
}

// GoogleAuth はGoogleのアクセストークンをセッショントークンに交換する。
// POST /v1/auth/google
//
//	ボディが不正、またはaccess_tokenが空 -> 400
//	IdPでの検証失敗 -> 401
//	永続化の失敗 -> 500
func (h *AuthHandler) GoogleAuth(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req googleAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("invalid JSON body"))
		return
	}

	if err := validate.Struct(req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(validationReason(err)))
		return
	}

	issued, err := h.issuer.IssueSession(r.Context(), req.AccessToken)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, googleAuthResponse{Token: issued.Token})
}

// validationReason はバリデーションエラーをクライアント向けの理由に変換する。
func validationReason(err error) string {
	var validateErrs validator.ValidationErrors
	if !errors.As(err, &validateErrs) {
		return "invalid request body"
	}

	reasons := make([]string, 0, len(validateErrs))
	for _, fe := range validateErrs {
		switch fe.Tag() {
		case "required":
			reasons = append(reasons, "access_token is required")
		case "max":
			reasons = append(reasons, fmt.Sprintf("access_token must be at most %s characters", fe.Param()))
		default:
			reasons = append(reasons, "access_token is invalid")
		}
	}
	return strings.Join(reasons, ", ")
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
