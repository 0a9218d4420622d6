package model

import (
	"errors"
	"fmt"
)

// 認証フローのエラー分類。
// ハンドラーはerrors.Isでこれらを判定しHTTPステータスに変換する。
var (
	// ErrInvalidRequest はリクエストボディが不正な場合のエラー。
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidCredentialFormat はベアラートークンの形式が不正な場合のエラー。
	ErrInvalidCredentialFormat = errors.New("invalid credential format")
	// ErrAuthenticationFailed はトークンが存在しない、または期限切れの場合のエラー。
	// 両者は呼び出し元から区別できない。
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrIdentityVerificationFailed は外部IdPでの検証に失敗した場合のエラー。
	ErrIdentityVerificationFailed = errors.New("identity verification failed")
	// ErrStorageFailure は永続化層での読み書きに失敗した場合のエラー。
	ErrStorageFailure = errors.New("storage failure")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest             = "INVALID_REQUEST"
	ErrCodeUnauthorized               = "UNAUTHORIZED"
	ErrCodeIdentityVerificationFailed = "IDENTITY_VERIFICATION_FAILED"
	ErrCodeInternal                   = "INTERNAL_ERROR"
)

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエストボディにaccess_tokenを含めてください。",
	}
}

// NewUnauthorizedError は認証失敗エラーを生成する。
// トークンの不在と期限切れは同じメッセージで返す。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewIdentityVerificationFailedError は外部IdPでの検証失敗エラーを生成する。
func NewIdentityVerificationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentityVerificationFailed,
		Message:  "アクセストークンを検証できませんでした。",
		Category: "auth",
		Action:   "Googleで再度ログインしてからお試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細は含めない。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
