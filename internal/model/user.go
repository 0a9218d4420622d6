// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// emailは初回作成後に変更されない。
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Token はベアラー資格情報として使われるセッショントークンを表す。
// IDそのものが資格情報であり、別途シークレットは持たない。
type Token struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiredAt time.Time
}

// IsExpired はnowがExpiredAtを過ぎているかを返す。
// now == ExpiredAt の時点ではまだ有効とみなす。
func (t *Token) IsExpired(now time.Time) bool {
	return now.After(t.ExpiredAt)
}

// TokenWithUser はトークンと所有ユーザーをJOINした結果。
type TokenWithUser struct {
	Token Token
	User  User
}

// VerifiedIdentity は外部IdPが検証済みとして返したユーザー属性。
type VerifiedIdentity struct {
	Provider      string // "google"
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// IssuedToken はセッション発行の結果。
type IssuedToken struct {
	Token     string // クライアントへ返す不透明な文字列
	UserID    string
	ExpiredAt time.Time
}
