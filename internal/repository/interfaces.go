// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/tokenbridge/internal/model"
)

// ErrDuplicateEmail は同一emailのユーザーが既に存在する場合にCreateUserが返すエラー。
// 呼び出し側は再SELECTして既存ユーザーを使用する。
var ErrDuplicateEmail = errors.New("user with this email already exists")

// AuthRepository はユーザーとセッショントークンの永続化インターフェース。
type AuthRepository interface {
	// FindUserByEmail はemailでユーザーを検索する。見つからない場合はnilを返す。
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateUser はユーザーを作成し、CreatedAtにサーバー時刻を設定する。
	// emailが一意制約に違反する場合はErrDuplicateEmailを返す。
	CreateUser(ctx context.Context, user *model.User) error

	// CreateToken はセッショントークンを作成し、CreatedAtにサーバー時刻を設定する。
	CreateToken(ctx context.Context, token *model.Token) error

	// FindTokenWithUser はトークンIDでトークンと所有ユーザーを取得する。
	// 見つからない場合はnilを返す。期限の判定は行わない。
	FindTokenWithUser(ctx context.Context, tokenID string) (*model.TokenWithUser, error)
}

// Transactor はAuthRepositoryに対する操作を1つのトランザクションで実行する。
// fnがエラーを返した場合はロールバックし、そのエラーをそのまま返す。
type Transactor interface {
	InTx(ctx context.Context, fn func(repo AuthRepository) error) error
}

// TransactionalAuthRepository はトランザクション実行可能なAuthRepository。
type TransactionalAuthRepository interface {
	AuthRepository
	Transactor
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
