package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/tokenbridge/internal/model"
)

// pgUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pgUniqueViolation = "23505"

// queryer は*sql.DBと*sql.Txの共通部分。
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresAuthRepo はPostgreSQLを使用した認証リポジトリ。
// users、tokensテーブルを扱う。
type PostgresAuthRepo struct {
	db TxBeginner // トランザクション内で生成されたリポジトリではnil
	q  queryer
}

// NewPostgresAuthRepo はPostgresAuthRepoを生成する。
func NewPostgresAuthRepo(db *sql.DB) *PostgresAuthRepo {
	if db == nil {
		return &PostgresAuthRepo{}
	}
	return &PostgresAuthRepo{db: db, q: db}
}

// InTx はfnを1つのトランザクション内で実行する。
// fnに渡されるリポジトリの操作はすべて同じトランザクションに属する。
// 既にトランザクション内のリポジトリで呼ばれた場合はそのままfnを実行する。
func (r *PostgresAuthRepo) InTx(ctx context.Context, fn func(repo AuthRepository) error) error {
	if r.db == nil {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&PostgresAuthRepo{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FindUserByEmail はemailでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresAuthRepo) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	user := &model.User{}
	err := r.q.QueryRowContext(ctx,
		`SELECT id, email, created_at FROM users WHERE email = $1`,
		email,
	).Scan(&user.ID, &user.Email, &user.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	return user, nil
}

// CreateUser はユーザーを作成する。
// ON CONFLICT DO NOTHINGにより、同時に同じemailで作成された場合でも
// トランザクションをアボートさせずにErrDuplicateEmailを返す。
func (r *PostgresAuthRepo) CreateUser(ctx context.Context, user *model.User) error {
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO users (id, email)
		 VALUES ($1, $2)
		 ON CONFLICT (email) DO NOTHING
		 RETURNING created_at`,
		user.ID, user.Email,
	).Scan(&user.CreatedAt)

	if err == sql.ErrNoRows {
		return ErrDuplicateEmail
	}
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// CreateToken はセッショントークンを作成する。
func (r *PostgresAuthRepo) CreateToken(ctx context.Context, token *model.Token) error {
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO tokens (id, user_id, expired_at)
		 VALUES ($1, $2, $3)
		 RETURNING created_at`,
		token.ID, token.UserID, token.ExpiredAt,
	).Scan(&token.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

// FindTokenWithUser はトークンIDでトークンと所有ユーザーを取得する。
// 見つからない場合はnilを返す。
func (r *PostgresAuthRepo) FindTokenWithUser(ctx context.Context, tokenID string) (*model.TokenWithUser, error) {
	tu := &model.TokenWithUser{}
	err := r.q.QueryRowContext(ctx,
		`SELECT t.id, t.user_id, t.created_at, t.expired_at,
		        u.id, u.email, u.created_at
		 FROM tokens t
		 JOIN users u ON u.id = t.user_id
		 WHERE t.id = $1`,
		tokenID,
	).Scan(
		&tu.Token.ID, &tu.Token.UserID, &tu.Token.CreatedAt, &tu.Token.ExpiredAt,
		&tu.User.ID, &tu.User.Email, &tu.User.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find token: %w", err)
	}

	return tu, nil
}

// isUniqueViolation はerrがPostgreSQLの一意制約違反かを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}
	return false
}

// compile-time interface check
var _ TransactionalAuthRepository = (*PostgresAuthRepo)(nil)
