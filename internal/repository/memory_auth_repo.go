package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/tokenbridge/internal/model"
)

// MemoryAuthRepo はメモリ上で動作するAuthRepositoryの実装。
// PostgresAuthRepoと同じ一意制約とトランザクションの挙動を持ち、
// DBを用意できないテストで使用する。
// トランザクションは直列に実行され、fnがエラーを返した場合は書き込みを破棄する。
type MemoryAuthRepo struct {
	txMu sync.Mutex

	mu         sync.RWMutex
	users      map[string]model.User
	emailIndex map[string]string // email -> user ID
	tokens     map[string]model.Token

	now func() time.Time
}

// NewMemoryAuthRepo はMemoryAuthRepoを生成する。
func NewMemoryAuthRepo() *MemoryAuthRepo {
	return &MemoryAuthRepo{
		users:      make(map[string]model.User),
		emailIndex: make(map[string]string),
		tokens:     make(map[string]model.Token),
		now:        time.Now,
	}
}

// InTx はfnを1つのトランザクションとして実行する。
func (r *MemoryAuthRepo) InTx(ctx context.Context, fn func(repo AuthRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	tx := &memoryTx{
		repo:   r,
		users:  make(map[string]model.User),
		tokens: make(map[string]model.Token),
	}
	if err := fn(tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, u := range tx.users {
		r.users[id] = u
		r.emailIndex[u.Email] = id
	}
	for id, t := range tx.tokens {
		r.tokens[id] = t
	}
	return nil
}

// FindUserByEmail はemailでユーザーを検索する。見つからない場合はnilを返す。
func (r *MemoryAuthRepo) FindUserByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findUserByEmailLocked(email), nil
}

// CreateUser はユーザーを作成する。emailが重複する場合はErrDuplicateEmailを返す。
func (r *MemoryAuthRepo) CreateUser(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.emailIndex[user.Email]; exists {
		return ErrDuplicateEmail
	}
	user.CreatedAt = r.now()
	r.users[user.ID] = *user
	r.emailIndex[user.Email] = user.ID
	return nil
}

// CreateToken はセッショントークンを作成する。
func (r *MemoryAuthRepo) CreateToken(_ context.Context, token *model.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	token.CreatedAt = r.now()
	r.tokens[token.ID] = *token
	return nil
}

// FindTokenWithUser はトークンIDでトークンと所有ユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryAuthRepo) FindTokenWithUser(_ context.Context, tokenID string) (*model.TokenWithUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tokens[tokenID]
	if !ok {
		return nil, nil
	}
	u, ok := r.users[t.UserID]
	if !ok {
		return nil, nil
	}
	return &model.TokenWithUser{Token: t, User: u}, nil
}

// UserCount は保存されているユーザー数を返す。テスト用。
func (r *MemoryAuthRepo) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// TokenCount は保存されているトークン数を返す。テスト用。
func (r *MemoryAuthRepo) TokenCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}

// PutToken はトークンを直接保存する。期限切れトークンを用意するテスト用。
func (r *MemoryAuthRepo) PutToken(token model.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token.ID] = token
}

func (r *MemoryAuthRepo) findUserByEmailLocked(email string) *model.User {
	id, ok := r.emailIndex[email]
	if !ok {
		return nil
	}
	u := r.users[id]
	return &u
}

// memoryTx はMemoryAuthRepo.InTx内で使われる書き込みバッファ。
type memoryTx struct {
	repo   *MemoryAuthRepo
	users  map[string]model.User
	tokens map[string]model.Token
}

func (tx *memoryTx) FindUserByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range tx.users {
		if u.Email == email {
			found := u
			return &found, nil
		}
	}
	tx.repo.mu.RLock()
	defer tx.repo.mu.RUnlock()
	return tx.repo.findUserByEmailLocked(email), nil
}

func (tx *memoryTx) CreateUser(ctx context.Context, user *model.User) error {
	existing, _ := tx.FindUserByEmail(ctx, user.Email)
	if existing != nil {
		return ErrDuplicateEmail
	}
	user.CreatedAt = tx.repo.now()
	tx.users[user.ID] = *user
	return nil
}

func (tx *memoryTx) CreateToken(_ context.Context, token *model.Token) error {
	token.CreatedAt = tx.repo.now()
	tx.tokens[token.ID] = *token
	return nil
}

func (tx *memoryTx) FindTokenWithUser(ctx context.Context, tokenID string) (*model.TokenWithUser, error) {
	t, ok := tx.tokens[tokenID]
	if !ok {
		return tx.repo.FindTokenWithUser(ctx, tokenID)
	}
	if u, ok := tx.users[t.UserID]; ok {
		return &model.TokenWithUser{Token: t, User: u}, nil
	}
	tx.repo.mu.RLock()
	defer tx.repo.mu.RUnlock()
	u, ok := tx.repo.users[t.UserID]
	if !ok {
		return nil, nil
	}
	return &model.TokenWithUser{Token: t, User: u}, nil
}

// compile-time interface check
var (
	_ TransactionalAuthRepository = (*MemoryAuthRepo)(nil)
	_ AuthRepository              = (*memoryTx)(nil)
)
