package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/kiji/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
// 渡された*sql.DBの接続ロールがそのまま権限階層になる。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	account := &model.Account{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, email, created_at FROM accounts WHERE id = $1`,
		id,
	).Scan(&account.ID, &account.Username, &account.Email, &account.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}

	return account, nil
}

// FindByEmail はメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	account := &model.Account{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, email, created_at FROM accounts WHERE email = $1`,
		email,
	).Scan(&account.ID, &account.Username, &account.Email, &account.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("メールアドレスによるアカウントの検索に失敗しました: %w", err)
	}

	return account, nil
}

// Create はアカウントを作成する。created_atはDB側のデフォルトで設定し、
// 生成された値をモデルに書き戻す。
func (r *PostgresAccountRepo) Create(ctx context.Context, account *model.Account) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO accounts (id, username, email)
		 VALUES ($1, $2, $3)
		 RETURNING created_at`,
		account.ID, account.Username, account.Email,
	).Scan(&account.CreatedAt)
	if err != nil {
		return fmt.Errorf("アカウントの作成に失敗しました: %w", err)
	}

	return nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
