// Package account はアカウント参照のドメインロジックを提供する。
package account

import (
	"context"
	"fmt"

	"github.com/hitoshi/kiji/internal/model"
	"github.com/hitoshi/kiji/internal/repository"
)

// Service はアカウントの公開プロフィール参照を提供する。
// スコープ付きリポジトリのみを参照し、書き込み操作は持たない
// （アカウント作成は登録フローの専権事項）。
type Service struct {
	accounts repository.AccountRepository
}

// NewService はServiceを生成する。
func NewService(accounts repository.AccountRepository) *Service {
	return &Service{accounts: accounts}
}

// GetByID は指定IDのアカウントの公開プロフィールを取得する。
func (s *Service) GetByID(ctx context.Context, id string) (*model.Account, error) {
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if account == nil {
		return nil, model.NewAccountNotFoundError(id)
	}
	return account, nil
}
