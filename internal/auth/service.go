// Package auth は登録・ログインとセッショントークン発行のビジネスロジックを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/kiji/internal/identity"
	"github.com/hitoshi/kiji/internal/model"
	"github.com/hitoshi/kiji/internal/repository"
)

// IdentityProvider は外部IDプロバイダーのインターフェース。
// パスワードの保管と照合はすべてプロバイダー側の責務。
type IdentityProvider interface {
	// SignUp は認証ユーザーを作成し、プロバイダー発行のユーザーIDを返す。
	SignUp(ctx context.Context, email, password string) (string, error)
	// SignInWithPassword は認証情報を検証し、ユーザーIDを返す。
	SignInWithPassword(ctx context.Context, email, password string) (string, error)
	// DeleteUser は認証ユーザーを削除する。補償処理専用。
	DeleteUser(ctx context.Context, providerUserID string) error
}

// TokenIssuer はセッショントークンの発行インターフェース。
// token.Codecの部分集合として定義する。
type TokenIssuer interface {
	Issue(subject string) (string, error)
}

// Service は認証に関するビジネスロジックを提供する。
//
// accountsはスコープ付きハンドルで構築したリポジトリ、privilegedAccountsは
// 特権ハンドルで構築したリポジトリを渡す。特権リポジトリを参照するのは
// Registerのアカウント作成だけで、これがコードベース全体で唯一の
// 特権ハンドル使用箇所である。
type Service struct {
	idp                IdentityProvider
	accounts           repository.AccountRepository
	privilegedAccounts repository.AccountRepository
	tokens             TokenIssuer
}

// NewService はServiceを生成する。
func NewService(
	idp IdentityProvider,
	accounts repository.AccountRepository,
	privilegedAccounts repository.AccountRepository,
	tokens TokenIssuer,
) *Service {
	return &Service{
		idp:                idp,
		accounts:           accounts,
		privilegedAccounts: privilegedAccounts,
		tokens:             tokens,
	}
}

// Register は新規アカウントを登録し、セッショントークンを発行する。
//
// 手順:
//  1. メールアドレスの重複を確認する
//  2. IDプロバイダーに認証ユーザーを作成する（パスワードはプロバイダーが保管）
//  3. プロバイダー発行のIDでアカウントレコードを作成する。
//     この時点で呼び出し側にセッションは存在しないため、特権リポジトリを使用する
//  4. トークンを発行し、登録直後からログイン状態にする
//
// 手順2と3の間に原子性はない。3が失敗した場合はプロバイダー側のユーザーを
// 補償処理として削除する（ベストエフォート。失敗はログに記録するのみ）。
func (s *Service) Register(ctx context.Context, username, email, password string) (string, error) {
	// 1. 重複確認
	existing, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("メールアドレスの重複確認に失敗しました: %w", err)
	}
	if existing != nil {
		return "", model.NewDuplicateEmailError()
	}

	// 2. IDプロバイダーに認証ユーザーを作成
	providerID, err := s.idp.SignUp(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrRejected) {
			return "", &model.APIError{
				Code:     model.ErrCodeIdentity,
				Message:  "アカウントを作成できませんでした。",
				Category: "validation",
				Action:   "入力内容を確認して再度お試しください。",
			}
		}
		return "", fmt.Errorf("IDプロバイダーへのユーザー作成に失敗しました: %w", err)
	}

	// 3. アカウントレコードを作成（特権リポジトリ）
	account := &model.Account{
		ID:       providerID,
		Username: username,
		Email:    email,
	}
	if err := s.privilegedAccounts.Create(ctx, account); err != nil {
		// 補償: プロバイダー側に孤児ユーザーを残さない
		if delErr := s.idp.DeleteUser(ctx, providerID); delErr != nil {
			slog.Error("登録補償処理に失敗しました（孤児ユーザーが残存）",
				slog.String("provider_user_id", providerID),
				slog.String("error", delErr.Error()),
			)
		}
		return "", fmt.Errorf("アカウントレコードの作成に失敗しました: %w", err)
	}

	slog.Info("新規アカウントを登録しました",
		slog.String("account_id", account.ID),
		slog.String("username", username),
	)

	// 4. トークンを発行
	tok, err := s.tokens.Issue(account.ID)
	if err != nil {
		return "", fmt.Errorf("トークンの発行に失敗しました: %w", err)
	}

	return tok, nil
}

// Login は認証情報を検証し、セッショントークンを発行する。
// 認証情報が一致しない場合、メールとパスワードのどちらが誤っているかは開示しない。
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	providerID, err := s.idp.SignInWithPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			return "", model.NewInvalidCredentialsError()
		}
		return "", fmt.Errorf("IDプロバイダーでの認証に失敗しました: %w", err)
	}

	tok, err := s.tokens.Issue(providerID)
	if err != nil {
		return "", fmt.Errorf("トークンの発行に失敗しました: %w", err)
	}

	slog.Info("ログインしました", slog.String("account_id", providerID))

	return tok, nil
}
