// Package repository はデータ永続化のインターフェースを定義する。
//
// 同じインターフェースを2つの権限階層で構築して使い分ける:
// 行レベルセキュリティの適用を受けるスコープ付きハンドルと、
// それを迂回する特権ハンドル（登録時のアカウント作成専用）。
// どちらの階層を使うかは実装の生成時に渡す*sql.DBで決まる。
package repository

import (
	"context"

	"github.com/hitoshi/kiji/internal/model"
)

// AccountRepository はアカウントデータの永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// FindByEmail はメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
	// 登録時の重複検出に使用する。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)

	// Create はアカウントを作成する。
	// IDは外部IDプロバイダーが発行したものを呼び出し側が指定し、ここでは生成しない。
	// スコープ付きハンドルではRLSにより拒否されるため、特権ハンドルで構築した
	// 実装からのみ成功する。
	Create(ctx context.Context, account *model.Account) error
}

// PostRepository は記事データの永続化インターフェース。
type PostRepository interface {
	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// List は記事一覧を作成日時の降順で取得する。
	// ウィンドウは[skip, skip+limit-1]の両端含む範囲で、利用可能な行数を
	// 超えた場合はエラーではなく空スライスを返す。
	// publishedOnly=trueの場合は公開済みの記事に限定する。
	List(ctx context.Context, skip, limit int, publishedOnly bool) ([]*model.Post, error)

	// ListByAuthor は指定著者の全記事を作成日時の降順で取得する。
	// 公開状態での絞り込みは行わない（著者は下書きも見える）。
	ListByAuthor(ctx context.Context, authorID string) ([]*model.Post, error)

	// Create は記事を作成する。AuthorIDは呼び出し側（サービス層）が
	// 解決済みプリンシパルから設定済みであること。
	Create(ctx context.Context, post *model.Post) error

	// Update は記事を部分更新する。patchのnilでないフィールドのみを反映し、
	// 空のpatchの場合は書き込みを行わず現在のレコードを返す。
	// 並行する削除との競合等でレコードが消えていた場合はnilを返す。
	Update(ctx context.Context, id string, patch *model.PostPatch) (*model.Post, error)

	// Delete は指定IDの記事を削除する。実際に行が削除された場合のみtrueを返す。
	Delete(ctx context.Context, id string) (bool, error)
}
