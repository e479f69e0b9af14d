// Package post は記事管理のドメインロジックを提供する。
package post

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hitoshi/kiji/internal/model"
	"github.com/hitoshi/kiji/internal/repository"
	"github.com/hitoshi/kiji/internal/security"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Service は記事のCRUDと認可判定を提供する。
// リポジトリは必ずスコープ付きハンドルで構築したものを渡す。
type Service struct {
	posts     repository.PostRepository
	sanitizer security.ContentSanitizer
}

// NewService はServiceを生成する。
func NewService(posts repository.PostRepository, sanitizer security.ContentSanitizer) *Service {
	return &Service{
		posts:     posts,
		sanitizer: sanitizer,
	}
}

// ListPublished は公開済み記事の一覧を新着順で取得する。認証不要。
// limitが0以下の場合は20件、100件を超える場合は100件に丸める。
func (s *Service) ListPublished(ctx context.Context, skip, limit int) ([]*model.Post, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	posts, err := s.posts.List(ctx, skip, limit, true)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	return posts, nil
}

// ListOwn は呼び出し主体自身の全記事（下書き含む）を新着順で取得する。
func (s *Service) ListOwn(ctx context.Context, principalID string) ([]*model.Post, error) {
	posts, err := s.posts.ListByAuthor(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("自分の記事一覧の取得に失敗しました: %w", err)
	}
	return posts, nil
}

// Get は指定IDの記事を取得する。
// viewerIDは閲覧者のアカウントID（未認証の場合は空文字列）。
// 未公開の記事は所有者以外には存在自体を開示せず、未検出として扱う。
func (s *Service) Get(ctx context.Context, id, viewerID string) (*model.Post, error) {
	post, err := s.posts.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	if post == nil || !post.IsVisibleTo(viewerID) {
		return nil, model.NewPostNotFoundError(id)
	}
	return post, nil
}

// Create は新規記事を作成する。
// AuthorIDは必ず解決済みプリンシパルのIDを使用し、リクエスト由来の値は一切受け取らない。
// 本文はXSS対策のため保存前にサニタイズする。
func (s *Service) Create(ctx context.Context, principalID, title, body string, published bool) (*model.Post, error) {
	post := &model.Post{
		ID:        uuid.New().String(),
		Title:     title,
		Body:      s.sanitizer.Sanitize(body),
		Published: published,
		AuthorID:  principalID,
	}

	if err := s.posts.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("記事の作成に失敗しました: %w", err)
	}

	slog.Info("記事を作成しました",
		slog.String("post_id", post.ID),
		slog.String("author_id", principalID),
	)

	return post, nil
}

// Update は記事を部分更新する。所有者のみ実行できる。
// 存在確認（404）を所有者確認（403）より先に行い、所有者でない呼び出しに
// 記事の内容を開示しない。patchのnilフィールドは変更されない。
func (s *Service) Update(ctx context.Context, principalID, id string, patch *model.PostPatch) (*model.Post, error) {
	existing, err := s.posts.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	if existing == nil {
		return nil, model.NewPostNotFoundError(id)
	}
	if !existing.IsOwnedBy(principalID) {
		return nil, model.NewForbiddenError()
	}

	if patch.Body != nil {
		sanitized := s.sanitizer.Sanitize(*patch.Body)
		patch.Body = &sanitized
	}

	updated, err := s.posts.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("記事の更新に失敗しました: %w", err)
	}
	if updated == nil {
		// 存在確認と更新の間に並行する削除が入った場合
		return nil, model.NewPostNotFoundError(id)
	}

	return updated, nil
}

// Delete は記事を削除する。所有者のみ実行できる。
func (s *Service) Delete(ctx context.Context, principalID, id string) error {
	existing, err := s.posts.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	if existing == nil {
		return model.NewPostNotFoundError(id)
	}
	if !existing.IsOwnedBy(principalID) {
		return model.NewForbiddenError()
	}

	deleted, err := s.posts.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("記事の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewPostNotFoundError(id)
	}

	slog.Info("記事を削除しました",
		slog.String("post_id", id),
		slog.String("author_id", principalID),
	)

	return nil
}
