// Package model はドメインモデルを定義する。
package model

import "time"

// Post はユーザーが投稿する記事を表す。
// AuthorIDは作成時に一度だけ設定され、以後変更されない。
type Post struct {
	ID        string
	Title     string
	Body      string
	Published bool
	AuthorID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOwnedBy は記事の所有者が指定アカウントであるかを判定する。
// I/Oを伴わない純粋な比較で、更新・削除の認可判定にのみ使用する。
// 閲覧可否はIsVisibleToで別途判定する。
func (p *Post) IsOwnedBy(accountID string) bool {
	return p.AuthorID == accountID
}

// IsVisibleTo は記事が指定アカウントから閲覧可能かを判定する。
// 公開済みの記事は誰でも（未認証含む）閲覧できる。
// 未公開の記事は所有者のみ閲覧できる。
// accountIDが空文字列の場合は未認証の呼び出しとして扱う。
func (p *Post) IsVisibleTo(accountID string) bool {
	if p.Published {
		return true
	}
	return accountID != "" && p.IsOwnedBy(accountID)
}

// PostPatch は記事の部分更新を表す。
// nilのフィールドは「変更しない」を意味し、既存の値が維持される。
type PostPatch struct {
	Title     *string
	Body      *string
	Published *bool
}

// IsEmpty は更新対象のフィールドが1つもないことを判定する。
func (p *PostPatch) IsEmpty() bool {
	return p.Title == nil && p.Body == nil && p.Published == nil
}
