// Package model はドメインモデルを定義する。
package model

import "time"

// Account は登録済みユーザーのプロフィールを表す。
// 認証情報（パスワード等）は外部IDプロバイダーが保持し、このモデルには含まれない。
// IDはIDプロバイダー側で発行されたものをそのまま使用する。
type Account struct {
	ID        string
	Username  string
	Email     string
	CreatedAt time.Time
}

// Principal は検証済みトークンから解決された呼び出し主体を表す。
// 1リクエストの間だけ存在するインメモリの値で、永続化されない。
// Accountの公開フィールドと同一の内容を持つ。
type Principal struct {
	ID        string
	Username  string
	Email     string
	CreatedAt time.Time
}

// PrincipalFromAccount はAccountからPrincipalを生成する。
func PrincipalFromAccount(a *Account) *Principal {
	return &Principal{
		ID:        a.ID,
		Username:  a.Username,
		Email:     a.Email,
		CreatedAt: a.CreatedAt,
	}
}
