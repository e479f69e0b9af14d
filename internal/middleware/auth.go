// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/kiji/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストにプリンシパルを格納するためのキー。
var principalContextKey = contextKey("principal")

// TokenVerifier はトークン検証のインターフェース。
// token.Codecの部分集合として定義する。
type TokenVerifier interface {
	// Verify はトークンを検証し、主体（アカウントID）を返す。
	Verify(tokenString string) (string, error)
}

// AccountFinder はプリンシパル解決に必要なインターフェース。
// repository.AccountRepositoryの部分集合として定義する。
type AccountFinder interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
}

// AuthFailureRecorder は認証失敗のメトリクス記録インターフェース。
type AuthFailureRecorder interface {
	RecordAuthFailure(reason string)
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// プリンシパルを解決するミドルウェアを返す。
//
// 処理は固定順の3段階で、いずれかが失敗した時点で401を返して打ち切る:
//  1. 抽出 — ヘッダーからBearerトークンを取り出す。欠落は匿名扱いにせず常に失敗
//  2. 検証 — 署名と有効期限を確認し主体を得る
//  3. 解決 — 主体をスコープ付きアカウントストアで引き、プリンシパルを得る。
//     トークン発行後にアカウントが削除されている場合の唯一の安全網のため、
//     ログイン時だけでなく全保護リクエストで実行する
//
// 成功時は解決済みプリンシパルをリクエストコンテキストに注入する。
// recorderはnil可（メトリクス未使用時）。
func NewAuthMiddleware(verifier TokenVerifier, accounts AccountFinder, recorder AuthFailureRecorder) func(next http.Handler) http.Handler {
	recordFailure := func(reason string) {
		if recorder != nil {
			recorder.RecordAuthFailure(reason)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Bearerトークンの抽出
			tokenString, ok := extractBearerToken(r)
			if !ok {
				recordFailure("missing_token")
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 2. トークンの検証
			subject, err := verifier.Verify(tokenString)
			if err != nil {
				recordFailure("invalid_token")
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 3. プリンシパルの解決
			account, err := accounts.FindByID(r.Context(), subject)
			if err != nil {
				slog.Error("failed to resolve principal",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if account == nil {
				recordFailure("account_gone")
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey, model.PrincipalFromAccount(account))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewOptionalAuthMiddleware はBearerトークンが提示されていれば検証し、
// プリンシパルを解決するミドルウェアを返す。
// トークンの欠落・不正・アカウント消失のいずれも401にはせず、
// 未認証のままハンドラーへ通す。公開ルートで閲覧者の識別だけが
// 必要な場合（未公開記事の所有者判定など）に使用する。
func NewOptionalAuthMiddleware(verifier TokenVerifier, accounts AccountFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := extractBearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			subject, err := verifier.Verify(tokenString)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			account, err := accounts.FindByID(r.Context(), subject)
			if err != nil || account == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey, model.PrincipalFromAccount(account))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// PrincipalFromContext はリクエストコンテキストからプリンシパルを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*model.Principal, error) {
	principal, ok := ctx.Value(principalContextKey).(*model.Principal)
	if !ok || principal == nil {
		return nil, fmt.Errorf("principal not found in context")
	}
	return principal, nil
}

// ContextWithPrincipal はコンテキストにプリンシパルを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, principal *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}
