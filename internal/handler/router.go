package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/kiji/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier       middleware.TokenVerifier
	AccountFinder       middleware.AccountFinder
	AuthFailureRecorder middleware.AuthFailureRecorder
	HTTPMetricsRecorder middleware.HTTPMetricsRecorder
	CORSAllowedOrigin   string
	RateLimiter         *middleware.RateLimiter
	Logger              *slog.Logger

	// サービス
	AuthService    AuthServiceInterface
	PostService    PostServiceInterface
	AccountService AccountServiceInterface

	// メトリクス
	EventRecorder  EventRecorder
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → CORS → SecurityHeaders → Metrics → Logging → [Auth → RateLimit] → Handler
//
// 認証とレート制限は保護ルートのグループにのみ適用する。
// 登録・ログインには認証の代わりにリモートアドレスキーのレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.HTTPMetricsRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPMetricsRecorder))
	}
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	authHandler := NewAuthHandler(deps.AuthService, deps.EventRecorder)
	postHandler := NewPostHandler(deps.PostService, deps.EventRecorder)
	accountHandler := NewAccountHandler(deps.AccountService)

	authMW := middleware.NewAuthMiddleware(deps.TokenVerifier, deps.AccountFinder, deps.AuthFailureRecorder)
	optionalAuthMW := middleware.NewOptionalAuthMiddleware(deps.TokenVerifier, deps.AccountFinder)

	// --- 認証不要のルート ---

	// ヘルスチェック
	r.Get("/", handleHealthCheck)

	// Prometheusスクレイプ
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// 登録・ログイン（リモートアドレスキーのレート制限を適用）
	r.Route("/auth", func(r chi.Router) {
		r.With(deps.RateLimiter.AuthMiddleware()).Post("/register", authHandler.Register)
		r.With(deps.RateLimiter.AuthMiddleware()).Post("/login", authHandler.Login)

		// GET /auth/me - 認証必須
		r.With(authMW, deps.RateLimiter.GeneralMiddleware()).Get("/me", authHandler.Me)
	})

	// 公開記事の閲覧
	r.Get("/posts", postHandler.ListPosts)
	// 記事詳細は任意認証: トークンがあれば所有者として下書きも閲覧できる
	r.With(optionalAuthMW).Get("/posts/{id}", postHandler.GetPost)

	// アカウントの公開プロフィール
	r.Get("/accounts/{id}", accountHandler.GetAccount)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(authMW)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/posts/me", postHandler.ListMyPosts)
		r.Post("/posts", postHandler.CreatePost)
		r.Patch("/posts/{id}", postHandler.UpdatePost)
		r.Delete("/posts/{id}", postHandler.DeletePost)
	})

	return r
}

// handleHealthCheck はヘルスチェックリクエストを処理する。
// GET /
func handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
