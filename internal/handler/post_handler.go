package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hitoshi/kiji/internal/middleware"
	"github.com/hitoshi/kiji/internal/model"
)

// PostServiceInterface は記事ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	// ListPublished は公開済み記事の一覧を新着順で取得する。
	ListPublished(ctx context.Context, skip, limit int) ([]*model.Post, error)
	// ListOwn は呼び出し主体自身の全記事（下書き含む）を取得する。
	ListOwn(ctx context.Context, principalID string) ([]*model.Post, error)
	// Get は指定IDの記事を取得する。未公開記事は所有者以外に開示しない。
	Get(ctx context.Context, id, viewerID string) (*model.Post, error)
	// Create は新規記事を作成する。
	Create(ctx context.Context, principalID, title, body string, published bool) (*model.Post, error)
	// Update は記事を部分更新する。
	Update(ctx context.Context, principalID, id string, patch *model.PostPatch) (*model.Post, error)
	// Delete は記事を削除する。
	Delete(ctx context.Context, principalID, id string) error
}

// PostHandler は記事管理のHTTPハンドラー。
type PostHandler struct {
	service PostServiceInterface
	events  EventRecorder
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface, events EventRecorder) *PostHandler {
	return &PostHandler{
		service: service,
		events:  events,
	}
}

// createPostRequest は記事作成リクエストのボディ。
// author_idはリクエストでは受け取らず、常に解決済みプリンシパルから設定する。
type createPostRequest struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Published bool   `json:"published"`
}

// Validate は記事作成リクエストの入力検証を行う。
func (r createPostRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.Length(5, 200)),
		validation.Field(&r.Body, validation.Required, validation.Length(10, 0)),
	)
}

// updatePostRequest は記事の部分更新リクエストのボディ。
// nilのフィールドは「変更しない」を意味する。
type updatePostRequest struct {
	Title     *string `json:"title"`
	Body      *string `json:"body"`
	Published *bool   `json:"published"`
}

// Validate は部分更新リクエストの入力検証を行う。
// 指定されたフィールドにのみ作成時と同じ制約を適用する。
func (r updatePostRequest) Validate() error {
	rules := []*validation.FieldRules{}
	if r.Title != nil {
		rules = append(rules, validation.Field(&r.Title, validation.Required, validation.Length(5, 200)))
	}
	if r.Body != nil {
		rules = append(rules, validation.Field(&r.Body, validation.Required, validation.Length(10, 0)))
	}
	return validation.ValidateStruct(&r, rules...)
}

// postResponse は記事情報のAPIレスポンス。
type postResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Published bool      `json:"published"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListPosts は公開済み記事の一覧を取得する。認証不要。
// GET /posts?skip=0&limit=20
func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	skip, ok := parseIntQuery(w, r, "skip", 0)
	if !ok {
		return
	}
	limit, ok := parseIntQuery(w, r, "limit", 0)
	if !ok {
		return
	}

	posts, err := h.service.ListPublished(r.Context(), skip, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writePostList(w, posts)
}

// ListMyPosts は呼び出し主体自身の記事一覧（下書き含む）を取得する。
// GET /posts/me
func (h *PostHandler) ListMyPosts(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	posts, err := h.service.ListOwn(r.Context(), principal.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writePostList(w, posts)
}

// GetPost は記事詳細を取得する。認証は不要だが、有効なトークンが
// 提示されていれば所有者は自分の下書きも閲覧できる。
// GET /posts/{id}
func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")

	// 任意認証: プリンシパルがあれば閲覧者として扱う
	viewerID := ""
	if principal, err := middleware.PrincipalFromContext(r.Context()); err == nil {
		viewerID = principal.ID
	}

	post, err := h.service.Get(r.Context(), postID, viewerID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toPostResponse(post))
}

// CreatePost は記事作成を処理する。
// POST /posts
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if err := req.Validate(); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	post, err := h.service.Create(r.Context(), principal.ID, req.Title, req.Body, req.Published)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.events != nil {
		h.events.RecordPostCreated()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toPostResponse(post))
}

// UpdatePost は記事の部分更新を処理する。所有者のみ実行できる。
// PATCH /posts/{id}
func (h *PostHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	postID := chi.URLParam(r, "id")

	var req updatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if err := req.Validate(); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	patch := &model.PostPatch{
		Title:     req.Title,
		Body:      req.Body,
		Published: req.Published,
	}

	post, err := h.service.Update(r.Context(), principal.ID, postID, patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toPostResponse(post))
}

// DeletePost は記事削除を処理する。所有者のみ実行できる。
// DELETE /posts/{id}
func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	postID := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), principal.ID, postID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- ヘルパー関数 ---

// toPostResponse はmodel.PostからAPIレスポンスに変換する。
func toPostResponse(post *model.Post) postResponse {
	return postResponse{
		ID:        post.ID,
		Title:     post.Title,
		Body:      post.Body,
		Published: post.Published,
		AuthorID:  post.AuthorID,
		CreatedAt: post.CreatedAt,
		UpdatedAt: post.UpdatedAt,
	}
}

// writePostList は記事スライスをJSON配列として書き込む。
// 空の場合もnullではなく[]を返す。
func writePostList(w http.ResponseWriter, posts []*model.Post) {
	responses := make([]postResponse, 0, len(posts))
	for _, p := range posts {
		responses = append(responses, toPostResponse(p))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// parseIntQuery はクエリパラメータを整数として解析する。
// パラメータが存在しない場合はデフォルト値を返す。解析に失敗した場合は
// 400を書き込み、ok=falseを返す。
func parseIntQuery(w http.ResponseWriter, r *http.Request, name string, defaultValue int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError(name+"は整数で指定してください"))
		return 0, false
	}
	return value, true
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// writeInvalidRequestBody はリクエストボディの解析失敗レスポンスを書き込む。
func writeInvalidRequestBody(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodePostNotFound, model.ErrCodeAccountNotFound:
		return http.StatusNotFound
	case model.ErrCodeDuplicateEmail:
		return http.StatusBadRequest
	case model.ErrCodeValidation, model.ErrCodeIdentity:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
