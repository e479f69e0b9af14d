// Package handler はHTTP APIのハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/hitoshi/kiji/internal/middleware"
	"github.com/hitoshi/kiji/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	// Register は新規アカウントを登録し、セッショントークンを返す。
	Register(ctx context.Context, username, email, password string) (string, error)
	// Login は認証情報を検証し、セッショントークンを返す。
	Login(ctx context.Context, email, password string) (string, error)
}

// EventRecorder はドメインイベントのメトリクス記録インターフェース。
// metrics.Collectorの部分集合として定義する。nil可。
type EventRecorder interface {
	RecordRegistration()
	RecordLogin()
	RecordPostCreated()
}

// AuthHandler は登録・ログイン・プリンシパル参照のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	events  EventRecorder
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, events EventRecorder) *AuthHandler {
	return &AuthHandler{
		service: service,
		events:  events,
	}
}

// registerRequest はアカウント登録リクエストのボディ。
type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate は登録リクエストの入力検証を行う。
func (r registerRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 50)),
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 0)),
	)
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate はログインリクエストの入力検証を行う。
func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// tokenResponse はトークン発行のAPIレスポンス。
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// accountResponse はアカウント情報のAPIレスポンス。
type accountResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Register はアカウント登録を処理する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if err := req.Validate(); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	tok, err := h.service.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.events != nil {
		h.events.RecordRegistration()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(tokenResponse{
		AccessToken: tok,
		TokenType:   "bearer",
	})
}

// Login はログインを処理する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if err := req.Validate(); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	tok, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.events != nil {
		h.events.RecordLogin()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokenResponse{
		AccessToken: tok,
		TokenType:   "bearer",
	})
}

// Me は認証済みプリンシパル自身の情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accountResponse{
		ID:        principal.ID,
		Username:  principal.Username,
		Email:     principal.Email,
		CreatedAt: principal.CreatedAt,
	})
}
