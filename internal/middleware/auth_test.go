package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/kiji/internal/model"
)

// mockTokenVerifier はTokenVerifierのモック実装。
type mockTokenVerifier struct {
	verifyFn func(tokenString string) (string, error)
}

func (m *mockTokenVerifier) Verify(tokenString string) (string, error) {
	return m.verifyFn(tokenString)
}

// mockAccountFinder はAccountFinderのモック実装。
type mockAccountFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.Account, error)
}

func (m *mockAccountFinder) FindByID(ctx context.Context, id string) (*model.Account, error) {
	return m.findByIDFn(ctx, id)
}

// mockFailureRecorder は認証失敗の理由を記録する。
type mockFailureRecorder struct {
	reasons []string
}

func (m *mockFailureRecorder) RecordAuthFailure(reason string) {
	m.reasons = append(m.reasons, reason)
}

func validVerifier(subject string) *mockTokenVerifier {
	return &mockTokenVerifier{
		verifyFn: func(tokenString string) (string, error) {
			if tokenString == "valid-token" {
				return subject, nil
			}
			return "", errors.New("token is invalid")
		},
	}
}

func accountFinderWith(account *model.Account) *mockAccountFinder {
	return &mockAccountFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Account, error) {
			if account != nil && account.ID == id {
				return account, nil
			}
			return nil, nil
		},
	}
}

func TestAuthMiddleware_ValidToken_InjectsPrincipal(t *testing.T) {
	account := &model.Account{
		ID:        "account-1",
		Username:  "taro",
		Email:     "taro@example.com",
		CreatedAt: time.Now(),
	}

	mw := NewAuthMiddleware(validVerifier("account-1"), accountFinderWith(account), nil)

	var gotPrincipal *model.Principal
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := PrincipalFromContext(r.Context())
		if err != nil {
			t.Fatalf("PrincipalFromContext: %v", err)
		}
		gotPrincipal = principal
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if gotPrincipal == nil {
		t.Fatal("expected principal to be injected")
	}
	if gotPrincipal.ID != "account-1" {
		t.Errorf("principal.ID = %q, want %q", gotPrincipal.ID, "account-1")
	}
	if gotPrincipal.Username != "taro" {
		t.Errorf("principal.Username = %q, want %q", gotPrincipal.Username, "taro")
	}
}

func TestAuthMiddleware_MissingHeader_Returns401(t *testing.T) {
	recorder := &mockFailureRecorder{}
	mw := NewAuthMiddleware(validVerifier("account-1"), accountFinderWith(nil), recorder)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called without a token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
	if len(recorder.reasons) != 1 || recorder.reasons[0] != "missing_token" {
		t.Errorf("recorded reasons = %v, want [missing_token]", recorder.reasons)
	}
}

func TestAuthMiddleware_MalformedHeader_Returns401(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "スキームなし", header: "valid-token"},
		{name: "Bearer以外のスキーム", header: "Basic dXNlcjpwYXNz"},
		{name: "トークン部が空", header: "Bearer "},
		{name: "空ヘッダー", header: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewAuthMiddleware(validVerifier("account-1"), accountFinderWith(nil), nil)

			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Result().StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
			}
		})
	}
}

func TestAuthMiddleware_LowercaseBearerScheme_Accepted(t *testing.T) {
	account := &model.Account{ID: "account-1", Username: "taro", Email: "taro@example.com"}
	mw := NewAuthMiddleware(validVerifier("account-1"), accountFinderWith(account), nil)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// スキームは大文字小文字を区別しない
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "bearer valid-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestAuthMiddleware_InvalidToken_Returns401(t *testing.T) {
	recorder := &mockFailureRecorder{}
	mw := NewAuthMiddleware(validVerifier("account-1"), accountFinderWith(nil), recorder)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called with an invalid token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer tampered-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
	if len(recorder.reasons) != 1 || recorder.reasons[0] != "invalid_token" {
		t.Errorf("recorded reasons = %v, want [invalid_token]", recorder.reasons)
	}
}

func TestAuthMiddleware_AccountGone_Returns401(t *testing.T) {
	// トークンは有効だが、対応するアカウントが既に削除されている
	recorder := &mockFailureRecorder{}
	finder := &mockAccountFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Account, error) {
			return nil, nil
		},
	}
	mw := NewAuthMiddleware(validVerifier("account-gone"), finder, recorder)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called when the account is gone")
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
	if len(recorder.reasons) != 1 || recorder.reasons[0] != "account_gone" {
		t.Errorf("recorded reasons = %v, want [account_gone]", recorder.reasons)
	}
}

func TestAuthMiddleware_FinderError_Returns401(t *testing.T) {
	finder := &mockAccountFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Account, error) {
			return nil, errors.New("connection refused")
		},
	}
	mw := NewAuthMiddleware(validVerifier("account-1"), finder, nil)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called on a store error")
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_401ResponseBody_IsUniform(t *testing.T) {
	// 失敗理由（欠落・不正・アカウント消失）によらず同一のレスポンスを返す
	account := &model.Account{ID: "account-1", Username: "taro", Email: "taro@example.com"}

	cases := []struct {
		name  string
		setup func(req *http.Request)
	}{
		{name: "トークン欠落", setup: func(req *http.Request) {}},
		{name: "トークン不正", setup: func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer tampered-token")
		}},
	}

	var bodies []ErrorResponseBody
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mw := NewAuthMiddleware(validVerifier("account-1"), accountFinderWith(account), nil)
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			tc.setup(req)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			var body ErrorResponseBody
			if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if body.Code != model.ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
			}
			bodies = append(bodies, body)
		})
	}

	if len(bodies) == 2 && bodies[0] != bodies[1] {
		t.Errorf("response bodies differ between failure reasons: %+v vs %+v", bodies[0], bodies[1])
	}
}

func TestPrincipalFromContext_Missing_ReturnsError(t *testing.T) {
	_, err := PrincipalFromContext(context.Background())
	if err == nil {
		t.Fatal("expected an error for a context without a principal")
	}
}
