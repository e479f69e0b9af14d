package handler

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

// mockAccountService はAccountServiceInterfaceのモック実装。
type mockAccountService struct {
	getByIDFn func(ctx context.Context, id string) (*model.Account, error)
}

func (m *mockAccountService) GetByID(ctx context.Context, id string) (*model.Account, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, model.NewAccountNotFoundError(id)
}

// --- GET /accounts/{id} テスト ---

func TestAccountHandler_GetAccount_Success(t *testing.T) {
	svc := &mockAccountService{
		getByIDFn: func(ctx context.Context, id string) (*model.Account, error) {
			if id != "account-1" {
				t.Errorf("id = %q, want %q", id, "account-1")
			}
			return &model.Account{
				ID:        "account-1",
				Username:  "alice",
				Email:     "alice@example.com",
				CreatedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	h := NewAccountHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/accounts/account-1", nil)
	req = withChiURLParam(req, "id", "account-1")
	w := httptest.NewRecorder()

	h.GetAccount(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body accountResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.ID != "account-1" {
		t.Errorf("id = %q, want %q", body.ID, "account-1")
	}
	if body.Username != "alice" {
		t.Errorf("username = %q, want %q", body.Username, "alice")
	}
}

func TestAccountHandler_GetAccount_NotFound(t *testing.T) {
	h := NewAccountHandler(&mockAccountService{})

	req := httptest.NewRequest(http.MethodGet, "/accounts/missing", nil)
	req = withChiURLParam(req, "id", "missing")
	w := httptest.NewRecorder()

	h.GetAccount(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}

	body := decodeErrorResponse(t, resp)
	if body.Code != model.ErrCodeAccountNotFound {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeAccountNotFound)
	}
}

func TestAccountHandler_GetAccount_StoreError_ReturnsInternalError(t *testing.T) {
	svc := &mockAccountService{
		getByIDFn: func(ctx context.Context, id string) (*model.Account, error) {
			return nil, errors.New("connection refused")
		},
	}
	h := NewAccountHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/accounts/account-1", nil)
	req = withChiURLParam(req, "id", "account-1")
	w := httptest.NewRecorder()

	h.GetAccount(w, req)

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
}
