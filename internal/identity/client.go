// Package identity は外部IDプロバイダーへのクライアントを提供する。
//
// パスワードの保管と照合はすべてIDプロバイダー側の責務で、本サービスは
// 「アカウント作成」と「パスワード検証」を黒箱の操作として呼び出し、
// 結果として返るプロバイダー発行のユーザーIDのみを扱う。
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrInvalidCredentials はメールアドレスまたはパスワードが一致しない場合のエラー。
var ErrInvalidCredentials = errors.New("invalid email or password")

// ErrRejected はIDプロバイダーが登録要求を拒否した場合のエラー
// （パスワード強度不足、アドレス重複等）。
var ErrRejected = errors.New("identity provider rejected the request")

// ClientConfig はIDプロバイダークライアントの設定。
type ClientConfig struct {
	// BaseURL はIDプロバイダーAPIのベースURL（例: "https://auth.example.com/auth/v1"）。
	BaseURL string
	// APIKey はサービスロールのAPIキー。
	APIKey string
	// Timeout は各リクエストのタイムアウト。ゼロ値の場合は10秒。
	Timeout time.Duration
}

// Client はIDプロバイダーのREST APIクライアント。
type Client struct {
	config ClientConfig
	http   *http.Client
}

// NewClient はClientを生成する。
func NewClient(config ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// userResponse はIDプロバイダーが返すユーザーオブジェクト。
type userResponse struct {
	ID string `json:"id"`
}

// tokenResponse はパスワードサインインのレスポンス。
type tokenResponse struct {
	User userResponse `json:"user"`
}

// errorResponse はIDプロバイダーのエラーレスポンス。
type errorResponse struct {
	Message string `json:"msg"`
	Error   string `json:"error_description"`
}

// SignUp はIDプロバイダーに認証ユーザーを作成し、発行されたユーザーIDを返す。
// パスワードのハッシュ化と保管はプロバイダー側で行われる。
// プロバイダーが要求を拒否した場合（4xx）はErrRejectedを返す。
func (c *Client) SignUp(ctx context.Context, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode signup request: %w", err)
	}

	resp, err := c.post(ctx, c.config.BaseURL+"/signup", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", fmt.Errorf("%w: %s", ErrRejected, readErrorMessage(resp.Body))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signup failed with status %d", resp.StatusCode)
	}

	var user userResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", fmt.Errorf("failed to decode signup response: %w", err)
	}
	if user.ID == "" {
		return "", fmt.Errorf("signup response did not contain a user ID")
	}

	return user.ID, nil
}

// SignInWithPassword はメールアドレスとパスワードでサインインし、
// 認証されたユーザーのIDを返す。認証情報が一致しない場合はErrInvalidCredentialsを返す。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode signin request: %w", err)
	}

	resp, err := c.post(ctx, c.config.BaseURL+"/token?grant_type=password", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return "", ErrInvalidCredentials
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signin failed with status %d", resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("failed to decode signin response: %w", err)
	}
	if token.User.ID == "" {
		return "", fmt.Errorf("signin response did not contain a user ID")
	}

	return token.User.ID, nil
}

// DeleteUser はIDプロバイダーから認証ユーザーを削除する。
// プロフィール作成に失敗した場合の補償処理としてのみ使用する。
func (c *Client) DeleteUser(ctx context.Context, providerUserID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.config.BaseURL+"/admin/users/"+providerUserID, nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}
	c.setAuthHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call identity provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("delete user failed with status %d", resp.StatusCode)
	}

	return nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call identity provider: %w", err)
	}
	return resp, nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	req.Header.Set("apikey", c.config.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
}

// readErrorMessage はエラーレスポンスからメッセージを取り出す。
// パースできない場合は空文字列を返す。
func readErrorMessage(r io.Reader) string {
	var errResp errorResponse
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&errResp); err != nil {
		return ""
	}
	if errResp.Message != "" {
		return errResp.Message
	}
	return errResp.Error
}
