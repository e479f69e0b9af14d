// Package token は署名付きセッショントークンの発行と検証を提供する。
//
// トークンはHS256で署名されたJWTで、クレームは{sub, exp}のみを持つ。
// サーバー側には一切保存されず、失効は有効期限の経過によってのみ起こる。
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// アルゴリズム混同攻撃を防ぐため、検証時はHS256のみを受け付ける。
var validMethods = []string{jwt.SigningMethodHS256.Alg()}

// Codec はセッショントークンの発行と検証を行う。
// 署名鍵とTTLはプロセス全体の設定として起動時に1回だけ与えられ、
// 以後変更されないため複数ゴルーチンから安全に使用できる。
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec はCodecを生成する。
// secretが空の場合はエラーを返す（設定不備は起動時に検出する）。
func NewCodec(secret string, ttl time.Duration) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	return &Codec{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue は指定アカウントIDを主体とする署名付きトークンを発行する。
// クレームは {sub: subject, exp: now + TTL}。
func (c *Codec) Issue(subject string) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("token subject is required")
	}

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(c.now().Add(c.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Verify はトークンの署名と有効期限を検証し、主体（アカウントID）を返す。
// 署名不一致・期限切れ・クレーム構造の不備（subの欠落等）はすべて検証失敗として
// 扱い、部分的に信頼した結果を返すことはない。
func (c *Codec) Verify(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(
		tokenString,
		&jwt.RegisteredClaims{},
		func(t *jwt.Token) (interface{}, error) {
			return c.secret, nil
		},
		jwt.WithValidMethods(validMethods),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("invalid token: missing subject")
	}

	return claims.Subject, nil
}
