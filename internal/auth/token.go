package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Token 访问凭据。ExpiresAt 为零值表示常量 token，不做续期
type Token struct {
	Value         string
	ExpiresAt     time.Time
	ApplicationID string
	AccountName   string
	AccountID     string
	Type          string
}

// ConstantToken wraps a pre-issued token that never expires from the client's view.
func ConstantToken(value string) Token {
	return Token{Value: value}
}

func (t Token) Renewable() bool { return !t.ExpiresAt.IsZero() }

// Valid reports whether the token can still be presented at now.
func (t Token) Valid(now time.Time) bool {
	if t.Value == "" {
		return false
	}
	return !t.Renewable() || now.Before(t.ExpiresAt)
}

// TokenPayload 是授权接口返回的 JSON 文档，expires-at 为毫秒时间戳
type TokenPayload struct {
	Value       string `json:"_TOKEN"`
	Application string `json:"_APPLICATION,omitempty"`
	Identity    string `json:"_IDENTITY,omitempty"`
	IdentityID  string `json:"_IDENTITY_ID,omitempty"`
	ExpiresAt   int64  `json:"expires-at,omitempty"`
	Type        string `json:"type,omitempty"`
}

func (p TokenPayload) Token() Token {
	t := Token{
		Value:         p.Value,
		ApplicationID: p.Application,
		AccountName:   p.Identity,
		AccountID:     p.IdentityID,
		Type:          p.Type,
	}
	if p.ExpiresAt > 0 {
		t.ExpiresAt = time.UnixMilli(p.ExpiresAt).UTC()
	}
	return t
}

func PayloadOf(t Token) TokenPayload {
	p := TokenPayload{
		Value:       t.Value,
		Application: t.ApplicationID,
		Identity:    t.AccountName,
		IdentityID:  t.AccountID,
		Type:        t.Type,
	}
	if t.Renewable() {
		p.ExpiresAt = t.ExpiresAt.UnixMilli()
	}
	return p
}

var ErrNoToken = errors.New("token document has no _TOKEN")

// ParseToken decodes a token document.
func ParseToken(raw []byte) (Token, error) {
	var p TokenPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Token{}, fmt.Errorf("decode token: %w", err)
	}
	if p.Value == "" {
		return Token{}, ErrNoToken
	}
	return p.Token(), nil
}
