package auth

import (
	"context"
	"fmt"

	"github.com/hongjun500/graph-go/internal/rest"
)

// Source hands out a fresh credential on every call.
type Source interface {
	Token(ctx context.Context) (Token, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Token, error)

func (f SourceFunc) Token(ctx context.Context) (Token, error) { return f(ctx) }

// StaticSource 始终返回同一个常量 token
type StaticSource struct {
	Value string
}

func (s StaticSource) Token(context.Context) (Token, error) {
	if s.Value == "" {
		return Token{}, ErrNoToken
	}
	return ConstantToken(s.Value), nil
}

// PasswordSource obtains tokens through the password grant.
type PasswordSource struct {
	Client *rest.Client
	Grant  rest.PasswordGrant
}

func (s *PasswordSource) Token(ctx context.Context) (Token, error) {
	raw, err := s.Client.Password(ctx, s.Grant)
	if err != nil {
		return Token{}, fmt.Errorf("password grant: %w", err)
	}
	return ParseToken(raw)
}

// CacheKey identifies the grant in a shared cache without exposing secrets.
func (s *PasswordSource) CacheKey() string {
	return s.Grant.ClientID + ":" + s.Grant.Username
}

// BearerFunc returns a rest.Client token callback backed by src.
func BearerFunc(src Source) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		tok, err := src.Token(ctx)
		if err != nil {
			return "", err
		}
		return tok.Value, nil
	}
}
