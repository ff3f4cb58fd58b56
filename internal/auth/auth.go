// Package auth resolves entity authorization keys.
//
// Every entity carries an authKey chosen by its writer. Before the key is
// stored it is resolved through an Adapter into the key that queries filter
// on, and every search resolves the caller's keys the same way. Resolution
// happens once per write and once per query; nothing is filtered
// client-side.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roach88/folio/internal/ir"
)

// Session identifies the caller of a repository operation.
type Session struct {
	// Subject is the authenticated principal, empty for anonymous callers.
	Subject string
}

// Adapter resolves authorization keys for a session.
//
// ResolveAuthorizationKeys returns one resolved key per input key. It
// returns BadRequest for keys it does not understand and NotAuthorized for
// keys the session may not use.
type Adapter interface {
	ResolveAuthorizationKeys(ctx context.Context, session Session, authKeys []string) (map[string]string, error)
}

// Keys understood by the default adapter.
const (
	// KeyNone is readable and writable by anyone.
	KeyNone = "none"
	// KeySubject is private to the session's subject.
	KeySubject = "subject"
)

// DefaultAdapter understands "none" and "subject". "subject" resolves to
// "subject:<Subject>" and requires an authenticated session.
type DefaultAdapter struct{}

// ResolveAuthorizationKeys implements Adapter.
func (DefaultAdapter) ResolveAuthorizationKeys(_ context.Context, session Session, authKeys []string) (map[string]string, error) {
	out := make(map[string]string, len(authKeys))
	for _, key := range authKeys {
		switch key {
		case KeyNone:
			out[key] = KeyNone
		case KeySubject:
			if session.Subject == "" {
				return nil, ir.NewNotAuthorized("authorization key %q requires an authenticated session", key).
					With("authKey", key)
			}
			out[key] = KeySubject + ":" + session.Subject
		default:
			return nil, ir.NewBadRequest("unknown authorization key %q", key).With("authKey", key)
		}
	}
	return out, nil
}

// Resolve resolves a single key.
func Resolve(ctx context.Context, a Adapter, session Session, key string) (string, error) {
	resolved, err := a.ResolveAuthorizationKeys(ctx, session, []string{key})
	if err != nil {
		return "", err
	}
	r, ok := resolved[key]
	if !ok {
		return "", ir.NewGeneric(nil, "authorization adapter did not resolve key %q", key)
	}
	return r, nil
}

// ResolveAll resolves keys and returns the resolved values in input order.
func ResolveAll(ctx context.Context, a Adapter, session Session, keys []string) ([]string, error) {
	resolved, err := a.ResolveAuthorizationKeys(ctx, session, keys)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		r, ok := resolved[k]
		if !ok {
			return nil, ir.NewGeneric(nil, "authorization adapter did not resolve key %q", k)
		}
		out = append(out, r)
	}
	return out, nil
}

// TokenVerifier turns HS256 bearer tokens into sessions. The token's
// standard "sub" claim becomes the session subject.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for tokens signed with secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Session validates a bearer token ("Bearer " prefix optional) and returns
// its session. Invalid or expired tokens are NotAuthorized.
func (v *TokenVerifier) Session(token string) (Session, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return Session{}, ir.NewNotAuthorized("bearer token required")
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Session{}, &ir.Error{Kind: ir.ErrNotAuthorized, Message: "invalid token", Err: err}
	}
	if !parsed.Valid || claims.Subject == "" {
		return Session{}, ir.NewNotAuthorized("token has no subject")
	}
	return Session{Subject: claims.Subject}, nil
}

// Sign issues a token for subject. Used by the CLI and tests.
func (v *TokenVerifier) Sign(subject string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = subject
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
