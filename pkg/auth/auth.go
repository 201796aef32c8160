// Package auth resolves bearer tokens to users.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	apperr "github.com/menta2k/photo-album/pkg/errors"
	"github.com/menta2k/photo-album/pkg/types"
)

// Authenticator maps an access token to the user it belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (types.User, error)
}

// Account pairs a static token with its user
type Account struct {
	Token string
	User  types.User
}

// StaticTokens authenticates against a fixed token list from configuration.
type StaticTokens struct {
	accounts []Account
}

// NewStaticTokens builds an authenticator. Accounts without a token or a
// user id are rejected.
func NewStaticTokens(accounts ...Account) (*StaticTokens, error) {
	for i, a := range accounts {
		if a.Token == "" || a.User.ID == "" {
			return nil, apperr.New(apperr.ErrCodeInvalidInput, "account %d needs both a token and a user id", i)
		}
	}
	return &StaticTokens{accounts: accounts}, nil
}

// Authenticate compares in constant time against every configured token.
func (s *StaticTokens) Authenticate(ctx context.Context, token string) (types.User, error) {
	if token == "" {
		return types.User{}, apperr.New(apperr.ErrCodeUnauthorized, "missing access token")
	}
	var (
		user  types.User
		found bool
	)
	for _, a := range s.accounts {
		if subtle.ConstantTimeCompare([]byte(a.Token), []byte(token)) == 1 {
			user, found = a.User, true
		}
	}
	if !found {
		return types.User{}, apperr.New(apperr.ErrCodeUnauthorized, "invalid access token")
	}
	return user, nil
}

// BearerToken returns the token from an "Authorization: Bearer ..." header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type userKey struct{}

// WithUser stores the authenticated user in ctx
func WithUser(ctx context.Context, u types.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user stored by WithUser
func UserFromContext(ctx context.Context) (types.User, bool) {
	u, ok := ctx.Value(userKey{}).(types.User)
	return u, ok
}

var _ Authenticator = (*StaticTokens)(nil)
