// Package auth resolves the customer behind a request. Authentication happens
// upstream; the gateway forwards the verified identity in headers.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
)

var ErrUnauthenticated = errors.New("no authenticated user")

type User struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

type Provider interface {
	CurrentUser(ctx context.Context) (*User, error)
}

type ctxKey struct{}

func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

func FromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(ctxKey{}).(*User)
	return u, ok && u != nil
}

// ContextProvider reads the user stored by Middleware.
type ContextProvider struct{}

func NewProvider() Provider {
	return ContextProvider{}
}

func (ContextProvider) CurrentUser(ctx context.Context) (*User, error) {
	u, ok := FromContext(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	return u, nil
}

// Middleware attaches the gateway identity to the request context. Requests
// without a valid user id pass through anonymous.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		id, err := uuid.FromString(raw)
		if err != nil || id == uuid.Nil {
			log.Warn().Str("user_id", raw).Msg("auth: ignoring malformed user id header")
			next.ServeHTTP(w, r)
			return
		}

		u := &User{ID: id, Email: strings.TrimSpace(r.Header.Get(HeaderUserEmail))}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}
