// Package auth treats identity verification as an opaque capability: a
// bearer token goes in, a verified owner id comes out. The real identity
// provider lives behind the Verifier interface; StaticVerifier serves
// development and tests.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nadmax/siteqa/internal/httputil"
)

// ContextKey is the echo context key holding the verified owner id.
const ContextKey = "owner_id"

var ErrInvalidToken = errors.New("auth: invalid token")

type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// StaticVerifier maps pre-shared tokens to owner ids, parsed from a
// "token=owner,token=owner" spec.
type StaticVerifier struct {
	tokens map[string]string
}

func NewStaticVerifier(spec string) *StaticVerifier {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, owner, ok := strings.Cut(pair, "=")
		if !ok || token == "" || owner == "" {
			continue
		}
		tokens[token] = owner
	}
	return &StaticVerifier{tokens: tokens}
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	owner, ok := v.tokens[token]
	if !ok {
		return "", ErrInvalidToken
	}
	return owner, nil
}

// Middleware rejects requests without a verifiable bearer token and
// stores the owner id in the request context.
func Middleware(v Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return c.JSON(http.StatusUnauthorized, httputil.Err("Unauthorized"))
			}

			owner, err := v.Verify(c.Request().Context(), token)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, httputil.Err("Unauthorized"))
			}

			c.Set(ContextKey, owner)
			return next(c)
		}
	}
}

// OwnerID returns the verified owner id set by Middleware.
func OwnerID(c echo.Context) string {
	owner, _ := c.Get(ContextKey).(string)
	return owner
}
