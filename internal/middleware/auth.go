package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"assignly/internal/auth"
)

// AuthCookieName is the httpOnly cookie set by /api/set-auth-cookie.
const AuthCookieName = "auth_token"

const identityKey = "identity"

// Authenticator resolves credentials; *auth.Authorizer implements it.
type Authenticator interface {
	Verify(ctx context.Context, token string) (auth.Identity, error)
	VerifyAdmin(ctx context.Context, token string) (auth.Identity, error)
}

// RequireUser rejects requests without a valid ID token.
func RequireUser(a Authenticator) gin.HandlerFunc {
	return authenticate(a.Verify)
}

// RequireAdmin additionally requires the admin role.
func RequireAdmin(a Authenticator) gin.HandlerFunc {
	return authenticate(a.VerifyAdmin)
}

func authenticate(verify func(context.Context, string) (auth.Identity, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := credential(c)
		if token == "" {
			abortJSON(c, http.StatusUnauthorized, "missing credentials")
			return
		}
		id, err := verify(c.Request.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrForbidden):
			abortJSON(c, http.StatusForbidden, "admin access required")
			return
		case errors.Is(err, auth.ErrUnauthenticated):
			abortJSON(c, http.StatusUnauthorized, "invalid or expired token")
			return
		default:
			slog.Error("authenticate", "err", err, "request_id", RequestIDFrom(c))
			abortJSON(c, http.StatusInternalServerError, "internal server error")
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// credential prefers the Authorization header over the cookie.
func credential(c *gin.Context) string {
	if token := auth.BearerToken(c.GetHeader("Authorization")); token != "" {
		return token
	}
	if cookie, err := c.Cookie(AuthCookieName); err == nil {
		return cookie
	}
	return ""
}

// IdentityFrom returns the identity stored by RequireUser/RequireAdmin.
func IdentityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}
