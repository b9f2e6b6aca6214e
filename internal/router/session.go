package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"assignly/internal/account"
	"assignly/internal/config"
	"assignly/internal/middleware"
)

// setAuthCookie verifies an ID token, creates the account on first login and
// stores the token in an httpOnly cookie.
func setAuthCookie(authn middleware.Authenticator, accounts *account.Service, cfg config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			IDToken      string `json:"idToken" binding:"required"`
			ReferralCode string `json:"referralCode"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badBody(c, err)
			return
		}
		id, err := authn.Verify(c.Request.Context(), req.IDToken)
		if err != nil {
			writeError(c, err)
			return
		}
		u, created, err := accounts.EnsureUser(c.Request.Context(), id, req.ReferralCode)
		if err != nil {
			writeError(c, err)
			return
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(middleware.AuthCookieName, req.IDToken, int(cfg.AuthCookieMaxAge.Seconds()), "/", "", cfg.AuthCookieSecure, true)
		ok(c, gin.H{"created": created, "profileComplete": u.ProfileComplete()})
	}
}

func clearAuthCookie(cfg config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(middleware.AuthCookieName, "", -1, "/", "", cfg.AuthCookieSecure, true)
		ok(c, nil)
	}
}

func me(accounts *account.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := accounts.Get(c.Request.Context(), identity(c))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"user": u, "creditsRemaining": u.Credits(), "profileComplete": u.ProfileComplete()})
	}
}

func updateProfile(accounts *account.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var p account.Profile
		if err := c.ShouldBindJSON(&p); err != nil {
			badBody(c, err)
			return
		}
		u, err := accounts.UpdateProfile(c.Request.Context(), identity(c), p)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"user": u, "profileComplete": u.ProfileComplete()})
	}
}
