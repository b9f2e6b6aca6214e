package router

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"assignly/internal/apperr"
	"assignly/internal/auth"
	"assignly/internal/db"
	"assignly/internal/middleware"
)

func ok(c *gin.Context, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["success"] = true
	c.JSON(http.StatusOK, body)
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "code": status, "msg": msg})
}

func badBody(c *gin.Context, err error) {
	slog.Debug("bind request body", "path", c.FullPath(), "err", err)
	fail(c, http.StatusBadRequest, "invalid request body")
}

// writeError maps service errors to a status and a message safe to show the
// caller. Anything unclassified is logged and reported as a generic 500.
func writeError(c *gin.Context, err error) {
	var insufficient *apperr.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		fail(c, http.StatusBadRequest, insufficient.Error())
	case errors.Is(err, apperr.ErrValidation):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrUnauthenticated):
		fail(c, http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, auth.ErrForbidden):
		fail(c, http.StatusForbidden, "admin access required")
	case errors.Is(err, apperr.ErrDeletionFailed):
		logInternal(c, err)
		fail(c, http.StatusInternalServerError, apperr.ErrDeletionFailed.Error())
	case errors.Is(err, db.ErrConflict):
		logInternal(c, err)
		fail(c, http.StatusInternalServerError, "the request conflicted with another update, please retry")
	default:
		logInternal(c, err)
		fail(c, http.StatusInternalServerError, "internal server error")
	}
}

func logInternal(c *gin.Context, err error) {
	slog.Error("request failed",
		"path", c.FullPath(),
		"request_id", middleware.RequestIDFrom(c),
		"err", err,
	)
}
