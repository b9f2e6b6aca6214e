// Package auth verifies Firebase ID tokens and resolves the admin role.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"assignly/internal/model"
)

var (
	// ErrUnauthenticated means the credential is missing, malformed or rejected.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the caller is authenticated but not an admin.
	ErrForbidden = errors.New("forbidden")
)

// Authorizer combines token verification with the admin-role lookup.
type Authorizer struct {
	tokens TokenVerifier
	db     *gorm.DB
}

func NewAuthorizer(tokens TokenVerifier, db *gorm.DB) *Authorizer {
	return &Authorizer{tokens: tokens, db: db}
}

// Verify resolves the token to an identity.
func (a *Authorizer) Verify(ctx context.Context, token string) (Identity, error) {
	return a.tokens.Verify(ctx, token)
}

// VerifyAdmin resolves the token and requires an admin-role marker for the user.
func (a *Authorizer) VerifyAdmin(ctx context.Context, token string) (Identity, error) {
	id, err := a.tokens.Verify(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	ok, err := a.IsAdmin(ctx, id.UserID)
	if err != nil {
		return Identity{}, err
	}
	if !ok {
		return Identity{}, ErrForbidden
	}
	return id, nil
}

// IsAdmin is an existence check on admin_roles.
func (a *Authorizer) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := a.db.WithContext(ctx).Model(&model.AdminRole{}).Where("user_id = ?", userID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check admin role: %w", err)
	}
	return count > 0, nil
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
