// Package admin gates the administrative mutations. Admin standing is a
// flag on the caller's temp-capture record, so logging out (deleting the
// record) revokes access immediately on every backend.
package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"faceapproval/internal/audit"
	"faceapproval/internal/store"
)

// ErrBadCredentials rejects a login attempt.
var ErrBadCredentials = errors.New("invalid credentials")

// ErrNotAdmin rejects an unauthorized admin-only call.
var ErrNotAdmin = errors.New("admin access required")

// Gate checks credentials and per-request admin standing.
type Gate struct {
	store        store.Store
	audit        *audit.Logger
	username     string
	passwordHash []byte
}

// New builds a gate. passwordHash must be a bcrypt hash; use HashPassword
// when only a plaintext password is configured.
func New(s store.Store, a *audit.Logger, username string, passwordHash []byte) *Gate {
	return &Gate{store: s, audit: a, username: username, passwordHash: passwordHash}
}

// HashPassword bcrypt-hashes a plaintext password at default cost.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// Login verifies the supplied credentials and, on success, marks the
// caller's browser-session token as admin. Failed attempts are audited
// with the attempted username, matching the prior system's trail.
func (g *Gate) Login(ctx context.Context, token, username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(g.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(g.passwordHash, []byte(password)) == nil
	if !userOK || !passOK {
		g.audit.Recordf(ctx, "ADMIN LOGIN: Failed attempt (Username: %s)", username)
		return ErrBadCredentials
	}
	if err := g.store.SetCaptureAdmin(ctx, token, true); err != nil {
		return fmt.Errorf("persist admin flag: %w", err)
	}
	g.audit.Recordf(ctx, "ADMIN LOGIN: Successful (Username: %s)", username)
	return nil
}

// Authorize requires the token's temp-capture record to carry the admin
// flag. A freshly minted token has no record and is rejected.
func (g *Gate) Authorize(ctx context.Context, token string) error {
	tc, err := g.store.GetCapture(ctx, token)
	if err != nil {
		return fmt.Errorf("load session record: %w", err)
	}
	if tc == nil || !tc.Admin {
		return ErrNotAdmin
	}
	return nil
}

// Logout deletes the token's temp-capture record entirely, dropping the
// admin flag and any pending capture with it.
func (g *Gate) Logout(ctx context.Context, token string) {
	if err := g.store.DeleteCapture(ctx, token); err != nil {
		// Non-critical: the record expires on its own.
		g.audit.Recordf(ctx, "ERROR: Admin logout cleanup failed - %v", err)
		return
	}
	g.audit.Record(ctx, "ADMIN LOGOUT: Successful")
}
