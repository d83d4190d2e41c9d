// Package approval is the session/identity core: registration, face
// approval, and the active-session lifecycle. It orchestrates the store
// and never caches records — every read re-queries the backend so
// concurrent requests see current state.
package approval

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"faceapproval/internal/audit"
	"faceapproval/internal/model"
	"faceapproval/internal/store"
)

const (
	// minPayloadLen rejects captures too small to be a frame.
	minPayloadLen = 100
	// fingerprintLen is the stored prefix length.
	fingerprintLen = 500
	// sessionPrefix tags access-session ids, keeping them visibly
	// distinct from browser-session tokens.
	sessionPrefix = "#DB"
)

// Service coordinates the registration and session collections.
type Service struct {
	store         store.Store
	audit         *audit.Logger
	matcher       Matcher
	fallbackMatch bool
}

// NewService builds the core. fallbackMatch keeps the demo behavior of
// approving the first registrant when nothing matches; turn it off to
// report "not recognized" instead.
func NewService(s store.Store, a *audit.Logger, m Matcher, fallbackMatch bool) *Service {
	if m == nil {
		m = NewPrefixMatcher(fingerprintLen)
	}
	return &Service{store: s, audit: a, matcher: m, fallbackMatch: fallbackMatch}
}

// ApprovalResult is the identity and session returned by Approve.
type ApprovalResult struct {
	SessionID     string
	Name          string
	Class         string
	Roll          string
	AlreadyActive bool
}

// Capture stores a face payload on the caller's browser-session token.
// Last write wins per token.
func (s *Service) Capture(ctx context.Context, token, payload string) error {
	if len(payload) < minPayloadLen {
		return validationf("Invalid face data - image too small or empty")
	}
	if err := s.store.UpsertCaptureFace(ctx, token, payload); err != nil {
		return fmt.Errorf("store capture: %w", err)
	}
	s.audit.Recordf(ctx, "Face captured for registration (Session: %s...)", shortToken(token))
	return nil
}

// ClearCapture drops the pending face payload for a token. Non-critical:
// failures are printed, not propagated.
func (s *Service) ClearCapture(ctx context.Context, token string) {
	if err := s.store.ClearCaptureFace(ctx, token); err != nil {
		log.Printf("clear capture failed: %v", err)
	}
}

// Register creates a Registration from the form fields and either the
// inline payload or the one previously captured under token. Returns the
// generated access code.
func (s *Service) Register(ctx context.Context, token, name, class, roll, payload string) (string, error) {
	name = strings.TrimSpace(name)
	class = strings.TrimSpace(class)
	roll = strings.TrimSpace(roll)
	if name == "" || class == "" || roll == "" {
		return "", validationf("All fields are required (name, class, roll)")
	}

	if payload == "" {
		tc, err := s.store.GetCapture(ctx, token)
		if err != nil {
			return "", fmt.Errorf("load capture: %w", err)
		}
		if tc != nil {
			payload = tc.FaceImage
		}
	}
	if payload == "" {
		return "", validationf("No face captured. Please capture your face first using the camera.")
	}

	code, err := newAccessCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	reg := model.Registration{
		Name:         name,
		Class:        class,
		Roll:         roll,
		FaceData:     Fingerprint(payload, fingerprintLen),
		Code:         code,
		RegisteredAt: time.Now().UTC(),
	}
	// The insert is the uniqueness check: the store rejects duplicates
	// atomically, so there is no separate exists-then-insert window.
	if err := s.store.InsertRegistration(ctx, reg); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return "", &ConflictError{Message: fmt.Sprintf("User %q is already registered. Please use a different name.", name)}
		}
		return "", fmt.Errorf("store registration: %w", err)
	}

	s.ClearCapture(ctx, token)
	s.audit.Recordf(ctx, "NEW REGISTRATION: %s | Class: %s | Roll: %s | Code: %s", name, class, roll, code)
	return code, nil
}

// Approve matches a payload against the registrations and returns an
// active session for the matched registrant, creating one if needed.
// A registrant with a session already gets the same session back.
func (s *Service) Approve(ctx context.Context, token, payload string) (*ApprovalResult, error) {
	if len(payload) < minPayloadLen {
		return nil, validationf("No face captured. Please position your face in the camera.")
	}

	regs, err := s.store.ListRegistrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	if len(regs) == 0 {
		return nil, validationf("No registered users found. Please register first.")
	}

	name, ok := s.matcher.Match(ctx, payload, regs)
	if !ok {
		if !s.fallbackMatch {
			return nil, validationf("Face not recognized. Please register first.")
		}
		// Demo placeholder: treat the first registrant as the match.
		// Explicitly audited so the trail shows it was not a real match.
		name = regs[0].Name
		s.audit.Recordf(ctx, "Using fallback match for demo: %s", name)
	}

	reg, err := s.store.GetRegistration(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load registration: %w", err)
	}
	if reg == nil {
		return nil, validationf("Face not recognized. Please register first.")
	}

	existing, err := s.store.GetSessionByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if existing != nil {
		s.ClearCapture(ctx, token)
		s.audit.Recordf(ctx, "Session already active for: %s", name)
		return &ApprovalResult{
			SessionID:     existing.SessionID,
			Name:          name,
			Class:         reg.Class,
			Roll:          reg.Roll,
			AlreadyActive: true,
		}, nil
	}

	sessionID, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	sess := model.ActiveSession{Name: name, SessionID: sessionID, StartedAt: time.Now().UTC()}
	if err := s.store.InsertSession(ctx, sess); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with a concurrent approval; return the winner.
			if winner, werr := s.store.GetSessionByName(ctx, name); werr == nil && winner != nil {
				s.ClearCapture(ctx, token)
				return &ApprovalResult{
					SessionID:     winner.SessionID,
					Name:          name,
					Class:         reg.Class,
					Roll:          reg.Roll,
					AlreadyActive: true,
				}, nil
			}
		}
		return nil, fmt.Errorf("store session: %w", err)
	}

	s.ClearCapture(ctx, token)
	s.audit.Recordf(ctx, "SESSION STARTED: %s | Session: %s", name, sessionID)
	return &ApprovalResult{SessionID: sessionID, Name: name, Class: reg.Class, Roll: reg.Roll}, nil
}

// EndSession deletes the active session carrying sessionID.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	sess, err := s.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return &NotFoundError{Message: "Session not found"}
	}
	if err := s.store.DeleteSessionByID(ctx, sessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	s.audit.Recordf(ctx, "SESSION ENDED: %s | %s", sess.Name, sessionID)
	return nil
}

// Edit updates a registration's fields and, on rename, re-keys the
// registration and cascades the rename to its active session, preserving
// the session id and start time. Admin-only; the handler gates it.
func (s *Service) Edit(ctx context.Context, oldName, newName, class, roll string) error {
	oldName = strings.TrimSpace(oldName)
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return validationf("Name must not be empty")
	}

	reg, err := s.store.GetRegistration(ctx, oldName)
	if err != nil {
		return fmt.Errorf("load registration: %w", err)
	}
	if reg == nil {
		return &NotFoundError{Message: fmt.Sprintf("User '%s' not found", oldName)}
	}

	reg.Name = newName
	reg.Class = strings.TrimSpace(class)
	reg.Roll = strings.TrimSpace(roll)
	if err := s.store.UpdateRegistration(ctx, oldName, *reg); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return &ConflictError{Message: fmt.Sprintf("User '%s' already exists", newName)}
		}
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Message: fmt.Sprintf("User '%s' not found", oldName)}
		}
		return fmt.Errorf("update registration: %w", err)
	}

	if newName != oldName {
		if err := s.store.RenameSession(ctx, oldName, newName); err != nil {
			// The registration is already renamed; an orphaned session
			// under the old name is worth surfacing.
			return fmt.Errorf("rename session: %w", err)
		}
	}
	s.audit.Recordf(ctx, "USER EDITED: %s -> %s (by Admin)", oldName, newName)
	return nil
}

// Delete removes a registration and cascade-deletes its active session.
// Admin-only; the handler gates it.
func (s *Service) Delete(ctx context.Context, name string) error {
	reg, err := s.store.GetRegistration(ctx, name)
	if err != nil {
		return fmt.Errorf("load registration: %w", err)
	}
	if reg == nil {
		return &NotFoundError{Message: fmt.Sprintf("User '%s' not found", name)}
	}
	if err := s.store.DeleteRegistration(ctx, name); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete registration: %w", err)
	}
	if err := s.store.DeleteSessionByName(ctx, name); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	s.audit.Recordf(ctx, "USER DELETED: %s (by Admin)", name)
	return nil
}

// Dashboard assembles registrations joined with their sessions plus the
// recent audit trail. It never fails: a degraded backend yields the
// error marker and empty collections.
func (s *Service) Dashboard(ctx context.Context) model.DashboardData {
	data := model.DashboardData{
		Members:  []string{},
		Sessions: []model.SessionView{},
		Users:    []model.UserView{},
		Logs:     []string{},
	}

	regs, err := s.store.ListRegistrations(ctx)
	if err != nil {
		s.audit.Recordf(ctx, "ERROR: Admin data fetch failed - %v", err)
		data.Error = err.Error()
		data.Logs = []string{fmt.Sprintf("Error loading data: %v", err)}
		return data
	}
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		s.audit.Recordf(ctx, "ERROR: Admin data fetch failed - %v", err)
		data.Error = err.Error()
		data.Logs = []string{fmt.Sprintf("Error loading data: %v", err)}
		return data
	}

	byName := make(map[string]model.ActiveSession, len(sessions))
	for _, sess := range sessions {
		byName[sess.Name] = sess
		data.Sessions = append(data.Sessions, model.SessionView{
			Name:      sess.Name,
			SessionID: sess.SessionID,
			StartedAt: sess.StartedAt.Format(time.RFC3339),
		})
	}

	for _, reg := range regs {
		data.Members = append(data.Members, reg.Name)
		view := model.UserView{
			Name:         reg.Name,
			Class:        reg.Class,
			Roll:         reg.Roll,
			Code:         reg.Code,
			SessionID:    "No active session",
			RegisteredAt: "Unknown",
		}
		if !reg.RegisteredAt.IsZero() {
			view.RegisteredAt = reg.RegisteredAt.Format(time.RFC3339)
		}
		if sess, ok := byName[reg.Name]; ok {
			view.SessionID = sess.SessionID
			view.HasActiveSession = true
		}
		data.Users = append(data.Users, view)
	}

	data.Logs = s.audit.Recent(ctx, audit.RecentLimit)
	if data.Logs == nil {
		data.Logs = []string{}
	}
	return data
}

// newAccessCode returns 12 uppercase hex characters.
func newAccessCode() (string, error) {
	return randomHex(6)
}

// newSessionID returns the session-id format: "#DB" + 16 uppercase hex.
func newSessionID() (string, error) {
	hex, err := randomHex(8)
	if err != nil {
		return "", err
	}
	return sessionPrefix + hex, nil
}

func randomHex(nbytes int) (string, error) {
	buf := make([]byte, nbytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%X", buf), nil
}

func shortToken(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}
