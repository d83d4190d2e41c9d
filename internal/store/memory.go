package store

import (
	"context"
	"sync"
	"time"

	"faceapproval/internal/model"
)

// Memory is the process-local fallback backend. A single mutex guards all
// collections so check-then-act sequences (insert-unique, rename) are
// atomic; the durable backend gets the same guarantee from its unique
// indexes.
type Memory struct {
	mu sync.Mutex

	regs     map[string]model.Registration
	regOrder []string

	sessions  map[string]model.ActiveSession // keyed by name
	sessionID map[string]string              // session id -> name

	captures map[string]model.TempCapture

	logs []model.LogEntry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		regs:      make(map[string]model.Registration),
		sessions:  make(map[string]model.ActiveSession),
		sessionID: make(map[string]string),
		captures:  make(map[string]model.TempCapture),
	}
}

// -------- Registrations --------

func (m *Memory) InsertRegistration(_ context.Context, reg model.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regs[reg.Name]; ok {
		return ErrDuplicate
	}
	m.regs[reg.Name] = reg
	m.regOrder = append(m.regOrder, reg.Name)
	return nil
}

func (m *Memory) GetRegistration(_ context.Context, name string) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[name]
	if !ok {
		return nil, nil
	}
	return &reg, nil
}

// ListRegistrations returns registrations in insertion order, matching
// the scan order a find-all gives on the durable backend.
func (m *Memory) ListRegistrations(_ context.Context) ([]model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Registration, 0, len(m.regOrder))
	for _, name := range m.regOrder {
		out = append(out, m.regs[name])
	}
	return out, nil
}

func (m *Memory) UpdateRegistration(_ context.Context, oldName string, reg model.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regs[oldName]; !ok {
		return ErrNotFound
	}
	if reg.Name != oldName {
		if _, ok := m.regs[reg.Name]; ok {
			return ErrDuplicate
		}
		delete(m.regs, oldName)
		for i, n := range m.regOrder {
			if n == oldName {
				m.regOrder[i] = reg.Name
				break
			}
		}
	}
	m.regs[reg.Name] = reg
	return nil
}

func (m *Memory) DeleteRegistration(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regs[name]; !ok {
		return ErrNotFound
	}
	delete(m.regs, name)
	for i, n := range m.regOrder {
		if n == name {
			m.regOrder = append(m.regOrder[:i], m.regOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) CountRegistrations(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regs), nil
}

// -------- Active sessions --------

func (m *Memory) InsertSession(_ context.Context, sess model.ActiveSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sess.Name]; ok {
		return ErrDuplicate
	}
	if _, ok := m.sessionID[sess.SessionID]; ok {
		return ErrDuplicate
	}
	m.sessions[sess.Name] = sess
	m.sessionID[sess.SessionID] = sess.Name
	return nil
}

func (m *Memory) GetSessionByName(_ context.Context, name string) (*model.ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[name]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (m *Memory) GetSessionByID(_ context.Context, sessionID string) (*model.ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.sessionID[sessionID]
	if !ok {
		return nil, nil
	}
	sess := m.sessions[name]
	return &sess, nil
}

func (m *Memory) ListSessions(_ context.Context) ([]model.ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ActiveSession, 0, len(m.sessions))
	for _, name := range m.regOrder {
		if sess, ok := m.sessions[name]; ok {
			out = append(out, sess)
		}
	}
	// Sessions whose registration is gone should not exist, but don't
	// hide them if they do.
	for name, sess := range m.sessions {
		if _, ok := m.regs[name]; !ok {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (m *Memory) DeleteSessionByName(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[name]
	if !ok {
		return ErrNotFound
	}
	delete(m.sessions, name)
	delete(m.sessionID, sess.SessionID)
	return nil
}

func (m *Memory) DeleteSessionByID(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.sessionID[sessionID]
	if !ok {
		return ErrNotFound
	}
	delete(m.sessions, name)
	delete(m.sessionID, sessionID)
	return nil
}

// RenameSession re-keys a session under a new name, preserving its id and
// start time. Renaming a name with no session is a no-op.
func (m *Memory) RenameSession(_ context.Context, oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[oldName]
	if !ok {
		return nil
	}
	if _, ok := m.sessions[newName]; ok && newName != oldName {
		return ErrDuplicate
	}
	delete(m.sessions, oldName)
	sess.Name = newName
	m.sessions[newName] = sess
	m.sessionID[sess.SessionID] = newName
	return nil
}

// -------- Temp captures --------

func (m *Memory) UpsertCaptureFace(_ context.Context, token, face string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc := m.captures[token]
	tc.SessionID = token
	tc.FaceImage = face
	tc.CreatedAt = time.Now().UTC()
	m.captures[token] = tc
	return nil
}

func (m *Memory) SetCaptureAdmin(_ context.Context, token string, admin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.captures[token]
	if !ok {
		tc = model.TempCapture{SessionID: token, CreatedAt: time.Now().UTC()}
	}
	tc.Admin = admin
	m.captures[token] = tc
	return nil
}

func (m *Memory) GetCapture(_ context.Context, token string) (*model.TempCapture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.captures[token]
	if !ok {
		return nil, nil
	}
	return &tc, nil
}

// ClearCaptureFace drops only the face payload; the admin flag and the
// record itself survive.
func (m *Memory) ClearCaptureFace(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.captures[token]
	if !ok {
		return nil
	}
	tc.FaceImage = ""
	m.captures[token] = tc
	return nil
}

func (m *Memory) DeleteCapture(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.captures, token)
	return nil
}

func (m *Memory) DeleteExpiredCaptures(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for token, tc := range m.captures {
		if tc.CreatedAt.Before(cutoff) {
			delete(m.captures, token)
			removed++
		}
	}
	return removed, nil
}

// -------- Console logs --------

func (m *Memory) AppendLog(_ context.Context, entry model.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

func (m *Memory) RecentLogs(_ context.Context, limit int) ([]model.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.logs) {
		limit = len(m.logs)
	}
	out := make([]model.LogEntry, 0, limit)
	for i := len(m.logs) - 1; i >= len(m.logs)-limit; i-- {
		out = append(out, m.logs[i])
	}
	return out, nil
}

func (m *Memory) CountLogs(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs), nil
}

// PruneLogs keeps only the newest keep entries.
func (m *Memory) PruneLogs(_ context.Context, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if keep < 0 {
		keep = 0
	}
	if len(m.logs) > keep {
		m.logs = append([]model.LogEntry(nil), m.logs[len(m.logs)-keep:]...)
	}
	return nil
}

// -------- Lifecycle --------

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Backend() string { return "in-memory" }

func (m *Memory) Close() error { return nil }
