package store

import (
	"context"
	"errors"
	"log"
	"time"

	"faceapproval/internal/model"
)

// ErrDuplicate is returned by insert/update operations that would violate
// a uniqueness constraint.
var ErrDuplicate = errors.New("store: duplicate key")

// ErrNotFound is returned by update/delete operations targeting a missing
// record. Lookups report absence as (nil, nil) instead.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence backend for the four record collections.
// Implementations must make insert-unique atomic: concurrent inserts of
// the same key yield exactly one success and ErrDuplicate for the rest.
type Store interface {
	// Registrations, keyed by name.
	InsertRegistration(ctx context.Context, reg model.Registration) error
	GetRegistration(ctx context.Context, name string) (*model.Registration, error)
	ListRegistrations(ctx context.Context) ([]model.Registration, error)
	UpdateRegistration(ctx context.Context, oldName string, reg model.Registration) error
	DeleteRegistration(ctx context.Context, name string) error
	CountRegistrations(ctx context.Context) (int, error)

	// Active sessions, keyed by name, with a unique session id.
	InsertSession(ctx context.Context, sess model.ActiveSession) error
	GetSessionByName(ctx context.Context, name string) (*model.ActiveSession, error)
	GetSessionByID(ctx context.Context, sessionID string) (*model.ActiveSession, error)
	ListSessions(ctx context.Context) ([]model.ActiveSession, error)
	DeleteSessionByName(ctx context.Context, name string) error
	DeleteSessionByID(ctx context.Context, sessionID string) error
	RenameSession(ctx context.Context, oldName, newName string) error

	// Temp captures, keyed by browser-session token. Face and admin flag
	// share the record but are mutated independently.
	UpsertCaptureFace(ctx context.Context, token, face string) error
	SetCaptureAdmin(ctx context.Context, token string, admin bool) error
	GetCapture(ctx context.Context, token string) (*model.TempCapture, error)
	ClearCaptureFace(ctx context.Context, token string) error
	DeleteCapture(ctx context.Context, token string) error
	DeleteExpiredCaptures(ctx context.Context, cutoff time.Time) (int, error)

	// Console logs, append-only, pruned by the audit layer.
	AppendLog(ctx context.Context, entry model.LogEntry) error
	RecentLogs(ctx context.Context, limit int) ([]model.LogEntry, error)
	CountLogs(ctx context.Context) (int, error)
	PruneLogs(ctx context.Context, keep int) error

	Ping(ctx context.Context) error
	Backend() string
	Close() error
}

// probeTimeout bounds the startup liveness probe against the durable
// backend.
const probeTimeout = 5 * time.Second

// Select attempts the durable backend once and falls back to in-memory
// storage for the process lifetime on any failure. There is no retry:
// the choice is sticky until restart.
func Select(ctx context.Context, databaseURL string) Store {
	pg, err := NewPostgres(ctx, databaseURL)
	if err != nil {
		log.Printf("warning: durable store not reachable, falling back to in-memory storage: %v", err)
		log.Println("note: data will be lost on restart")
		return NewMemory()
	}
	return pg
}
