// Package audit keeps a bounded trail of action strings in whichever
// backend is active. Writes never fail their caller: an unreachable
// backend costs log lines, not requests.
package audit

import (
	"context"
	"fmt"
	"log"
	"time"

	"faceapproval/internal/model"
	"faceapproval/internal/store"
)

// maxEntries is the hard cap on stored entries; the oldest are evicted
// past it.
const maxEntries = 100

// RecentLimit is how many entries the admin view reads.
const RecentLimit = 50

// Logger appends timestamped audit entries and prunes the excess.
type Logger struct {
	store store.Store
	now   func() time.Time
}

// New creates a logger on top of the active store.
func New(s store.Store) *Logger {
	return &Logger{store: s, now: time.Now}
}

// NewWithClock creates a logger with an injected clock for tests.
func NewWithClock(s store.Store, now func() time.Time) *Logger {
	return &Logger{store: s, now: now}
}

// Record appends an entry and evicts oldest-first so at most maxEntries
// remain. Failures are printed and swallowed.
func (l *Logger) Record(ctx context.Context, action string) {
	ts := l.now().UTC()
	entry := model.LogEntry{
		Timestamp: ts,
		Action:    action,
		Formatted: fmt.Sprintf("[%s] %s", ts.Format("2006-01-02 15:04:05"), action),
	}
	if err := l.store.AppendLog(ctx, entry); err != nil {
		log.Printf("audit append failed: %v", err)
		return
	}
	count, err := l.store.CountLogs(ctx)
	if err != nil {
		log.Printf("audit count failed: %v", err)
		return
	}
	if count > maxEntries {
		if err := l.store.PruneLogs(ctx, maxEntries); err != nil {
			log.Printf("audit prune failed: %v", err)
		}
	}
}

// Recordf is Record with formatting.
func (l *Logger) Recordf(ctx context.Context, format string, args ...any) {
	l.Record(ctx, fmt.Sprintf(format, args...))
}

// Recent returns up to n formatted entries, newest first. A failed read
// yields an empty slice; the caller decides whether that degrades the
// response.
func (l *Logger) Recent(ctx context.Context, n int) []string {
	if n <= 0 || n > maxEntries {
		n = RecentLimit
	}
	entries, err := l.store.RecentLogs(ctx, n)
	if err != nil {
		log.Printf("audit read failed: %v", err)
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Formatted)
	}
	return out
}
