package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"faceapproval/internal/store"
)

func TestRecordFormatsTimestamp(t *testing.T) {
	st := store.NewMemory()
	fixed := time.Date(2024, 6, 15, 10, 30, 45, 0, time.UTC)
	l := NewWithClock(st, func() time.Time { return fixed })
	ctx := context.Background()

	l.Record(ctx, "SESSION STARTED: Ana | Session: #DBAAAA")

	got := l.Recent(ctx, 1)
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	want := "[2024-06-15 10:30:45] SESSION STARTED: Ana | Session: #DBAAAA"
	if got[0] != want {
		t.Fatalf("formatted entry:\n got %q\nwant %q", got[0], want)
	}
}

func TestRecordCapsAtHundred(t *testing.T) {
	st := store.NewMemory()
	l := New(st)
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		l.Recordf(ctx, "action %d", i)
	}

	count, err := st.CountLogs(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != maxEntries {
		t.Fatalf("expected %d stored entries, got %d", maxEntries, count)
	}

	// The survivors are the newest; entry 149 is first out of Recent.
	recent := l.Recent(ctx, RecentLimit)
	if len(recent) != RecentLimit {
		t.Fatalf("expected %d recent entries, got %d", RecentLimit, len(recent))
	}
	if want := "action 149"; !strings.Contains(recent[0], want) {
		t.Fatalf("newest entry %q does not mention %q", recent[0], want)
	}
	if want := "action 100"; !strings.Contains(recent[RecentLimit-1], want) {
		t.Fatalf("oldest recent entry %q does not mention %q", recent[RecentLimit-1], want)
	}
}

func TestRecentDefaultsOutOfRangeLimits(t *testing.T) {
	st := store.NewMemory()
	l := New(st)
	ctx := context.Background()
	for i := 0; i < 60; i++ {
		l.Recordf(ctx, "action %d", i)
	}
	if got := len(l.Recent(ctx, 0)); got != RecentLimit {
		t.Fatalf("Recent(0) returned %d entries, want %d", got, RecentLimit)
	}
	if got := len(l.Recent(ctx, maxEntries+1)); got != RecentLimit {
		t.Fatalf("Recent(%d) returned %d entries, want %d", maxEntries+1, got, RecentLimit)
	}
}
