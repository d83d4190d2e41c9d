package model

import "time"

// Registration is a stored identity record. Name is the primary key and
// unique across all registrations.
type Registration struct {
	Name         string    `json:"name"`
	Class        string    `json:"class"`
	Roll         string    `json:"roll"`
	FaceData     string    `json:"-"` // fixed-length prefix of the submitted payload
	Code         string    `json:"code"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ActiveSession grants a registrant current access. At most one per name;
// SessionID is unique system-wide.
type ActiveSession struct {
	Name      string    `json:"name"`
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

// TempCapture holds an in-progress face capture and/or the admin flag for
// one browser-session token. The token namespace is distinct from
// ActiveSession IDs. Records expire an hour after CreatedAt.
type TempCapture struct {
	SessionID string    `json:"session_id"`
	FaceImage string    `json:"face_image,omitempty"`
	Admin     bool      `json:"admin,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LogEntry is one audit line. Formatted is the display string rendered at
// append time.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Formatted string    `json:"formatted"`
}

// SessionView is an active session as shown on the admin dashboard.
type SessionView struct {
	Name      string `json:"name"`
	SessionID string `json:"session_id"`
	StartedAt string `json:"started_at"`
}

// UserView is a registration joined with its session, if any.
type UserView struct {
	Name             string `json:"name"`
	Class            string `json:"class"`
	Roll             string `json:"roll"`
	Code             string `json:"code"`
	SessionID        string `json:"session_id"`
	HasActiveSession bool   `json:"has_active_session"`
	RegisteredAt     string `json:"registered_at"`
}

// DashboardData is the admin dashboard snapshot. Error carries a marker
// when the backend is degraded; the collections are then empty rather
// than the whole request failing.
type DashboardData struct {
	Members  []string      `json:"members"`
	Sessions []SessionView `json:"sessions"`
	Users    []UserView    `json:"users"`
	Logs     []string      `json:"logs"`
	Error    string        `json:"error,omitempty"`
}
