package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"faceapproval/internal/model"
)

// Postgres is the durable backend. Uniqueness of registration names and
// session ids is enforced by database constraints, so concurrent inserts
// are atomic without application-level locking.
type Postgres struct {
	db *sql.DB
}

// NewPostgres connects with sane pool defaults, probes liveness within
// probeTimeout, and ensures the schema. Any failure means the caller
// falls back to in-memory storage.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := db.PingContext(probeCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := migrate(probeCtx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Postgres{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS registrations (
		name          TEXT PRIMARY KEY,
		class         TEXT NOT NULL,
		roll          TEXT NOT NULL,
		face_data     TEXT NOT NULL,
		code          TEXT NOT NULL,
		registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS active_sessions (
		name       TEXT PRIMARY KEY,
		session_id TEXT UNIQUE NOT NULL,
		started_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS temp_captures (
		session_id TEXT PRIMARY KEY,
		face_image TEXT NOT NULL DEFAULT '',
		admin      BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS console_logs (
		id        BIGSERIAL PRIMARY KEY,
		ts        TIMESTAMPTZ NOT NULL,
		action    TEXT NOT NULL,
		formatted TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_console_logs_ts     ON console_logs(ts);
	CREATE INDEX IF NOT EXISTS idx_temp_captures_created ON temp_captures(created_at);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// -------- Registrations --------

func (p *Postgres) InsertRegistration(ctx context.Context, reg model.Registration) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO registrations (name, class, roll, face_data, code, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, reg.Name, reg.Class, reg.Roll, reg.FaceData, reg.Code, reg.RegisteredAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *Postgres) GetRegistration(ctx context.Context, name string) (*model.Registration, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT name, class, roll, face_data, code, registered_at
		FROM registrations WHERE name = $1
	`, name)
	var reg model.Registration
	if err := row.Scan(&reg.Name, &reg.Class, &reg.Roll, &reg.FaceData, &reg.Code, &reg.RegisteredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &reg, nil
}

func (p *Postgres) ListRegistrations(ctx context.Context) ([]model.Registration, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT name, class, roll, face_data, code, registered_at
		FROM registrations
		ORDER BY registered_at, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Registration
	for rows.Next() {
		var reg model.Registration
		if err := rows.Scan(&reg.Name, &reg.Class, &reg.Roll, &reg.FaceData, &reg.Code, &reg.RegisteredAt); err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateRegistration(ctx context.Context, oldName string, reg model.Registration) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE registrations
		SET name = $2, class = $3, roll = $4
		WHERE name = $1
	`, oldName, reg.Name, reg.Class, reg.Roll)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (p *Postgres) DeleteRegistration(ctx context.Context, name string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM registrations WHERE name = $1`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (p *Postgres) CountRegistrations(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registrations`).Scan(&n)
	return n, err
}

// -------- Active sessions --------

func (p *Postgres) InsertSession(ctx context.Context, sess model.ActiveSession) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO active_sessions (name, session_id, started_at)
		VALUES ($1, $2, $3)
	`, sess.Name, sess.SessionID, sess.StartedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *Postgres) GetSessionByName(ctx context.Context, name string) (*model.ActiveSession, error) {
	return p.scanSession(p.db.QueryRowContext(ctx, `
		SELECT name, session_id, started_at FROM active_sessions WHERE name = $1
	`, name))
}

func (p *Postgres) GetSessionByID(ctx context.Context, sessionID string) (*model.ActiveSession, error) {
	return p.scanSession(p.db.QueryRowContext(ctx, `
		SELECT name, session_id, started_at FROM active_sessions WHERE session_id = $1
	`, sessionID))
}

func (p *Postgres) scanSession(row *sql.Row) (*model.ActiveSession, error) {
	var sess model.ActiveSession
	if err := row.Scan(&sess.Name, &sess.SessionID, &sess.StartedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

func (p *Postgres) ListSessions(ctx context.Context) ([]model.ActiveSession, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT name, session_id, started_at FROM active_sessions ORDER BY started_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ActiveSession
	for rows.Next() {
		var sess model.ActiveSession
		if err := rows.Scan(&sess.Name, &sess.SessionID, &sess.StartedAt); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSessionByName(ctx context.Context, name string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM active_sessions WHERE name = $1`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (p *Postgres) DeleteSessionByID(ctx context.Context, sessionID string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM active_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (p *Postgres) RenameSession(ctx context.Context, oldName, newName string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE active_sessions SET name = $2 WHERE name = $1
	`, oldName, newName)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// -------- Temp captures --------

func (p *Postgres) UpsertCaptureFace(ctx context.Context, token, face string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO temp_captures (session_id, face_image, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			face_image = EXCLUDED.face_image,
			created_at = NOW()
	`, token, face)
	return err
}

func (p *Postgres) SetCaptureAdmin(ctx context.Context, token string, admin bool) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO temp_captures (session_id, admin, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_id) DO UPDATE SET admin = EXCLUDED.admin
	`, token, admin)
	return err
}

func (p *Postgres) GetCapture(ctx context.Context, token string) (*model.TempCapture, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT session_id, face_image, admin, created_at
		FROM temp_captures WHERE session_id = $1
	`, token)
	var tc model.TempCapture
	if err := row.Scan(&tc.SessionID, &tc.FaceImage, &tc.Admin, &tc.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &tc, nil
}

func (p *Postgres) ClearCaptureFace(ctx context.Context, token string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE temp_captures SET face_image = '' WHERE session_id = $1
	`, token)
	return err
}

func (p *Postgres) DeleteCapture(ctx context.Context, token string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM temp_captures WHERE session_id = $1`, token)
	return err
}

func (p *Postgres) DeleteExpiredCaptures(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM temp_captures WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// -------- Console logs --------

func (p *Postgres) AppendLog(ctx context.Context, entry model.LogEntry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO console_logs (ts, action, formatted) VALUES ($1, $2, $3)
	`, entry.Timestamp, entry.Action, entry.Formatted)
	return err
}

func (p *Postgres) RecentLogs(ctx context.Context, limit int) ([]model.LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT ts, action, formatted FROM console_logs
		ORDER BY ts DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		if err := rows.Scan(&e.Timestamp, &e.Action, &e.Formatted); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) CountLogs(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM console_logs`).Scan(&n)
	return n, err
}

// PruneLogs deletes the oldest entries so at most keep remain.
func (p *Postgres) PruneLogs(ctx context.Context, keep int) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM console_logs
		WHERE id NOT IN (
			SELECT id FROM console_logs ORDER BY ts DESC, id DESC LIMIT $1
		)
	`, keep)
	return err
}

// -------- Lifecycle --------

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Backend() string { return "postgres" }

func (p *Postgres) Close() error { return p.db.Close() }
