// Package store owns the durable call-event table: schema bootstrap,
// append, and the indexed search query backing the log endpoint.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"callboard/internal/callevent"
)

// Limit bounds for the log query. Callers may ask for anything; the
// adapter clamps.
const (
	MinQueryLimit     = 1
	MaxQueryLimit     = 500
	DefaultQueryLimit = 100
)

// ClampLimit normalizes a caller-supplied row limit. Zero or negative
// means "default".
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit < MinQueryLimit {
		return MinQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

// Postgres persists call events in a call_events table and enriches
// queries with a contact-name join. All methods wrap failures with a
// "store:" prefix; callers treat any such error as a server fault.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS call_events (
	id          BIGSERIAL PRIMARY KEY,
	phone       TEXT NOT NULL DEFAULT '',
	digits      TEXT,
	extension   TEXT,
	source      TEXT,
	status      TEXT,
	note        TEXT,
	caller_name TEXT,
	person_id   TEXT,
	received_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS call_events_received_at_idx ON call_events (received_at DESC);
CREATE INDEX IF NOT EXISTS call_events_digits_idx ON call_events (digits);
CREATE TABLE IF NOT EXISTS contacts (
	digits TEXT PRIMARY KEY,
	name   TEXT NOT NULL
);
`

// EnsureSchema creates the backing tables and indexes if absent.
// Idempotent; single-flight coordination across concurrent first
// requests is the ingest service's job, not this adapter's.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// BootstrapHistory returns up to limit most recent events, newest-first.
// Run once at startup to seed the in-memory ring; the head row carries
// the maximum persisted id.
func (p *Postgres) BootstrapHistory(ctx context.Context, limit int) ([]callevent.CallEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, phone, digits, extension, source, status, note, caller_name, person_id, received_at
		FROM call_events
		ORDER BY received_at DESC, id DESC
		LIMIT $1`, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: bootstrap history: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("store: bootstrap history: %w", err)
	}
	return events, nil
}

// Insert appends one event and returns the store-assigned id.
func (p *Postgres) Insert(ctx context.Context, ev callevent.CallEvent) (string, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO call_events (phone, digits, extension, source, status, note, caller_name, person_id, received_at)
		VALUES ($1, NULLIF($2,''), NULLIF($3,''), NULLIF($4,''), $5, NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), $9)
		RETURNING id`,
		ev.Phone, ev.Digits, ev.Extension, ev.Source, string(ev.Status), ev.Note,
		ev.CallerName, ev.PersonID, ev.ReceivedAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("store: insert: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// Query returns up to limit events newest-first, ties broken by id
// descending. A non-empty search narrows case-insensitively over phone,
// digits, caller name, and joined contact name. The contact join fills
// caller_name only when the event itself carries none.
func (p *Postgres) Query(ctx context.Context, search string, limit int) ([]callevent.CallEvent, error) {
	pattern := ""
	if search != "" {
		pattern = "%" + callevent.EscapeLike(search) + "%"
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT e.id, e.phone, e.digits, e.extension, e.source, e.status, e.note,
		       COALESCE(NULLIF(e.caller_name, ''), c.name) AS caller_name,
		       e.person_id, e.received_at
		FROM call_events e
		LEFT JOIN contacts c ON c.digits = e.digits
		WHERE $1 = ''
		   OR e.phone ILIKE $1
		   OR e.digits ILIKE $1
		   OR e.caller_name ILIKE $1
		   OR c.name ILIKE $1
		ORDER BY e.received_at DESC, e.id DESC
		LIMIT $2`, pattern, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	return events, nil
}

func scanEvents(rows *sql.Rows) ([]callevent.CallEvent, error) {
	var events []callevent.CallEvent
	for rows.Next() {
		var id int64
		var ev callevent.CallEvent
		var digits, extension, source, status, note, callerName, personID sql.NullString
		if err := rows.Scan(&id, &ev.Phone, &digits, &extension, &source, &status,
			&note, &callerName, &personID, &ev.ReceivedAt); err != nil {
			return nil, err
		}
		ev.ID = strconv.FormatInt(id, 10)
		ev.Digits = digits.String
		ev.Extension = extension.String
		ev.Source = source.String
		ev.Note = note.String
		ev.CallerName = callerName.String
		ev.PersonID = personID.String
		ev.Status = callevent.NormalizeStatus(status.String)
		events = append(events, ev)
	}
	return events, rows.Err()
}
