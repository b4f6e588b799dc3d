package callevent

import "time"

// CallEvent is one normalized record of an incoming call notification.
//
// Events are created exactly once at ingestion and are immutable after
// that; there are no update or delete paths anywhere in the service.
//
// NOTE: ID is assigned by the durable store on insert. When a store
// implementation cannot report the inserted id, the ingest service
// synthesizes one from a process-local counter seeded from the bootstrap
// query. Under a multi-process deployment those synthesized ids can
// diverge from store-assigned ones; the subscriber registry is
// process-local anyway, so this is accepted and not papered over.

type CallEvent struct {
	ID     string `json:"id" db:"id"`
	Phone  string `json:"phone" db:"phone"`
	Digits string `json:"digits,omitempty" db:"digits"`

	Extension string `json:"extension,omitempty" db:"extension"`
	Source    string `json:"source,omitempty" db:"source"`

	Status Status `json:"status" db:"status"`

	Note string `json:"note,omitempty" db:"note"`

	// CallerName is the caller-supplied name from the webhook payload.
	// It takes precedence over any later contact-table join.
	CallerName string `json:"caller_name,omitempty" db:"caller_name"`
	PersonID   string `json:"person_id,omitempty" db:"person_id"`

	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}

type Status string

const (
	StatusRinging  Status = "ringing"
	StatusAnswered Status = "answered"
	StatusMissed   Status = "missed"
	StatusRejected Status = "rejected"
)
