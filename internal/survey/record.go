package survey

import (
	"maps"
	"time"
)

// SessionID identifies a user's conversation (the Telegram chat id).
type SessionID int64

type Phase string

const (
	PhaseNone                 Phase = "none"
	PhaseScheduled            Phase = "scheduled"
	PhaseAwaitingAnswer       Phase = "awaiting_answer"
	PhaseAwaitingConfirmation Phase = "awaiting_confirmation"
	PhaseCompleted            Phase = "completed"
	PhaseCancelled            Phase = "cancelled"
)

// Record is one user's progress through a survey.
//
// Index counts confirmed answers. Answers only ever gains the code of the
// question that was current when the answer arrived.
type Record struct {
	SessionID SessionID `json:"session_id"`
	SurveyID  int64     `json:"survey_id"`
	Locale    string    `json:"locale,omitempty"`
	Seed      string    `json:"seed"`

	Index               int           `json:"index"`
	Frequency           time.Duration `json:"frequency"`
	Phase               Phase         `json:"phase"`
	PendingConfirmation bool          `json:"pending_confirmation"`
	// ConfirmRequired is cleared for exactly one answer after a "no".
	ConfirmRequired bool              `json:"confirm_required"`
	Completed       bool              `json:"completed"`
	Answers         map[string]string `json:"answers"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Catalog *Catalog `json:"-"`
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Answers = maps.Clone(r.Answers)
	if cp.Answers == nil {
		cp.Answers = map[string]string{}
	}
	return &cp
}

// Active reports whether the session still expects ticks or input.
func (r *Record) Active() bool {
	return r != nil && !r.Completed && r.Phase != PhaseCancelled
}

func (r *Record) phase() Phase {
	if r == nil {
		return PhaseNone
	}
	return r.Phase
}
