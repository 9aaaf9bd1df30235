package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON lines + snapshot next to Path
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// PendingSubmission is a completed response that still has to reach the
// survey backend.
type PendingSubmission struct {
	ID        string            `json:"id"`
	SessionID int64             `json:"session_id"`
	SurveyID  int64             `json:"survey_id"`
	Seed      string            `json:"seed"`
	Answers   map[string]string `json:"answers"`
	CreatedAt time.Time         `json:"created_at"`
	Attempts  int               `json:"attempts"`
	LastError string            `json:"last_error,omitempty"`
}

// Preference is what a chat chose outside of a running survey.
type Preference struct {
	ChatID       int64     `json:"chat_id"`
	FrequencyKey string    `json:"frequency"`
	Locale       string    `json:"locale,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AuditEntry records a survey lifecycle action.
type AuditEntry struct {
	At       time.Time `json:"at"`
	ChatID   int64     `json:"chat_id"`
	SurveyID int64     `json:"survey_id,omitempty"`
	Action   string    `json:"action"`
	Target   string    `json:"target,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"err,omitempty"`
	TookMS   int64     `json:"took_ms,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}
