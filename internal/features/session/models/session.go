package models

import "time"

// State is the position of a chat identity in the account-linking dialog.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingEmail    State = "awaiting_email"
	StateAwaitingPassword State = "awaiting_password"
)

// Session is the ephemeral dialog state of one chat identity.
// Email is set only while State is StateAwaitingPassword.
type Session struct {
	State     State     `json:"state"`
	Email     string    `json:"email,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InDialog reports whether the session is collecting linking input.
func (s *Session) InDialog() bool {
	return s != nil && (s.State == StateAwaitingEmail || s.State == StateAwaitingPassword)
}

// Clone returns a copy safe to mutate.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
