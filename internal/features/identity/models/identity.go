package models

import "time"

// ChatIdentity is a Telegram user as seen on an inbound event.
type ChatIdentity struct {
	TelegramID   int64  `json:"id"`
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// DisplayName returns "First Last", the first name, or "@username".
func (c ChatIdentity) DisplayName() string {
	switch {
	case c.FirstName != "" && c.LastName != "":
		return c.FirstName + " " + c.LastName
	case c.FirstName != "":
		return c.FirstName
	case c.Username != "":
		return "@" + c.Username
	default:
		return ""
	}
}

// Record is the durable row correlating a Telegram identity with an
// EventApp user. UserID is nil until a link succeeds.
type Record struct {
	TelegramID   int64     `json:"telegram_id"`
	Username     string    `json:"username,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	LanguageCode string    `json:"language_code,omitempty"`
	UserID       *int64    `json:"user_id,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r *Record) IsLinked() bool {
	return r != nil && r.UserID != nil
}

// Identity returns the chat identity fields of the record.
func (r *Record) Identity() ChatIdentity {
	return ChatIdentity{
		TelegramID:   r.TelegramID,
		Username:     r.Username,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		LanguageCode: r.LanguageCode,
	}
}
