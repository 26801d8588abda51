package models

// User is an EventApp account. It is owned by the EventApp application and
// only read here, apart from the Telegram columns written on link.
type User struct {
	ID                int64  `json:"id"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	PasswordHash      string `json:"-"`
	TelegramID        *int64 `json:"telegram_id,omitempty"`
	TelegramUsername  string `json:"telegram_username,omitempty"`
	TelegramConnected bool   `json:"telegram_connected"`
}
