package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	initdata "github.com/telegram-mini-apps/init-data-golang"

	"eventapp-telegram-bot/internal/common/errors"
	idmodels "eventapp-telegram-bot/internal/features/identity/models"
)

const chatIdentityKey = "chat_identity"

// InitData validates Telegram Mini App init data against the bot token and
// stores the sender as an identity in the context. The raw string is read
// from the initData query parameter or the X-Telegram-Init-Data header.
// ttl of zero disables the auth_date expiry check.
func InitData(botToken string, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("initData")
		if raw == "" {
			raw = c.GetHeader("X-Telegram-Init-Data")
		}
		if raw == "" {
			WriteError(c, http.StatusBadRequest, errors.NewAuthError("missing initData"))
			return
		}

		if err := initdata.Validate(raw, botToken, ttl); err != nil {
			WriteError(c, http.StatusBadRequest,
				errors.Wrap(err, errors.ErrCodeAuth, "Authentication failed: invalid initData"))
			return
		}

		parsed, err := initdata.Parse(raw)
		if err != nil {
			WriteError(c, http.StatusBadRequest,
				errors.Wrap(err, errors.ErrCodeAuth, "Authentication failed: malformed initData"))
			return
		}
		if parsed.User.ID == 0 {
			WriteError(c, http.StatusBadRequest, errors.NewAuthError("invalid user data"))
			return
		}

		c.Set(chatIdentityKey, idmodels.ChatIdentity{
			TelegramID:   parsed.User.ID,
			Username:     parsed.User.Username,
			FirstName:    parsed.User.FirstName,
			LastName:     parsed.User.LastName,
			LanguageCode: parsed.User.LanguageCode,
		})
		c.Next()
	}
}

// ChatIdentity returns the identity stored by InitData.
func ChatIdentity(c *gin.Context) (idmodels.ChatIdentity, bool) {
	v, ok := c.Get(chatIdentityKey)
	if !ok {
		return idmodels.ChatIdentity{}, false
	}
	id, ok := v.(idmodels.ChatIdentity)
	return id, ok
}
