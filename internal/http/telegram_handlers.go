package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"eventapp-telegram-bot/internal/common/middleware"
	"eventapp-telegram-bot/internal/common/validation"
	accmodels "eventapp-telegram-bot/internal/features/account/models"
	idmodels "eventapp-telegram-bot/internal/features/identity/models"
	tokensvc "eventapp-telegram-bot/internal/features/token/service"
)

type IdentityResolver interface {
	ResolveOrCreate(ctx context.Context, c idmodels.ChatIdentity) (*idmodels.Record, error)
}

type CredentialLinker interface {
	LinkWithCredentials(ctx context.Context, c idmodels.ChatIdentity, email, password string) (*accmodels.User, *tokensvc.Token, error)
}

type TokenIssuer interface {
	Issue(userID int64, audience string) (*tokensvc.Token, error)
}

// TelegramHandlers serves the Mini App integration endpoints.
type TelegramHandlers struct {
	identities IdentityResolver
	linker     CredentialLinker
	tokens     TokenIssuer
}

func NewTelegramHandlers(identities IdentityResolver, linker CredentialLinker, tokens TokenIssuer) *TelegramHandlers {
	return &TelegramHandlers{identities: identities, linker: linker, tokens: tokens}
}

// AuthResponse is returned by GET /api/telegram/auth.
type AuthResponse struct {
	Token      string `json:"token,omitempty"`
	Linked     bool   `json:"linked"`
	TelegramID int64  `json:"telegramId,omitempty"`
}

// LinkRequest is the body of POST /api/telegram/link.
type LinkRequest struct {
	TelegramID int64  `json:"telegramId" binding:"required"`
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

type LinkedUser struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// LinkResponse is returned by POST /api/telegram/link.
type LinkResponse struct {
	Token string     `json:"token"`
	User  LinkedUser `json:"user"`
}

// Auth godoc
// @Summary Authenticate a Mini App session
// @Description Validates Telegram init data and returns a bearer token when the Telegram account is linked.
// @Tags telegram
// @Produce json
// @Param initData query string true "Signed Telegram Mini App init data"
// @Success 200 {object} AuthResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 500 {object} middleware.ErrorResponse
// @Router /api/telegram/auth [get]
func (h *TelegramHandlers) Auth(c *gin.Context) {
	chat, ok := middleware.ChatIdentity(c)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	rec, err := h.identities.ResolveOrCreate(c.Request.Context(), chat)
	if err != nil {
		middleware.WriteError(c, middleware.StatusFor(err), err)
		return
	}
	if !rec.IsLinked() {
		c.JSON(http.StatusOK, AuthResponse{Linked: false, TelegramID: rec.TelegramID})
		return
	}

	tok, err := h.tokens.Issue(*rec.UserID, tokensvc.AudienceTelegram)
	if err != nil {
		middleware.WriteError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, AuthResponse{Token: tok.Value, Linked: true})
}

// Link godoc
// @Summary Link a Telegram account to an EventApp account
// @Description Verifies EventApp credentials and links them to the Telegram user. Every failure is reported as 400.
// @Tags telegram
// @Accept json
// @Produce json
// @Param request body LinkRequest true "Telegram id and EventApp credentials"
// @Success 200 {object} LinkResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Router /api/telegram/link [post]
func (h *TelegramHandlers) Link(c *gin.Context) {
	var req LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.WriteError(c, http.StatusBadRequest, validation.FromBindingError(err))
		return
	}

	chat := idmodels.ChatIdentity{TelegramID: req.TelegramID}
	user, tok, err := h.linker.LinkWithCredentials(c.Request.Context(), chat, req.Email, req.Password)
	if err != nil {
		middleware.WriteError(c, http.StatusBadRequest, err)
		return
	}

	c.JSON(http.StatusOK, LinkResponse{
		Token: tok.Value,
		User:  LinkedUser{ID: user.ID, Name: user.Name, Email: user.Email},
	})
}
