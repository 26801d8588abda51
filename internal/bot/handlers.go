package bot

import (
	"context"

	"github.com/rs/zerolog"

	"eventapp-telegram-bot/internal/common/logger"
	idmodels "eventapp-telegram-bot/internal/features/identity/models"
	linksvc "eventapp-telegram-bot/internal/features/linking/service"
	tokensvc "eventapp-telegram-bot/internal/features/token/service"
	"eventapp-telegram-bot/internal/service/eventapp"
)

type IdentityResolver interface {
	ResolveOrCreate(ctx context.Context, c idmodels.ChatIdentity) (*idmodels.Record, error)
}

type Linker interface {
	BeginLinking(ctx context.Context, rec *idmodels.Record) (*linksvc.Result, error)
	HandleText(ctx context.Context, rec *idmodels.Record, text string) (*linksvc.Result, error)
	InProgress(ctx context.Context, telegramID int64) (bool, error)
	Cancel(ctx context.Context, telegramID int64) (bool, error)
}

type TokenIssuer interface {
	Issue(userID int64, audience string) (*tokensvc.Token, error)
}

type EventsClient interface {
	GetMyEvents(ctx context.Context, bearer string) ([]eventapp.Event, error)
	BaseURL() string
}

// Handlers implements the bot's commands, buttons and the linking dialog replies.
type Handlers struct {
	sender    Sender
	resolver  IdentityResolver
	linker    Linker
	tokens    TokenIssuer
	events    EventsClient
	keyboards Keyboards
	log       zerolog.Logger
}

func NewHandlers(
	sender Sender,
	resolver IdentityResolver,
	linker Linker,
	tokens TokenIssuer,
	events EventsClient,
	miniAppURL string,
) *Handlers {
	return &Handlers{
		sender:    sender,
		resolver:  resolver,
		linker:    linker,
		tokens:    tokens,
		events:    events,
		keyboards: Keyboards{MiniAppURL: miniAppURL},
		log:       logger.Component("bot"),
	}
}

// Register wires every command and button into d.
func (h *Handlers) Register(d *Dispatcher) {
	d.Command("start", h.start)
	d.Command("link", h.link)
	d.Command("cancel", h.cancel)
	d.Command("events", h.myEvents)
	d.Command("settings", h.settings)

	d.Callback(ActionLinkAccount, h.link)
	d.Callback(ActionMyEvents, h.myEvents)
	d.Callback(ActionBrowseEvents, h.browse)
	d.Callback(ActionSettings, h.settings)
	d.Callback(ActionBackToMenu, h.menu)

	d.Text(h.dialogText)
}

func (h *Handlers) send(ctx context.Context, ev Event, text string) error {
	return h.sender.SendMessage(ctx, ev.ChatID, text, nil)
}

func (h *Handlers) start(ctx context.Context, ev Event) error {
	if _, err := h.resolver.ResolveOrCreate(ctx, ev.From); err != nil {
		return fail(err, "Error occurred while starting the bot")
	}
	return h.menu(ctx, ev)
}

func (h *Handlers) menu(ctx context.Context, ev Event) error {
	return h.sender.SendMessage(ctx, ev.ChatID, msgWelcome, h.keyboards.MainMenu())
}

func (h *Handlers) link(ctx context.Context, ev Event) error {
	rec, err := h.resolver.ResolveOrCreate(ctx, ev.From)
	if err != nil {
		return err
	}
	res, err := h.linker.BeginLinking(ctx, rec)
	if err != nil {
		return err
	}
	if res.Step == linksvc.StepAlreadyLinked {
		return h.send(ctx, ev, msgAlreadyLinked)
	}
	return h.send(ctx, ev, msgAskEmail)
}

func (h *Handlers) cancel(ctx context.Context, ev Event) error {
	cancelled, err := h.linker.Cancel(ctx, ev.From.TelegramID)
	if err != nil {
		return err
	}
	if !cancelled {
		return h.send(ctx, ev, msgNothingToClear)
	}
	return h.send(ctx, ev, msgCancelled)
}

func (h *Handlers) myEvents(ctx context.Context, ev Event) error {
	const title = "Error occurred while loading your events"
	apiLine := "🌐 API URL: " + orNotSet(h.events.BaseURL())

	rec, err := h.resolver.ResolveOrCreate(ctx, ev.From)
	if err != nil {
		return fail(err, title, apiLine)
	}
	if !rec.IsLinked() {
		return h.send(ctx, ev, msgLinkFirst)
	}

	tok, err := h.tokens.Issue(*rec.UserID, tokensvc.AudienceTelegram)
	if err != nil {
		return fail(err, title, apiLine)
	}
	events, err := h.events.GetMyEvents(ctx, tok.Value)
	if err != nil {
		return fail(err, title, apiLine)
	}
	if len(events) == 0 {
		return h.send(ctx, ev, msgNoEvents)
	}
	return h.send(ctx, ev, eventsMessage(events))
}

func (h *Handlers) browse(ctx context.Context, ev Event) error {
	text := msgBrowse
	if h.keyboards.MiniAppURL == "" {
		text = msgBrowseNoApp
	}
	return h.sender.SendMessage(ctx, ev.ChatID, text, h.keyboards.Browse())
}

func (h *Handlers) settings(ctx context.Context, ev Event) error {
	rec, err := h.resolver.ResolveOrCreate(ctx, ev.From)
	if err != nil {
		return fail(err, "Error occurred while loading settings")
	}
	return h.sender.SendMessage(ctx, ev.ChatID,
		settingsMessage(rec.IsLinked(), ev.From.Username), h.keyboards.Settings())
}

// dialogText feeds free text to the linking dialog. Text outside a dialog
// is ignored. The message itself is never echoed back or logged, since at
// the password step it is a password.
func (h *Handlers) dialogText(ctx context.Context, ev Event) error {
	inDialog, err := h.linker.InProgress(ctx, ev.From.TelegramID)
	if err != nil {
		return err
	}
	if !inDialog {
		return nil
	}

	rec, err := h.resolver.ResolveOrCreate(ctx, ev.From)
	if err != nil {
		return err
	}
	res, err := h.linker.HandleText(ctx, rec, ev.Text)
	if err != nil {
		return err
	}

	switch res.Step {
	case linksvc.StepIgnored:
		return nil
	case linksvc.StepInvalidEmail:
		return h.send(ctx, ev, msgInvalidEmail)
	case linksvc.StepAwaitingPassword:
		return h.send(ctx, ev, msgEmailReceived)
	case linksvc.StepInvalidPassword:
		return h.send(ctx, ev, msgInvalidPassword)
	case linksvc.StepRateLimited:
		return h.send(ctx, ev, rateLimitedMessage(res.Err))
	case linksvc.StepAlreadyLinked:
		return h.send(ctx, ev, msgAlreadyLinked)
	case linksvc.StepLinkFailed:
		h.log.Info().
			Int64("telegram_id", ev.From.TelegramID).
			Str("error_code", string(res.Err.Code)).
			Msg("Account linking attempt rejected")
		return h.send(ctx, ev, Diagnostic("Failed to link account", res.Err,
			footerLink+"\n\n"+"Please enter your EventApp email address:",
			"📧 Email: "+res.Email))
	case linksvc.StepLinked:
		name := ""
		if res.User != nil {
			name = res.User.Name
		}
		return h.sender.SendMessage(ctx, ev.ChatID, linkedMessage(name), h.keyboards.Linked())
	default:
		h.log.Warn().Str("step", string(res.Step)).Msg("Unhandled linking step")
		return nil
	}
}
