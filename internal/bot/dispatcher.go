package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"

	"eventapp-telegram-bot/internal/common/errors"
	"eventapp-telegram-bot/internal/common/logger"
	idmodels "eventapp-telegram-bot/internal/features/identity/models"
	linksvc "eventapp-telegram-bot/internal/features/linking/service"
	"eventapp-telegram-bot/internal/metrics"
	"eventapp-telegram-bot/internal/service/telegram"
)

// EventKind distinguishes the three inbound event shapes.
type EventKind string

const (
	KindCommand  EventKind = "command"
	KindCallback EventKind = "callback"
	KindText     EventKind = "text"
)

// Event is a normalized inbound chat event.
type Event struct {
	Kind EventKind
	// Name is the command name without the marker, or the callback action id.
	Name       string
	Text       string
	ChatID     int64
	CallbackID string
	From       idmodels.ChatIdentity
}

// EventFromUpdate converts a Bot API update. Updates without a sender or
// without text are not events for this bot.
func EventFromUpdate(u telegram.Update) (Event, bool) {
	if cq := u.CallbackQuery; cq != nil {
		if cq.From == nil {
			return Event{}, false
		}
		chatID := cq.From.ID
		if cq.Message != nil && cq.Message.Chat != nil {
			chatID = cq.Message.Chat.ID
		}
		return Event{
			Kind:       KindCallback,
			Name:       cq.Data,
			ChatID:     chatID,
			CallbackID: cq.ID,
			From:       identityOf(cq.From),
		}, true
	}

	msg := u.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || msg.Text == "" {
		return Event{}, false
	}
	ev := Event{
		Kind:   KindText,
		Text:   msg.Text,
		ChatID: msg.Chat.ID,
		From:   identityOf(msg.From),
	}
	if name, ok := commandName(msg.Text); ok {
		ev.Kind = KindCommand
		ev.Name = name
	}
	return ev, true
}

// commandName parses "/name@bot args" into "name".
func commandName(text string) (string, bool) {
	if !strings.HasPrefix(text, linksvc.CommandMarker) {
		return "", false
	}
	fields := strings.Fields(strings.TrimPrefix(text, linksvc.CommandMarker))
	if len(fields) == 0 {
		return "", true
	}
	name, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(name), true
}

func identityOf(u *telegram.User) idmodels.ChatIdentity {
	return idmodels.ChatIdentity{
		TelegramID:   u.ID,
		Username:     u.Username,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		LanguageCode: u.LanguageCode,
	}
}

// Sender is the outbound side of the chat platform.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

type HandlerFunc func(ctx context.Context, ev Event) error

// Dispatcher routes events through three tables: commands by name,
// callbacks by action id, and a single free-text handler.
type Dispatcher struct {
	sender    Sender
	commands  map[string]HandlerFunc
	callbacks map[string]HandlerFunc
	text      HandlerFunc
	metrics   metrics.Recorder
	log       zerolog.Logger
}

func NewDispatcher(sender Sender, recorder metrics.Recorder) *Dispatcher {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Dispatcher{
		sender:    sender,
		commands:  make(map[string]HandlerFunc),
		callbacks: make(map[string]HandlerFunc),
		metrics:   recorder,
		log:       logger.Component("dispatcher"),
	}
}

func (d *Dispatcher) Command(name string, fn HandlerFunc) {
	d.commands[name] = fn
}

func (d *Dispatcher) Callback(action string, fn HandlerFunc) {
	d.callbacks[action] = fn
}

func (d *Dispatcher) Text(fn HandlerFunc) {
	d.text = fn
}

// Dispatch handles one event to completion. It never panics: a handler
// panic is logged and the event dropped. Callback queries are acknowledged
// exactly once, whatever the handler did.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	d.metrics.RecordUpdate(string(ev.Kind))
	if ev.Kind == KindCallback {
		defer d.ack(ctx, ev)
	}
	defer d.recoverPanic(ev)

	var fn HandlerFunc
	switch ev.Kind {
	case KindCommand:
		fn = d.commands[ev.Name]
	case KindCallback:
		fn = d.callbacks[ev.Name]
	case KindText:
		fn = d.text
	}
	if fn == nil {
		d.log.Debug().
			Str("kind", string(ev.Kind)).
			Str("action", ev.Name).
			Int64("telegram_id", ev.From.TelegramID).
			Msg("No handler, ignoring event")
		return
	}

	if err := fn(ctx, ev); err != nil {
		d.fail(ctx, ev, err)
	}
}

func (d *Dispatcher) ack(ctx context.Context, ev Event) {
	if err := d.sender.AnswerCallbackQuery(ctx, ev.CallbackID, ""); err != nil {
		d.log.Warn().Err(err).
			Str("action", ev.Name).
			Int64("telegram_id", ev.From.TelegramID).
			Msg("Failed to acknowledge callback")
	}
}

func (d *Dispatcher) recoverPanic(ev Event) {
	if r := recover(); r != nil {
		d.metrics.RecordDroppedEvent("panic")
		d.log.Error().
			Str("kind", string(ev.Kind)).
			Str("action", ev.Name).
			Int64("telegram_id", ev.From.TelegramID).
			Int64("chat_id", ev.ChatID).
			Str("panic", fmt.Sprint(r)).
			Bytes("stack", debug.Stack()).
			Msg("Handler panicked, event dropped")
	}
}

// fail logs a handler error and reports it to the chat as a diagnostic.
func (d *Dispatcher) fail(ctx context.Context, ev Event, err error) {
	f, ok := err.(*failure)
	if !ok {
		f = defaultFailure(ev, err)
	}

	d.log.Error().Err(f.err).
		Str("kind", string(ev.Kind)).
		Str("action", ev.Name).
		Int64("telegram_id", ev.From.TelegramID).
		Int64("chat_id", ev.ChatID).
		Str("error_code", string(errors.CodeOf(f.err))).
		Msg(f.title)

	text := Diagnostic(f.title, f.err, footerRetry, f.lines...)
	if sendErr := d.sender.SendMessage(ctx, ev.ChatID, text, nil); sendErr != nil {
		d.log.Error().Err(sendErr).Int64("chat_id", ev.ChatID).Msg("Failed to send error message")
	}
}

// failure carries the presentation of a handler error.
type failure struct {
	title string
	lines []string
	err   error
}

func (f *failure) Error() string { return f.title + ": " + f.err.Error() }
func (f *failure) Unwrap() error { return f.err }

func fail(err error, title string, lines ...string) error {
	return &failure{title: title, lines: lines, err: err}
}

func defaultFailure(ev Event, err error) *failure {
	switch ev.Kind {
	case KindCallback:
		return &failure{
			title: "Error occurred while processing your request",
			lines: []string{"🎯 Action: " + ev.Name},
			err:   err,
		}
	case KindText:
		return &failure{title: "Error occurred while processing your message", err: err}
	default:
		return &failure{title: "Error occurred while processing your command", err: err}
	}
}
