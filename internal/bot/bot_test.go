package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"eventapp-telegram-bot/internal/common/errors"
	accmodels "eventapp-telegram-bot/internal/features/account/models"
	idmodels "eventapp-telegram-bot/internal/features/identity/models"
	linksvc "eventapp-telegram-bot/internal/features/linking/service"
	"eventapp-telegram-bot/internal/features/session/repository/memory"
	tokensvc "eventapp-telegram-bot/internal/features/token/service"
	"eventapp-telegram-bot/internal/service/eventapp"
	"eventapp-telegram-bot/internal/service/telegram"
)

type sentMessage struct {
	chatID int64
	text   string
	markup *telegram.InlineKeyboardMarkup
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	acks []string
}

func (f *fakeSender) SendMessage(_ context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, markup: markup})
	return nil
}

func (f *fakeSender) AnswerCallbackQuery(_ context.Context, callbackID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, callbackID)
	return nil
}

func (f *fakeSender) last(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

// memIdentities resolves and links identities in memory.
type memIdentities struct {
	mu      sync.Mutex
	records map[int64]*idmodels.Record
	err     error
}

func newMemIdentities() *memIdentities {
	return &memIdentities{records: map[int64]*idmodels.Record{}}
}

func (m *memIdentities) ResolveOrCreate(_ context.Context, c idmodels.ChatIdentity) (*idmodels.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.records[c.TelegramID]
	if !ok {
		rec = &idmodels.Record{TelegramID: c.TelegramID}
		m.records[c.TelegramID] = rec
	}
	rec.Username, rec.FirstName, rec.LastName = c.Username, c.FirstName, c.LastName
	cp := *rec
	return &cp, nil
}

func (m *memIdentities) Link(_ context.Context, c idmodels.ChatIdentity, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[c.TelegramID]
	if !ok {
		rec = &idmodels.Record{TelegramID: c.TelegramID}
		m.records[c.TelegramID] = rec
	}
	rec.UserID = &userID
	return nil
}

type fakeAccounts map[string]*accmodels.User

func (f fakeAccounts) GetByEmail(_ context.Context, email string) (*accmodels.User, error) {
	return f[strings.ToLower(email)], nil
}

type fakeEvents struct {
	bearer string
	events []eventapp.Event
	err    error
}

func (f *fakeEvents) GetMyEvents(_ context.Context, bearer string) ([]eventapp.Event, error) {
	f.bearer = bearer
	return f.events, f.err
}

func (f *fakeEvents) BaseURL() string { return "https://api.eventapp.test" }

type countingRecorder struct {
	mu      sync.Mutex
	dropped []string
}

func (c *countingRecorder) RecordUpdate(string)                      {}
func (c *countingRecorder) RecordLinkOutcome(string)                 {}
func (c *countingRecorder) RecordSessionEvictions(int)               {}
func (c *countingRecorder) RecordUpstreamRequest(int, time.Duration) {}
func (c *countingRecorder) RecordDroppedEvent(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped = append(c.dropped, reason)
}

type harness struct {
	dispatcher *Dispatcher
	sender     *fakeSender
	identities *memIdentities
	events     *fakeEvents
	issuer     *tokensvc.Issuer
	recorder   *countingRecorder
}

func newHarness(t *testing.T, miniAppURL string) *harness {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	issuer, err := tokensvc.NewIssuer("bot-test-secret", time.Hour)
	require.NoError(t, err)

	h := &harness{
		sender:     &fakeSender{},
		identities: newMemIdentities(),
		events:     &fakeEvents{},
		issuer:     issuer,
		recorder:   &countingRecorder{},
	}
	accounts := fakeAccounts{"user@x.com": {ID: 42, Email: "user@x.com", Name: "Dana", PasswordHash: string(hash)}}
	linker := linksvc.NewService(memory.New(time.Hour, 100), h.identities, accounts, issuer, nil, nil)

	h.dispatcher = NewDispatcher(h.sender, h.recorder)
	NewHandlers(h.sender, h.identities, linker, issuer, h.events, miniAppURL).Register(h.dispatcher)
	return h
}

var alice = idmodels.ChatIdentity{TelegramID: 100, Username: "alice", FirstName: "Alice"}

func textEvent(text string) Event {
	ev := Event{Kind: KindText, Text: text, ChatID: 100, From: alice}
	if name, ok := commandName(text); ok {
		ev.Kind, ev.Name = KindCommand, name
	}
	return ev
}

func callbackEvent(action string) Event {
	return Event{Kind: KindCallback, Name: action, ChatID: 100, CallbackID: "cb-" + action, From: alice}
}

func TestEventFromUpdate(t *testing.T) {
	from := &telegram.User{ID: 7, Username: "bob"}
	chat := &telegram.Chat{ID: 70}

	ev, ok := EventFromUpdate(telegram.Update{Message: &telegram.Message{From: from, Chat: chat, Text: "/Start@EventAppBot payload"}})
	require.True(t, ok)
	assert.Equal(t, KindCommand, ev.Kind)
	assert.Equal(t, "start", ev.Name)
	assert.Equal(t, int64(70), ev.ChatID)
	assert.Equal(t, "bob", ev.From.Username)

	ev, ok = EventFromUpdate(telegram.Update{Message: &telegram.Message{From: from, Chat: chat, Text: "user@x.com"}})
	require.True(t, ok)
	assert.Equal(t, KindText, ev.Kind)

	ev, ok = EventFromUpdate(telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID: "q1", From: from, Data: ActionMyEvents, Message: &telegram.Message{Chat: chat},
	}})
	require.True(t, ok)
	assert.Equal(t, KindCallback, ev.Kind)
	assert.Equal(t, ActionMyEvents, ev.Name)
	assert.Equal(t, "q1", ev.CallbackID)
	assert.Equal(t, int64(70), ev.ChatID)

	_, ok = EventFromUpdate(telegram.Update{Message: &telegram.Message{From: from, Chat: chat}})
	assert.False(t, ok, "messages without text are skipped")
}

func TestLinkingDialogThroughDispatcher(t *testing.T) {
	h := newHarness(t, "https://mini.app")
	ctx := context.Background()

	h.dispatcher.Dispatch(ctx, callbackEvent(ActionLinkAccount))
	assert.Equal(t, msgAskEmail, h.sender.last(t).text)
	assert.Equal(t, []string{"cb-" + ActionLinkAccount}, h.sender.acks)

	h.dispatcher.Dispatch(ctx, textEvent("not-an-email"))
	assert.Equal(t, msgInvalidEmail, h.sender.last(t).text)

	h.dispatcher.Dispatch(ctx, textEvent("user@x.com"))
	assert.Equal(t, msgEmailReceived, h.sender.last(t).text)

	h.dispatcher.Dispatch(ctx, textEvent("wrong-password"))
	failed := h.sender.last(t).text
	assert.Contains(t, failed, "Failed to link account")
	assert.Contains(t, failed, "INVALID_CREDENTIALS")
	assert.Contains(t, failed, "📧 Email: user@x.com")
	assert.NotContains(t, failed, "wrong-password")

	h.dispatcher.Dispatch(ctx, textEvent("user@x.com"))
	h.dispatcher.Dispatch(ctx, textEvent("secret123"))
	done := h.sender.last(t)
	assert.Contains(t, done.text, "Welcome back, Dana!")
	require.NotNil(t, done.markup)
	assert.Equal(t, "https://mini.app", done.markup.InlineKeyboard[0][0].WebApp.URL)

	rec := h.identities.records[100]
	require.True(t, rec.IsLinked())
	assert.Equal(t, int64(42), *rec.UserID)

	h.dispatcher.Dispatch(ctx, textEvent("/link"))
	assert.Equal(t, msgAlreadyLinked, h.sender.last(t).text)
}

func TestCommandsNeverAdvanceDialog(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	h.dispatcher.Dispatch(ctx, textEvent("/link"))
	n := len(h.sender.sent)

	h.dispatcher.Dispatch(ctx, textEvent("/user@x.com"))
	assert.Len(t, h.sender.sent, n, "unknown command is a no-op")

	h.dispatcher.Dispatch(ctx, textEvent("user@x.com"))
	assert.Equal(t, msgEmailReceived, h.sender.last(t).text)
}

func TestTextOutsideDialogIsIgnored(t *testing.T) {
	h := newHarness(t, "")
	h.dispatcher.Dispatch(context.Background(), textEvent("hello there"))
	assert.Empty(t, h.sender.sent)
	assert.Empty(t, h.identities.records)
}

func TestCancel(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	h.dispatcher.Dispatch(ctx, textEvent("/cancel"))
	assert.Equal(t, msgNothingToClear, h.sender.last(t).text)

	h.dispatcher.Dispatch(ctx, textEvent("/link"))
	h.dispatcher.Dispatch(ctx, textEvent("/cancel"))
	assert.Equal(t, msgCancelled, h.sender.last(t).text)

	n := len(h.sender.sent)
	h.dispatcher.Dispatch(ctx, textEvent("user@x.com"))
	assert.Len(t, h.sender.sent, n)
}

func TestMyEvents(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	h.dispatcher.Dispatch(ctx, callbackEvent(ActionMyEvents))
	assert.Equal(t, msgLinkFirst, h.sender.last(t).text)

	require.NoError(t, h.identities.Link(ctx, alice, 42))

	h.dispatcher.Dispatch(ctx, callbackEvent(ActionMyEvents))
	assert.Equal(t, msgNoEvents, h.sender.last(t).text)

	claims, ok := h.issuer.Verify(h.events.bearer)
	require.True(t, ok)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, tokensvc.AudienceTelegram, claims.Email)

	h.events.events = []eventapp.Event{
		{Title: "Go Meetup", Date: "2025-03-01T18:00:00Z", Location: "Berlin"},
		{Title: "Launch", Date: "soon", Location: "Online"},
	}
	h.dispatcher.Dispatch(ctx, textEvent("/events"))
	text := h.sender.last(t).text
	assert.Contains(t, text, "1. Go Meetup\n   📅 Mar 1, 2025\n   📍 Berlin")
	assert.Contains(t, text, "2. Launch\n   📅 soon")
}

func TestMyEvents_UpstreamFailureRendersDiagnostic(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	require.NoError(t, h.identities.Link(ctx, alice, 42))
	h.events.err = errors.NewUpstreamAPIError("get my events", 502, assert.AnError)

	h.dispatcher.Dispatch(ctx, callbackEvent(ActionMyEvents))
	text := h.sender.last(t).text
	assert.Contains(t, text, "Error occurred while loading your events")
	assert.Contains(t, text, "📋 Error code: UPSTREAM_API_ERROR")
	assert.Contains(t, text, "🌐 API URL: https://api.eventapp.test")
	assert.Contains(t, text, "⏰ Time: ")
	assert.Len(t, h.sender.acks, 1)
}

func TestStorageFailure_DefaultDiagnostic(t *testing.T) {
	h := newHarness(t, "")
	h.identities.err = assert.AnError

	h.dispatcher.Dispatch(context.Background(), callbackEvent(ActionLinkAccount))
	text := h.sender.last(t).text
	assert.Contains(t, text, "Error occurred while processing your request")
	assert.Contains(t, text, "📋 Error code: UNKNOWN")
	assert.Contains(t, text, "🎯 Action: link_account")
	assert.Equal(t, []string{"cb-link_account"}, h.sender.acks)
}

func TestUnknownCallbackIsAcknowledged(t *testing.T) {
	h := newHarness(t, "")
	h.dispatcher.Dispatch(context.Background(), callbackEvent(ActionNotifications))
	assert.Empty(t, h.sender.sent)
	assert.Equal(t, []string{"cb-notifications"}, h.sender.acks)
}

func TestPanicIsRecoveredAndAcknowledged(t *testing.T) {
	h := newHarness(t, "")
	h.dispatcher.Callback("boom", func(context.Context, Event) error { panic("kaboom") })

	assert.NotPanics(t, func() {
		h.dispatcher.Dispatch(context.Background(), callbackEvent("boom"))
	})
	assert.Equal(t, []string{"cb-boom"}, h.sender.acks)
	assert.Equal(t, []string{"panic"}, h.recorder.dropped)
}

func TestKeyboards_OmitMiniAppWithoutURL(t *testing.T) {
	for _, kb := range []*telegram.InlineKeyboardMarkup{
		Keyboards{}.MainMenu(), Keyboards{}.Browse(), Keyboards{}.Linked(),
	} {
		for _, row := range kb.InlineKeyboard {
			for _, b := range row {
				assert.Nil(t, b.WebApp)
				assert.NotEmpty(t, b.CallbackData)
			}
		}
	}

	menu := Keyboards{MiniAppURL: "https://mini.app"}.MainMenu()
	assert.Equal(t, "https://mini.app", menu.InlineKeyboard[0][0].WebApp.URL)
}

func TestSettingsAndBrowse(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	h.dispatcher.Dispatch(ctx, callbackEvent(ActionSettings))
	assert.Contains(t, h.sender.last(t).text, "Account Status: ❌ Not linked\nUsername: @alice")

	h.dispatcher.Dispatch(ctx, callbackEvent(ActionBrowseEvents))
	assert.Equal(t, msgBrowseNoApp, h.sender.last(t).text)

	h.dispatcher.Dispatch(ctx, callbackEvent(ActionBackToMenu))
	assert.Equal(t, msgWelcome, h.sender.last(t).text)
}

func TestDiagnostic(t *testing.T) {
	err := errors.NewAccountNotFoundError("x@y.io")
	text := Diagnostic("Failed to link account", err, footerLink, "📧 Email: x@y.io")
	assert.True(t, strings.HasPrefix(text, "❌ Failed to link account\n\n🔍 Error details: Account not found\n📋 Error code: ACCOUNT_NOT_FOUND\n📧 Email: x@y.io\n⏰ Time: "))
	assert.True(t, strings.HasSuffix(text, footerLink))
	assert.Contains(t, text, err.Timestamp.Format(time.RFC3339))
}
