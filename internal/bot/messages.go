package bot

import (
	"fmt"
	"strings"
	"time"

	"eventapp-telegram-bot/internal/common/errors"
	"eventapp-telegram-bot/internal/service/eventapp"
	"eventapp-telegram-bot/internal/service/telegram"
)

// Callback action identifiers.
const (
	ActionLinkAccount     = "link_account"
	ActionMyEvents        = "my_events"
	ActionBrowseEvents    = "browse_events"
	ActionSettings        = "settings"
	ActionBackToMenu      = "back_to_menu"
	ActionNotifications   = "notifications"
	ActionLanguage        = "language"
	ActionAccountSettings = "account_settings"
)

const (
	msgWelcome = "🎉 Welcome to EventApp Bot!\n\n" +
		"This bot helps you manage and discover events. You can:\n\n" +
		"📱 Use our Mini App to browse events\n" +
		"🔗 Link your existing EventApp account\n" +
		"📅 Get event notifications\n" +
		"🎫 Manage your tickets\n\n" +
		"Choose an option below:"

	msgAlreadyLinked   = "✅ Your account is already linked!"
	msgAskEmail        = "🔗 Let's link your EventApp account!\n\nPlease enter your EventApp email address:"
	msgInvalidEmail    = "❌ Please enter a valid email address:"
	msgEmailReceived   = "✅ Email received!\n\nNow please enter your EventApp password:"
	msgInvalidPassword = "❌ Please enter your EventApp password:"
	msgLinkFirst       = "❌ Please link your EventApp account first.\n\n" +
		"Use the \"🔗 Link Account\" option to connect your account."
	msgNoEvents       = "📅 You don't have any events yet."
	msgBrowse         = "🔍 Browse Events\n\nClick the button below to open our Mini App and browse all available events:"
	msgBrowseNoApp    = "🔍 Browse Events\n\nThe Mini App is not available right now."
	msgCancelled      = "❎ Account linking cancelled."
	msgNothingToClear = "There is nothing to cancel."

	footerRetry = "Please try again or contact support if the problem persists."
	footerLink  = "Please check your email and password, or make sure you have an EventApp account."
)

// Keyboards builds the inline keyboards. Mini App buttons are left out when
// no Mini App URL is configured, since Telegram rejects empty web_app URLs.
type Keyboards struct {
	MiniAppURL string
}

func (k Keyboards) miniAppRow() [][]telegram.InlineKeyboardButton {
	if k.MiniAppURL == "" {
		return nil
	}
	return [][]telegram.InlineKeyboardButton{{
		{Text: "📱 Open Mini App", WebApp: &telegram.WebAppInfo{URL: k.MiniAppURL}},
	}}
}

func callbackButton(text, action string) telegram.InlineKeyboardButton {
	return telegram.InlineKeyboardButton{Text: text, CallbackData: action}
}

func (k Keyboards) MainMenu() *telegram.InlineKeyboardMarkup {
	rows := k.miniAppRow()
	rows = append(rows,
		[]telegram.InlineKeyboardButton{
			callbackButton("🔗 Link Account", ActionLinkAccount),
			callbackButton("📅 My Events", ActionMyEvents),
		},
		[]telegram.InlineKeyboardButton{
			callbackButton("🔍 Browse Events", ActionBrowseEvents),
			callbackButton("⚙️ Settings", ActionSettings),
		},
	)
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func (k Keyboards) Browse() *telegram.InlineKeyboardMarkup {
	rows := k.miniAppRow()
	rows = append(rows, []telegram.InlineKeyboardButton{callbackButton("🔙 Back to Menu", ActionBackToMenu)})
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func (k Keyboards) Settings() *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{callbackButton("🔔 Notifications", ActionNotifications), callbackButton("🌐 Language", ActionLanguage)},
		{callbackButton("🔗 Account Settings", ActionAccountSettings)},
		{callbackButton("🔙 Back to Menu", ActionBackToMenu)},
	}}
}

// Linked is shown after a successful link.
func (k Keyboards) Linked() *telegram.InlineKeyboardMarkup {
	rows := k.miniAppRow()
	rows = append(rows, []telegram.InlineKeyboardButton{
		callbackButton("📅 My Events", ActionMyEvents),
		callbackButton("🔍 Browse Events", ActionBrowseEvents),
	})
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func linkedMessage(name string) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("✅ Account linked successfully!\n\nWelcome back, %s! 🎉\n\nYou can now use all bot features.", name)
}

func settingsMessage(linked bool, username string) string {
	status := "❌ Not linked"
	if linked {
		status = "✅ Linked"
	}
	if username == "" {
		username = "N/A"
	}
	return fmt.Sprintf("⚙️ Settings\n\nAccount Status: %s\nUsername: @%s\n\nChoose an option:", status, username)
}

func rateLimitedMessage(err *errors.AppError) string {
	wait, _ := err.Details["retry_after"].(string)
	if wait == "" {
		return "⏳ Too many attempts. Please wait a minute and try again."
	}
	return fmt.Sprintf("⏳ Too many attempts. Please wait %s and try again.", wait)
}

func eventsMessage(events []eventapp.Event) string {
	var b strings.Builder
	b.WriteString("📅 Your Events:\n\n")
	for i, e := range events {
		fmt.Fprintf(&b, "%d. %s\n", i+1, e.Title)
		date := e.Date
		if t, ok := e.StartsAt(); ok {
			date = t.Format("Jan 2, 2006")
		}
		fmt.Fprintf(&b, "   📅 %s\n", date)
		fmt.Fprintf(&b, "   📍 %s\n\n", e.Location)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Diagnostic renders a failure for the chat: what went wrong, the error
// code (UNKNOWN when there is none), optional context lines and the time.
func Diagnostic(title string, err error, footer string, contextLines ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "❌ %s\n\n", title)
	fmt.Fprintf(&b, "🔍 Error details: %s\n", errors.Describe(err))
	fmt.Fprintf(&b, "📋 Error code: %s\n", errors.CodeOf(err))
	for _, line := range contextLines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "⏰ Time: %s", errors.TimestampOf(err).Format(time.RFC3339))
	if footer != "" {
		b.WriteString("\n\n")
		b.WriteString(footer)
	}
	return b.String()
}

func orNotSet(s string) string {
	if s == "" {
		return "NOT_SET"
	}
	return s
}
