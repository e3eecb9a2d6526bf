package notify

import (
	"context"
	"html"
	"net/http"
	"time"
)

const (
	telegramAPI = "https://api.telegram.org"

	// telegramMaxText is the sendMessage limit after entity parsing.
	telegramMaxText = 4096
)

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts a message to the configured chat. The title is bold; item names
// may contain markup characters, so both parts are HTML-escaped. The body is
// truncated before escaping so an entity is never split.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	body := truncate(message, telegramMaxText-len([]rune(title))-8)
	return postJSON(ctx, t.client, "telegram", t.apiBase+"/bot"+t.token+"/sendMessage", map[string]any{
		"chat_id":                  t.chatID,
		"text":                     "<b>" + html.EscapeString(title) + "</b>\n" + html.EscapeString(body),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
