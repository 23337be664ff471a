package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
)

const (
	telegramAPI = "https://api.telegram.org"
	// telegramTextMax is the Bot API limit on message text.
	telegramTextMax = 4096
)

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// TelegramSender sends through the Bot API sendMessage method. Text goes out
// as HTML with both parts escaped, so identifiers like stop_loss survive.
type TelegramSender struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPI,
		client:  &http.Client{Timeout: senderTimeout},
	}
}

func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	text := "<b>" + html.EscapeString(title) + "</b>\n" + html.EscapeString(message)
	msg := telegramMessage{
		ChatID:                t.chatID,
		Text:                  truncate(text, telegramTextMax),
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	}
	endpoint := t.baseURL + "/bot" + t.token + "/sendMessage"
	if err := postJSON(ctx, t.client, endpoint, msg); err != nil {
		// Errors never carry the bot token.
		return fmt.Errorf("telegram: chat %s: %w", t.chatID, redactToken(err, t.token))
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }
