package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Discord embed limits.
const (
	discordTitleMax = 256
	discordDescMax  = 4096
)

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
}

type discordWebhook struct {
	Embeds          []discordEmbed `json:"embeds"`
	AllowedMentions struct {
		Parse []string `json:"parse"`
	} `json:"allowed_mentions"`
}

// DiscordSender posts each notification as a single embed to a webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: senderTimeout},
		now:        time.Now,
	}
}

func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	msg := discordWebhook{Embeds: []discordEmbed{{
		Title:       truncate(title, discordTitleMax),
		Description: truncate(message, discordDescMax),
		Timestamp:   d.now().UTC().Format(time.RFC3339),
	}}}
	// Empty, not null: Discord then resolves no mentions at all.
	msg.AllowedMentions.Parse = []string{}

	if err := postJSON(ctx, d.client, d.webhookURL, msg); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
