package notify

import (
	"context"
	"net/http"
	"time"
)

// discordMaxContent is Discord's per-message character limit.
const discordMaxContent = 2000

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the title in bold followed by the message. Item names such as
// "StatTrak™ AWP | Asiimov" are sent verbatim; mentions are disabled so a
// name can never ping a channel.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]any{
		"content":          truncate("**"+title+"**\n"+message, discordMaxContent),
		"allowed_mentions": map[string]any{"parse": []string{}},
	})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
