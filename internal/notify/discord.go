package notify

import (
	"context"
	"fmt"
)

// DiscordSender delivers alerts via a Discord webhook. Discord returns
// 204 No Content on success.
type DiscordSender struct {
	webhookURL string
}

var _ Sender = (*DiscordSender)(nil)

// NewDiscordSender creates a sender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL}
}

// Send posts a message to the webhook, title rendered in bold.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, "discord", d.webhookURL, map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }
