package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Embed colors by level
const (
	colorInfo     = 0x00FF00
	colorWarning  = 0xFFA500
	colorCritical = 0xFF0000
)

// DiscordSink posts notifications to a Discord webhook
type DiscordSink struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSink creates a sink for webhookURL. A nil client uses a 10s-timeout default.
func NewDiscordSink(webhookURL string, client *http.Client) *DiscordSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &DiscordSink{webhookURL: webhookURL, client: client}
}

func (d *DiscordSink) Name() string { return "discord" }

type discordEmbed struct {
	Color       int     `json:"color"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
	Timestamp   string  `json:"timestamp"`
}

type discordPayload struct {
	Content string         `json:"content"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

func embedColor(level Level) int {
	switch level {
	case LevelCritical:
		return colorCritical
	case LevelWarning:
		return colorWarning
	default:
		return colorInfo
	}
}

func buildDiscordPayload(n *Notification) discordPayload {
	return discordPayload{
		Content: n.Message,
		Embeds: []discordEmbed{{
			Color:       embedColor(n.Level),
			Title:       n.Title,
			Description: n.Description,
			Fields:      n.Fields,
			Timestamp:   n.Timestamp.UTC().Format(time.RFC3339),
		}},
	}
}

func (d *DiscordSink) Send(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(buildDiscordPayload(n))
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post discord webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}
