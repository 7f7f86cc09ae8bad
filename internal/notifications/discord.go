package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Discord is a simple Discord webhook notifier for ops alerts.
type Discord struct {
	webhookURL string
	logger     *log.Logger
	client     *http.Client
}

// NewDiscord creates a new Discord notifier. If webhookURL is empty,
// notifications are silently skipped.
func NewDiscord(webhookURL string, logger *log.Logger) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		logger:     logger,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled returns true if the webhook is configured.
func (d *Discord) Enabled() bool {
	return d != nil && d.webhookURL != ""
}

// discordMessage is the payload for Discord webhook.
type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// send posts a message to Discord webhook asynchronously.
// Errors are logged but don't affect caller.
func (d *Discord) send(ctx context.Context, msg discordMessage) {
	if !d.Enabled() {
		return
	}

	go func() {
		body, err := json.Marshal(msg)
		if err != nil {
			d.logger.Printf("discord: failed to marshal message: %v", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", d.webhookURL, bytes.NewReader(body))
		if err != nil {
			d.logger.Printf("discord: failed to create request: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			d.logger.Printf("discord: failed to send webhook: %v", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			d.logger.Printf("discord: webhook returned status %d", resp.StatusCode)
		}
	}()
}

// NotifyHardStop sends an alert when a session is frozen at the daily cap.
// Hard stops are normal for free users but a spike usually means the caps
// or the day-bucket rollover are misconfigured.
func (d *Discord) NotifyHardStop(ctx context.Context, ownerKind, ownerID string, usedSeconds int) {
	msg := discordMessage{
		Embeds: []discordEmbed{{
			Title:       "Session hard stop",
			Description: "A session hit its daily cap and was frozen.",
			Color:       0xFFA500, // Orange
			Fields: []embedField{
				{Name: "Owner", Value: fmt.Sprintf("`%s:%s`", ownerKind, ownerID), Inline: true},
				{Name: "Used", Value: fmt.Sprintf("%ds", usedSeconds), Inline: true},
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	}
	d.send(ctx, msg)
}

// NotifyProviderError sends an alert when an STT/LLM/TTS vendor call fails
// mid-session.
func (d *Discord) NotifyProviderError(ctx context.Context, provider, sessionID string, cause error) {
	msg := discordMessage{
		Embeds: []discordEmbed{{
			Title:       "Voice provider error",
			Description: fmt.Sprintf("`%s` failed mid-session: %v", provider, cause),
			Color:       0xFF0000, // Red
			Fields: []embedField{
				{Name: "Session", Value: fmt.Sprintf("`%s`", sessionID), Inline: true},
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	}
	d.send(ctx, msg)
}

// NotifyUsageDigest posts the periodic usage roll-up.
func (d *Discord) NotifyUsageDigest(ctx context.Context, sessions int, totalCostCents int, window time.Duration) {
	msg := discordMessage{
		Embeds: []discordEmbed{{
			Title: "Usage digest",
			Description: fmt.Sprintf("%d sessions ended in the last %s, estimated cost %d.%02d USD.",
				sessions, window, totalCostCents/100, totalCostCents%100),
			Color:     0x00FF00, // Green
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	}
	d.send(ctx, msg)
}
