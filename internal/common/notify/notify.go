// Package notify posts run summaries to a Discord webhook. A client
// with no webhook URL is a no-op, so callers never need to guard.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type WebhookMessage struct {
	Content string  `json:"content"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

type Embed struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Color       int       `json:"color"`
	Timestamp   time.Time `json:"timestamp"`
	Fields      []Field   `json:"fields,omitempty"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type Client struct {
	webhookURL string
	httpClient *http.Client
}

func NewClient(webhookURL string) *Client {
	return &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) SendMessage(msg WebhookMessage) error {
	if c.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook message: %w", err)
	}

	req, err := http.NewRequest("POST", c.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook request failed with status: %d", resp.StatusCode)
	}

	return nil
}

// SendRunSummary posts one embed summarizing a finished job run.
func (c *Client) SendRunSummary(jobName string, failed bool, fields map[string]string) error {
	color := 0x2ECC71 // green
	title := fmt.Sprintf("✅ %s completed", jobName)
	if failed {
		color = 0xFF0000
		title = fmt.Sprintf("❌ %s completed with failures", jobName)
	}

	embed := Embed{
		Title:     title,
		Color:     color,
		Timestamp: time.Now(),
	}
	for name, value := range fields {
		embed.Fields = append(embed.Fields, Field{Name: name, Value: value, Inline: true})
	}

	return c.SendMessage(WebhookMessage{Embeds: []Embed{embed}})
}
