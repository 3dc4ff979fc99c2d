package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"fleetpilot-backend/internal/models"
)

// SlackClient mirrors email notifications into a Slack channel.
type SlackClient struct {
	webhookURL string
	client     *http.Client
}

type SlackMessage struct {
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks"`
}

type Block struct {
	Type string `json:"type"`
	Text *Text  `json:"text,omitempty"`
}

type Text struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

func NewSlackClient(webhookURL string) *SlackClient {
	return &SlackClient{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *SlackClient) Send(ctx context.Context, _ *models.CoreSettings, n models.Notification) error {
	if c.webhookURL == "" {
		log.Debug("no slack webhook configured, skipping mirror")
		return nil
	}
	return c.sendMessage(ctx, buildSlackMessage(n))
}

func buildSlackMessage(n models.Notification) SlackMessage {
	return SlackMessage{
		Text: n.Subject,
		Blocks: []Block{
			{
				Type: "header",
				Text: &Text{Type: "plain_text", Text: n.Subject, Emoji: true},
			},
			{
				Type: "section",
				Text: &Text{Type: "mrkdwn", Text: n.Body},
			},
		},
	}
}

func (c *SlackClient) sendMessage(ctx context.Context, message SlackMessage) error {
	reqBody, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack error: %s", string(body))
	}

	return nil
}
