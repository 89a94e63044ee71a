package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/LeventeLantos/contact-relay/internal/model"
)

// WebhookClient posts a batch of delivered contact messages as JSON. The
// "text" field makes the payload usable by chat webhooks as-is.
type WebhookClient struct {
	url    string
	client *http.Client
}

func NewWebhookClient(url string) *WebhookClient {
	return &WebhookClient{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type webhookEntry struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type webhookRequest struct {
	Text    string         `json:"text"`
	Count   int            `json:"count"`
	Entries []webhookEntry `json:"entries"`
}

func (c *WebhookClient) Notify(ctx context.Context, entries []model.QueueEntry) error {
	payload := webhookRequest{
		Text:    summaryText(entries),
		Count:   len(entries),
		Entries: make([]webhookEntry, 0, len(entries)),
	}
	for _, e := range entries {
		payload.Entries = append(payload.Entries, webhookEntry{
			Name:      e.Name,
			Email:     e.Email,
			Message:   e.Message,
			CreatedAt: e.CreatedAt.UTC(),
		})
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}
	return nil
}

func (c *WebhookClient) Name() string { return "webhook" }
