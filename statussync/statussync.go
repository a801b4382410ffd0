package statussync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notification mirrors a contact's status to an external system after a
// commit. Delivery is best-effort: the engine logs failures and never lets
// them affect the primary commit.
type Notification struct {
	UserID         uint       `json:"user_id"`
	ContactID      uint       `json:"contact_id"`
	Status         string     `json:"status"`
	FirstEmailDate *time.Time `json:"first_email_date,omitempty"`
	Followup1Date  *time.Time `json:"followup1_date,omitempty"`
	Followup2Date  *time.Time `json:"followup2_date,omitempty"`
}

// Notifier posts notifications to a configured webhook. An empty URL
// disables it.
type Notifier struct {
	url    string
	client *http.Client
}

func NewNotifier(url string) *Notifier {
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *Notifier) Notify(ctx context.Context, note Notification) error {
	if n.url == "" {
		return nil
	}

	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("status sync request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("status sync returned %d", resp.StatusCode)
	}
	return nil
}
