package composer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GenerateRequest carries the contact and sender context the content service
// needs to write one outreach email.
type GenerateRequest struct {
	UserID         uint   `json:"user_id"`
	ContactID      uint   `json:"contact_id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Company        string `json:"company,omitempty"`
	Position       string `json:"position,omitempty"`
	IsFollowup     bool   `json:"is_followup"`
	FollowupNumber int    `json:"followup_number"`
	AttachmentURL  string `json:"attachment_url,omitempty"`
}

// GenerateResult is the composed email.
type GenerateResult struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Client calls the external content-generation service over HTTP. A failure
// here is fatal for the send attempt; the engine never substitutes generic
// fallback copy.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("failed to encode generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return GenerateResult{}, fmt.Errorf("failed to build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("content generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return GenerateResult{}, fmt.Errorf("content generation returned %d: %s", resp.StatusCode, string(body))
	}

	var result GenerateResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return GenerateResult{}, fmt.Errorf("failed to decode generated content: %w", err)
	}
	if result.Subject == "" || result.Body == "" {
		return GenerateResult{}, fmt.Errorf("content generation returned an empty subject or body")
	}
	return result, nil
}
