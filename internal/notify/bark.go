package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// BarkNotifier sends push notifications via the Bark app.
type BarkNotifier struct {
	baseURL string
	group   string
	client  *http.Client
}

// NewBarkNotifier creates a new Bark notifier.
func NewBarkNotifier(baseURL string) (*BarkNotifier, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("bark url is empty")
	}
	return &BarkNotifier{
		baseURL: baseURL,
		group:   "finops",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Send posts the subject and plain-text body. Bark has no per-recipient routing,
// so msg.To is ignored.
func (b *BarkNotifier) Send(ctx context.Context, msg Message) error {
	form := url.Values{}
	form.Set("title", msg.Subject)
	form.Set("body", msg.Text)
	form.Set("group", b.group)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create bark request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("send bark notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("bark api returned status: %d", resp.StatusCode)
	}
	return nil
}
