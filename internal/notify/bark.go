package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"autocdn/internal/core"
)

// Bark interruption levels.
const (
	barkLevelActive        = "active"
	barkLevelTimeSensitive = "timeSensitive"
)

// BarkNotifier sends notifications via Bark app.
type BarkNotifier struct {
	baseURL string
	client  *http.Client
}

// NewBarkNotifier creates a new Bark notifier. baseURL is the device URL,
// e.g. https://api.day.app/<key>.
func NewBarkNotifier(baseURL string) (*BarkNotifier, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("bark url is empty")
	}
	return &BarkNotifier{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (b *BarkNotifier) Send(ctx context.Context, title, body string) error {
	return b.push(ctx, url.Values{
		"title": {title},
		"body":  {body},
		"group": {"autocdn"},
	})
}

// NotifyRun pushes the summary of a settled run. Runs are grouped per config
// and failed runs break through focus modes.
func (b *BarkNotifier) NotifyRun(ctx context.Context, st core.RunState) error {
	title, body := Summarize(st)
	level := barkLevelActive
	if st.Err != nil {
		level = barkLevelTimeSensitive
	}
	group := "autocdn"
	if st.ConfigName != "" {
		group += "/" + strings.TrimSuffix(st.ConfigName, ".yaml")
	}
	return b.push(ctx, url.Values{
		"title": {title},
		"body":  {body},
		"group": {group},
		"level": {level},
	})
}

func (b *BarkNotifier) push(ctx context.Context, params url.Values) error {
	// POST with query parameters; the path form breaks on long bodies.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, nil)
	if err != nil {
		return fmt.Errorf("create bark request: %w", err)
	}
	req.URL.RawQuery = params.Encode()

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
