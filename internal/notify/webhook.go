package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"processline/internal/config"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookNotifier POSTs notifications as JSON to a configured URL.
type WebhookNotifier struct {
	URL    string
	Secret string
	Client *http.Client
	filter eventFilter
}

func NewWebhookNotifier(hook config.WebhookConfig, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookNotifier{
		URL:    hook.URL,
		Secret: hook.Secret,
		Client: &http.Client{Timeout: timeout},
		filter: newEventFilter(hook.Events),
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	if !w.filter.match(n.Kind) {
		return nil
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Processline-Event", n.Kind)
	req.Header.Set("X-Processline-Process", n.ProcessID)
	if strings.TrimSpace(w.Secret) != "" {
		req.Header.Set("X-Processline-Secret", w.Secret)
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("webhook %s: status %d: %s", w.URL, res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(kinds []string) eventFilter {
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			set[k] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(kind string) bool {
	if f.all || f.set == nil {
		return true
	}
	_, ok := f.set[kind]
	return ok
}
