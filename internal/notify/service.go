package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Event mirrors what the real-time delivery service consumes to fan a change
// out to connected clients.
type Event struct {
	ConversationID int64  `json:"conversationId"`
	ActorID        int64  `json:"actorId"`
	ActorUsername  string `json:"actorUsername"`
	TargetID       int64  `json:"targetId,omitempty"`
	TargetUsername string `json:"targetUsername,omitempty"`
	Kind           string `json:"kind"`
}

// Notifier delivers change events best-effort. Delivery failures are logged
// and swallowed; callers never observe the outcome.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

type HTTPNotifier struct {
	url    string
	client *http.Client
}

func NewHTTPNotifier(url string) *HTTPNotifier {
	return &HTTPNotifier{
		url: url,
		client: &http.Client{
			Timeout: 3 * time.Second,
		},
	}
}

func (n *HTTPNotifier) Notify(ctx context.Context, event Event) {
	if n.url == "" {
		return
	}
	// The primary transaction has already committed; dispatch must not delay
	// the caller's response.
	go func() {
		if err := n.send(event); err != nil {
			slog.Error("change notification failed", "kind", event.Kind,
				"conversation", event.ConversationID, "error", err)
		}
	}()
}

func (n *HTTPNotifier) send(event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("delivery service responded %d", resp.StatusCode)
	}
	return nil
}
