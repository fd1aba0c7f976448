// Package notify posts each broadcast batch to a configured webhook. It is
// strictly fire-and-forget: failures are logged and discarded, and nothing
// here ever delays the broadcast path.
package notify

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/codewatch/control-room/internal/model/session"
	"github.com/codewatch/control-room/pkg/utils"
)

// Notifier delivers delta batches to one external endpoint. A Notifier with
// an empty URL is a no-op, so callers never need a nil check of their own.
type Notifier struct {
	url    string
	client *http.Client
}

type payload struct {
	Event string          `json:"event"`
	Delta []session.Delta `json:"delta"`
}

// New builds a notifier for the given webhook URL ("" disables delivery).
func New(url string) *Notifier {
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Notify spawns one delivery attempt for the batch and returns immediately.
// No retries, ever.
func (n *Notifier) Notify(deltas []session.Delta) {
	if n.url == "" || len(deltas) == 0 {
		return
	}
	go n.deliver(deltas)
}

func (n *Notifier) deliver(deltas []session.Delta) {
	body, err := json.Marshal(payload{Event: "session_update", Delta: deltas})
	if err != nil {
		log.Printf("[notify] encode failed: %s", utils.TruncateError(err))
		return
	}

	req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		log.Printf("[notify] build request failed: %s", utils.TruncateError(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", uuid.NewString())

	resp, err := n.client.Do(req)
	if err != nil {
		log.Printf("[notify] delivery failed: %s", utils.TruncateError(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("[notify] webhook answered %d", resp.StatusCode)
	}
}
