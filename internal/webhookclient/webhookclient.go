// Package webhookclient dispatches the Task-run job's HTTP tasks
// (Webhook actions). It generalizes the teacher's webhook.Client —
// a synchronous POST-with-timeout *http.Client wrapper — from a fixed
// campaign-result payload and method into an arbitrary method/headers/
// body request, since a Webhook action configures its own method and
// headers (§3) rather than always POSTing a fixed shape.
package webhookclient

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/retrack-dev/engine/internal/retrackerr"
)

// Dispatcher is the capability interface the Task-run job depends on
// for outbound HTTP (§9's injected-capability polymorphism).
type Dispatcher interface {
	Dispatch(ctx context.Context, url, method string, headers map[string]string, body []byte) error
}

// Client is the default http.Client-backed Dispatcher.
type Client struct {
	httpClient *http.Client
}

// New builds a Client with the given per-request timeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// Dispatch sends one HTTP request, treating any non-2xx status as a
// target-visible failure.
func (c *Client) Dispatch(ctx context.Context, url, method string, headers map[string]string, body []byte) error {
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return retrackerr.Wrap(retrackerr.KindValidation, err, "build webhook request")
	}
	req.Header.Set("User-Agent", "Retrack-Webhook/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if _, ok := headers["Content-Type"]; !ok && len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retrackerr.Wrap(retrackerr.KindTransient, err, "webhook delivery")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := retrackerr.KindTargetServer
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = retrackerr.KindTargetClient
		}
		return retrackerr.Newf(kind, "webhook %s returned status %d", url, resp.StatusCode)
	}
	return nil
}
