package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/wrenware/lattice/internal/onem2m"
)

// URINotifier delivers a notification envelope to an absolute URI. The
// dispatch core treats delivery as an external collaborator; the default
// implementation below covers plain HTTP targets.
type URINotifier interface {
	SendNotification(ctx context.Context, uri string, content map[string]any) error
}

type noopNotifier struct{}

func (noopNotifier) SendNotification(context.Context, string, map[string]any) error {
	return fmt.Errorf("notification delivery is not configured: %w", onem2m.ErrNotReachable)
}

// notifyTimeout bounds one outbound notification delivery.
const notifyTimeout = 5 * time.Second

// HTTPNotifier posts notification envelopes to http/https targets.
type HTTPNotifier struct {
	client *http.Client
}

// NewHTTPNotifier creates the default notifier.
func NewHTTPNotifier() *HTTPNotifier {
	return &HTTPNotifier{client: &http.Client{Timeout: notifyTimeout}}
}

// SendNotification implements URINotifier.
func (n *HTTPNotifier) SendNotification(ctx context.Context, uri string, content map[string]any) error {
	body, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivering notification to %q: %v: %w", uri, err, onem2m.ErrNotReachable)
	}
	defer resp.Body.Close() //nolint:errcheck // Body unused
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification target %q answered %d: %w", uri, resp.StatusCode, onem2m.ErrNotReachable)
	}
	return nil
}

// pollingQueueDepth bounds undelivered notifications per channel.
const pollingQueueDepth = 64

// pollingManager owns the runtime queues behind polling channels. Queues
// are keyed by the channel's resource-ID and exist only in memory; an AE
// that misses notifications across a restart re-polls and starts fresh.
type pollingManager struct {
	mu     sync.Mutex
	queues map[string]chan map[string]any
}

func newPollingManager() *pollingManager {
	return &pollingManager{queues: make(map[string]chan map[string]any)}
}

func (p *pollingManager) queue(ri string) chan map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.queues[ri]
	if !ok {
		q = make(chan map[string]any, pollingQueueDepth)
		p.queues[ri] = q
	}
	return q
}

// enqueue appends a notification, waiting for queue space until ctx ends.
func (p *pollingManager) enqueue(ctx context.Context, ri string, content map[string]any) error {
	select {
	case p.queue(ri) <- content:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("polling channel %q is full: %w", ri, onem2m.ErrTimeout)
	}
}

// dequeue blocks until a notification arrives or ctx ends (the long-poll).
func (p *pollingManager) dequeue(ctx context.Context, ri string) (map[string]any, error) {
	select {
	case content := <-p.queue(ri):
		return content, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("long poll on %q expired: %w", ri, onem2m.ErrTimeout)
	}
}

// drop discards a channel's queue on deletion.
func (p *pollingManager) drop(ri string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.queues, ri)
}
