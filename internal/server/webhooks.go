package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"goalline/internal/config"
	"goalline/internal/domain"
	"goalline/internal/events"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookQueue   = 256
)

// WebhookDispatcher forwards published events to configured URLs from a
// background goroutine so commands never wait on remote endpoints.
type WebhookDispatcher struct {
	hooks  []config.WebhookConfig
	client *http.Client
	log    *zap.Logger
	queue  chan domain.Event

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewWebhookDispatcher returns nil when no hook is active.
func NewWebhookDispatcher(hooks []config.WebhookConfig, log *zap.Logger) *WebhookDispatcher {
	var active []config.WebhookConfig
	for _, h := range hooks {
		if h.Active() {
			active = append(active, h)
		}
	}
	if len(active) == 0 {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookDispatcher{
		hooks:  active,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		log:    log,
		queue:  make(chan domain.Event, defaultWebhookQueue),
	}
}

// Start subscribes to bus and begins delivering. Call Close to drain.
func (d *WebhookDispatcher) Start(bus *events.Bus) {
	if d == nil {
		return
	}
	bus.SubscribeAll(d.enqueue)
	d.wg.Add(1)
	go d.run()
}

// Close stops accepting events and waits for queued deliveries.
func (d *WebhookDispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *WebhookDispatcher) enqueue(_ context.Context, evt domain.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	select {
	case d.queue <- evt:
	default:
		d.log.Warn("webhook queue full; dropping event",
			zap.String("goal_id", string(evt.AggregateID)),
			zap.Uint64("version", evt.Version))
	}
	return nil
}

func (d *WebhookDispatcher) run() {
	defer d.wg.Done()
	for evt := range d.queue {
		for _, hook := range d.hooks {
			if !newEventFilter(hook.Events).match(string(evt.Type)) {
				continue
			}
			if err := d.postEvent(context.Background(), hook, evt); err != nil {
				d.log.Warn("webhook delivery failed", zap.String("url", hook.URL), zap.String("event", string(evt.Type)), zap.Error(err))
			}
		}
	}
}

type webhookEvent struct {
	Type      string              `json:"type"`
	GoalID    string              `json:"goal_id"`
	Version   uint64              `json:"version"`
	WorkerID  string              `json:"worker_id,omitempty"`
	Timestamp string              `json:"timestamp"`
	Payload   domain.EventPayload `json:"payload"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	data, err := json.Marshal(webhookEvent{
		Type:      string(evt.Type),
		GoalID:    string(evt.AggregateID),
		Version:   evt.Version,
		WorkerID:  string(evt.WorkerID),
		Timestamp: evt.Timestamp.UTC().Format(time.RFC3339Nano),
		Payload:   evt.Payload,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goalline-Event", string(evt.Type))
	req.Header.Set("X-Goalline-Delivery", fmt.Sprintf("%s/%d", evt.AggregateID, evt.Version))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Goalline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
