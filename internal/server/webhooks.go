package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"agentgraph/internal/config"
	"agentgraph/internal/domain"
	"agentgraph/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher polls the event log and POSTs new events to each
// configured URL. Delivery cursors are stored per URL so a restart resumes
// where it stopped.
type WebhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.Webhook
	client   *http.Client
	logger   *slog.Logger
	Interval time.Duration
}

func NewWebhookDispatcher(e engine.Engine, hooks []config.Webhook, logger *slog.Logger) *WebhookDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDispatcher{
		engine:   e,
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logger.With("component", "webhooks"),
		Interval: defaultWebhookInterval,
	}
}

// StartWebhookDispatcher runs a dispatcher until ctx is done. It returns
// nil when no webhook is configured.
func StartWebhookDispatcher(ctx context.Context, e engine.Engine, hooks []config.Webhook, logger *slog.Logger) *WebhookDispatcher {
	if len(hooks) == 0 {
		return nil
	}
	d := NewWebhookDispatcher(e, hooks, logger)
	go d.Run(ctx)
	return d
}

func (d *WebhookDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers pending events to every enabled webhook.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) {
	for _, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, hook config.Webhook) {
	cursor, err := d.cursorFor(ctx, hook)
	if err != nil {
		d.logger.Error("init cursor failed", "url", hook.URL, "err", err)
		return
	}
	events, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor, "")
	if err != nil {
		d.logger.Error("fetch events failed", "err", err)
		return
	}
	if len(events) == 0 {
		return
	}
	filter := newEventFilter(hook.Events)
	last := cursor
	defer func() {
		if last == cursor {
			return
		}
		if err := d.engine.Repo.SetWebhookCursor(context.WithoutCancel(ctx), hook.URL, last); err != nil {
			d.logger.Error("store cursor failed", "url", hook.URL, "err", err)
		}
	}()
	for _, evt := range events {
		if !filter.match(evt.Type) {
			last = evt.ID
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			d.logger.Warn("delivery failed", "url", hook.URL, "event_id", evt.ID, "err", err)
			return
		}
		last = evt.ID
	}
	d.logger.Debug("events delivered", "url", hook.URL, "cursor", last)
}

// cursorFor returns the stored cursor. A webhook seen for the first time
// starts at the current end of the log.
func (d *WebhookDispatcher) cursorFor(ctx context.Context, hook config.Webhook) (int64, error) {
	cur, err := d.engine.Repo.WebhookCursor(ctx, hook.URL)
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return 0, err
	}
	cur, err = d.engine.Repo.LatestEventID(ctx)
	if err != nil {
		return 0, err
	}
	if err := d.engine.Repo.SetWebhookCursor(ctx, hook.URL, cur); err != nil {
		return 0, err
	}
	return cur, nil
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	Scope      string          `json:"scope,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.Webhook, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	body := webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		Scope:      evt.Scope,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agentgraph-Event", evt.Type)
	req.Header.Set("X-Agentgraph-Delivery", fmt.Sprintf("%d", evt.ID))
	if evt.Scope != "" {
		req.Header.Set("X-Agentgraph-Scope", evt.Scope)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Agentgraph-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

// eventFilter matches exact event types or a "prefix.*" family.
type eventFilter struct {
	all      bool
	set      map[string]struct{}
	prefixes []string
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	f := eventFilter{set: make(map[string]struct{}, len(events))}
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		switch {
		case key == "":
			continue
		case key == "*":
			return eventFilter{all: true}
		case strings.HasSuffix(key, ".*"):
			f.prefixes = append(f.prefixes, strings.TrimSuffix(key, "*"))
		default:
			f.set[key] = struct{}{}
		}
	}
	if len(f.set) == 0 && len(f.prefixes) == 0 {
		return eventFilter{all: true}
	}
	return f
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[evt]; ok {
		return true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(evt, p) {
			return true
		}
	}
	return false
}
