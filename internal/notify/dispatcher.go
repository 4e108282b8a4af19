package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"leadline/internal/config"
	"leadline/internal/domain"
	"leadline/internal/history"
)

const (
	defaultInterval = 2 * time.Second
	defaultTimeout  = 5 * time.Second
	defaultBatch    = 100
)

// Dispatcher delivers status-change notifications to configured webhooks by
// polling the audit log. Delivery is strictly after commit and best effort;
// a failing hook retries from its cursor on the next tick.
type Dispatcher struct {
	history  history.Recorder
	webhooks []config.WebhookConfig
	client   *http.Client
	mu       sync.Mutex
	cursors  map[int]int64
}

// Start launches the dispatcher goroutine. It is a no-op without webhooks.
func Start(rec history.Recorder, hooks []config.WebhookConfig) {
	if len(hooks) == 0 {
		return
	}
	d := &Dispatcher{
		history:  rec,
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultTimeout},
		cursors:  make(map[int]int64),
	}
	go d.run()
}

func (d *Dispatcher) run() {
	ticker := time.NewTicker(defaultInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *Dispatcher) dispatchAll() {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchHook(i, hook)
	}
}

func (d *Dispatcher) dispatchHook(idx int, hook config.WebhookConfig) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	entries, err := d.history.EntriesAfter(ctx, defaultBatch, cursor)
	if err != nil {
		log.Printf("notify: fetch history failed: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	filter := newEventFilter(hook.Events)
	for _, entry := range entries {
		evt := eventFor(entry)
		if !filter.match(evt) && !filter.match(string(entry.NewStatus)) {
			d.setCursor(idx, entry.ID)
			continue
		}
		if err := d.post(ctx, hook, evt, entry); err != nil {
			log.Printf("notify: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(idx, entry.ID)
	}
}

func (d *Dispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	// New hooks start at the log tail; historical entries are not replayed.
	cur, err := d.history.LatestID(context.Background())
	if err != nil {
		log.Printf("notify: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *Dispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

func eventFor(entry domain.HistoryEntry) string {
	if entry.PreviousStatus == domain.StatusNew && entry.NewStatus == domain.StatusNew {
		return "lead.created"
	}
	return "lead.status_changed"
}

type webhookEvent struct {
	ID              int64  `json:"id"`
	Type            string `json:"type"`
	LeadID          string `json:"lead_id"`
	PreviousStatus  string `json:"previous_status"`
	NewStatus       string `json:"new_status"`
	ChangedByUserID string `json:"changed_by_user_id"`
	FromUserID      string `json:"from_user_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
	ChangedAt       string `json:"changed_at"`
}

func (d *Dispatcher) post(ctx context.Context, hook config.WebhookConfig, evt string, entry domain.HistoryEntry) error {
	body := webhookEvent{
		ID:              entry.ID,
		Type:            evt,
		LeadID:          entry.LeadID,
		PreviousStatus:  string(entry.PreviousStatus),
		NewStatus:       string(entry.NewStatus),
		ChangedByUserID: entry.ChangedByUserID,
		Reason:          entry.Reason,
		ChangedAt:       entry.ChangedAt,
	}
	if entry.FromUserID != nil {
		body.FromUserID = *entry.FromUserID
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultTimeout
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
	req.Header.Set("X-Leadline-Event", evt)
	req.Header.Set("X-Leadline-Delivery", fmt.Sprintf("%d", entry.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Leadline-Secret", hook.Secret)
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

// eventFilter matches event types, or new statuses so a hook can subscribe
// to e.g. ready_for_class directly.
type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
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
