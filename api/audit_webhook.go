package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	webhookQueueSize  = 1024
	webhookRetryDelay = time.Second
)

// webhookEvent is the JSON body POSTed to the audit endpoint.
type webhookEvent struct {
	Event      string            `json:"event"`
	Username   string            `json:"username,omitempty"`
	ClientIP   string            `json:"client_ip,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
	Timestamp  string            `json:"timestamp"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// auditWebhook forwards audit events to an HTTP endpoint from a single
// background goroutine. enqueue never blocks; events are dropped when the
// queue is full.
type auditWebhook struct {
	url        string
	authHeader string // "Name: value"
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration

	events    chan webhookEvent
	done      chan struct{}
	closeOnce sync.Once
}

func newAuditWebhook(url, authHeader string, logger *slog.Logger) *auditWebhook {
	w := &auditWebhook{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "audit_webhook"),
		retryDelay: webhookRetryDelay,
		events:     make(chan webhookEvent, webhookQueueSize),
		done:       make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *auditWebhook) enqueue(evt webhookEvent) {
	select {
	case w.events <- evt:
	default:
		w.logger.Warn("queue full, dropping event", "event", evt.Event)
	}
}

// close stops accepting events and waits until the queue drains or ctx
// is done.
func (w *auditWebhook) close(ctx context.Context) error {
	w.closeOnce.Do(func() { close(w.events) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *auditWebhook) loop() {
	defer close(w.done)
	for evt := range w.events {
		w.send(evt)
	}
}

// send POSTs evt, retrying once on a transport error or 5xx.
func (w *auditWebhook) send(evt webhookEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		w.logger.Warn("marshal failed", "error", err)
		return
	}

	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			time.Sleep(w.retryDelay)
		}
		req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			w.logger.Warn("building request failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "chorus-audit-webhook/1")
		if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
			req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn("request failed", "error", err, "attempt", attempt)
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return
		case resp.StatusCode >= 500:
			w.logger.Warn("server error", "status", resp.StatusCode, "attempt", attempt)
		default:
			w.logger.Warn("client error", "status", resp.StatusCode)
			return
		}
	}
}
