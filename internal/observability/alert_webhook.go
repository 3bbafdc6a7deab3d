package observability

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	sonic "github.com/bytedance/sonic"

	"github.com/headonpro/tabellen-service/internal/config"
	"github.com/headonpro/tabellen-service/internal/platform/logging"
	"github.com/headonpro/tabellen-service/internal/usecase"
)

const alertQueueCapacity = 64

// AlertWebhook ships escalation events to an external notification channel.
// Events are queued and posted by a background worker; a full queue drops the
// oldest event rather than blocking the caller.
type AlertWebhook struct {
	endpoint string
	token    string
	service  string
	env      string
	client   *http.Client
	logger   *logging.Logger

	mu     sync.Mutex
	queue  []usecase.AlertEvent
	notify chan struct{}
	done   chan struct{}
	closed bool
}

func NewAlertWebhook(cfg config.Config, logger *logging.Logger) *AlertWebhook {
	if logger == nil {
		logger = logging.Default()
	}

	timeout := cfg.AlertWebhookTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	w := &AlertWebhook{
		endpoint: strings.TrimSpace(cfg.AlertWebhookURL),
		token:    cfg.AlertWebhookToken,
		service:  cfg.ServiceName,
		env:      cfg.AppEnv,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Notify implements usecase.AlertNotifier.
func (w *AlertWebhook) Notify(_ context.Context, event usecase.AlertEvent) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue, event)
	if len(w.queue) > alertQueueCapacity {
		w.queue = w.queue[len(w.queue)-alertQueueCapacity:]
	}
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Close drains the queue and stops the worker.
func (w *AlertWebhook) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.notify)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *AlertWebhook) run() {
	defer close(w.done)
	for range w.notify {
		w.flush()
	}
	w.flush()
}

func (w *AlertWebhook) flush() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		event := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.post(event)
	}
}

type alertPayload struct {
	Service     string             `json:"service"`
	Environment string             `json:"environment"`
	Event       usecase.AlertEvent `json:"event"`
}

func (w *AlertWebhook) post(event usecase.AlertEvent) {
	if w.endpoint == "" {
		return
	}

	body, err := sonic.Marshal(alertPayload{
		Service:     w.service,
		Environment: w.env,
		Event:       event,
	})
	if err != nil {
		w.logger.Error("encode alert event failed", "error", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, w.endpoint, strings.NewReader(string(body)))
	if err != nil {
		w.logger.Error("build alert request failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("alert webhook post failed", "error", err, "operation", event.Operation)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		w.logger.Warn("alert webhook rejected event", "status", resp.StatusCode, "operation", event.Operation)
	}
}
