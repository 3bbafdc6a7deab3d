package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/headonpro/tabellen-service/internal/apperrors"
	"github.com/headonpro/tabellen-service/internal/config"
	"github.com/headonpro/tabellen-service/internal/platform/logging"
	"github.com/headonpro/tabellen-service/internal/usecase"
)

func TestAlertWebhook_PostsEvent(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var bodies []string
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(raw))
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	webhook := NewAlertWebhook(config.Config{
		ServiceName:       "tabellen-service",
		AppEnv:            config.EnvStaging,
		AlertWebhookURL:   server.URL,
		AlertWebhookToken: "secret-token",
	}, logging.NewNop())

	webhook.Notify(context.Background(), usecase.AlertEvent{
		Severity:  apperrors.SeverityCritical,
		Operation: "table-calculation",
		JobID:     "job_abc",
		Message:   "DATABASE_ERROR: relation missing",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := webhook.Close(ctx); err != nil {
		t.Fatalf("close webhook: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 {
		t.Fatalf("posted %d events, want 1", len(bodies))
	}
	if !strings.Contains(bodies[0], "table-calculation") || !strings.Contains(bodies[0], "CRITICAL") {
		t.Fatalf("payload missing fields: %s", bodies[0])
	}
	if auth != "Bearer secret-token" {
		t.Fatalf("authorization header = %q", auth)
	}
}

func TestAlertWebhook_NotifyAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	webhook := NewAlertWebhook(config.Config{AlertWebhookURL: "http://127.0.0.1:0"}, logging.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := webhook.Close(ctx); err != nil {
		t.Fatalf("close webhook: %v", err)
	}

	webhook.Notify(context.Background(), usecase.AlertEvent{Message: "late"})
}
