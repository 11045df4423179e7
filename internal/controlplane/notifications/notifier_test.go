package notifications

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func TestNotifyDeliversSignedPayload(t *testing.T) {
	var (
		mu       sync.Mutex
		body     []byte
		sigValue string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = b
		sigValue = r.Header.Get("X-Windlass-Signature")
		mu.Unlock()
	}))
	defer srv.Close()

	n := NewNotifier(zap.NewNop())
	n.Register(WebhookConfig{
		URL:     srv.URL,
		Events:  []string{"windlass.automation.*"},
		Secret:  "s3cret",
		Enabled: true,
	})

	err := n.Notify("windlass.automation.action.executed", "windlass.flow-run.r1", "run suspended", map[string]any{"code": 201})
	if err != nil {
		t.Fatalf("Notify error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if payload.Event != "windlass.automation.action.executed" {
		t.Fatalf("unexpected event %s", payload.Event)
	}
	if payload.ResourceID != "windlass.flow-run.r1" {
		t.Fatalf("unexpected resource id %s", payload.ResourceID)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	if want := hex.EncodeToString(mac.Sum(nil)); sigValue != want {
		t.Fatalf("signature mismatch: got %s want %s", sigValue, want)
	}
}

func TestNotifySkipsUnsubscribedAndDisabled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	n := NewNotifier(zap.NewNop())
	n.Register(WebhookConfig{URL: srv.URL, Events: []string{"windlass.flow-run.*"}, Enabled: true})
	n.Register(WebhookConfig{URL: srv.URL, Events: nil, Enabled: false})

	if err := n.Notify("windlass.automation.action.failed", "", "nope", nil); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no deliveries, got %d", calls.Load())
	}

	if err := n.Notify("windlass.flow-run.Failed", "", "yep", nil); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one delivery, got %d", calls.Load())
	}
}

func TestNotifyReportsDeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewNotifier(zap.NewNop())
	n.Register(WebhookConfig{URL: srv.URL, Enabled: true})

	if err := n.Notify("windlass.flow-run.Failed", "", "boom", nil); err == nil {
		t.Fatal("expected a delivery error")
	}
}

func TestStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhooks.db")

	store, err := NewStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	cfg, err := store.Register(WebhookConfig{
		URL:     "http://example.invalid/hook",
		Events:  []string{"windlass.automation.*"},
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	store.Close()

	store, err = NewStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer store.Close()

	list := store.List()
	if len(list) != 1 || list[0].ID != cfg.ID {
		t.Fatalf("expected the registered webhook after restart, got %+v", list)
	}

	store.Remove(cfg.ID)
	if len(store.List()) != 0 {
		t.Fatal("expected empty list after Remove")
	}
}
