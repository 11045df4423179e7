package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	EventsReceivedTotal.WithLabelValues("http").Inc()
	FiringsTotal.WithLabelValues("Reactive").Inc()
	WindowsLive.Set(3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`windlass_events_received_total{path="http"}`,
		`windlass_firings_total{posture="Reactive"}`,
		`windlass_trigger_windows_live 3`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing metric %s\nbody:\n%s", want, body)
		}
	}
}
