package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestCounters(t *testing.T) {
	m := New()
	m.MessageSent(true)
	m.MessageSent(false)
	m.ConversationDeleted()
	m.SocketOpened()
	m.SocketOpened()
	m.SocketClosed()
	m.FrameDropped()
	m.HandshakeRejected()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"messages", testutil.ToFloat64(m.messages), 2},
		{"created", testutil.ToFloat64(m.created), 1},
		{"deleted", testutil.ToFloat64(m.deleted), 1},
		{"sockets", testutil.ToFloat64(m.pushSockets), 1},
		{"dropped", testutil.ToFloat64(m.pushDropped), 1},
		{"rejected", testutil.ToFloat64(m.pushRejected), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestObserveRequest(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, "/api/conversations/{id}/messages", 200, 3*time.Millisecond)
	m.ObserveRequest(http.MethodGet, "", 404, time.Millisecond)

	body := scrape(t, m)
	for _, want := range []string{
		`dmsync_http_requests_total{method="GET",route="/api/conversations/{id}/messages",status="200"} 1`,
		`dmsync_http_requests_total{method="GET",route="unmatched",status="404"} 1`,
		`dmsync_http_request_duration_seconds_count{method="GET",route="/api/conversations/{id}/messages"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %s", want)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveRequest(http.MethodGet, "/", 200, 0)
	m.MessageSent(true)
	m.ConversationDeleted()
	m.SocketOpened()
	m.SocketClosed()
	m.FrameDropped()
	m.HandshakeRejected()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil Handler status = %d, want 404", rec.Code)
	}
}
