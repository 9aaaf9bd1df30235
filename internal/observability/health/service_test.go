package health

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"surveybot/pkg/logx"
)

func TestHealthcheck(t *testing.T) {
	t.Parallel()
	s := New(Config{}, Sources{}, logx.Nop())
	srv := httptest.NewServer(s.Handler(Config{Addr: ":0"}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthcheck")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != HealthText {
		t.Fatalf("GET /healthcheck = %d %q", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestWebhookRoute(t *testing.T) {
	t.Parallel()
	var ready bool
	hook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	s := New(Config{}, Sources{Webhook: func() http.Handler {
		if !ready {
			return nil
		}
		return hook
	}}, logx.Nop())
	h := s.Handler(Config{Addr: ":0", WebhookPath: "/tg"})

	tests := []struct {
		method string
		ready  bool
		want   int
	}{
		{http.MethodPost, false, http.StatusServiceUnavailable},
		{http.MethodPost, true, http.StatusNoContent},
		{http.MethodGet, true, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		ready = tt.ready
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, "/tg", strings.NewReader("{}")))
		if rec.Code != tt.want {
			t.Fatalf("%s /tg (ready=%v) = %d, want %d", tt.method, tt.ready, rec.Code, tt.want)
		}
	}
}

func TestDebugRequiresToken(t *testing.T) {
	t.Parallel()
	s := New(Config{}, Sources{Sessions: func() any { return map[string]int{"active": 2} }}, logx.Nop())
	h := s.Handler(Config{Addr: ":8080", DebugToken: "s3cret"})

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"no token", "/debug/sessions", "", http.StatusUnauthorized},
		{"wrong query", "/debug/sessions?token=x", "", http.StatusUnauthorized},
		{"query", "/debug/sessions?token=s3cret", "", http.StatusOK},
		{"bearer", "/debug/sessions", "Bearer s3cret", http.StatusOK},
		{"missing source", "/debug/outbox?token=s3cret", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.target, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Fatalf("%s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
		if tt.want == http.StatusOK {
			var got map[string]int
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil || got["active"] != 2 {
				t.Fatalf("%s: body = %s (%v)", tt.name, rec.Body.String(), err)
			}
		}
	}
}

func TestDebugHiddenOnPublicAddrWithoutToken(t *testing.T) {
	t.Parallel()
	s := New(Config{}, Sources{Events: func() any { return []int{} }}, logx.Nop())
	rec := httptest.NewRecorder()
	s.Handler(Config{Addr: ":8080"}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/events", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	rec = httptest.NewRecorder()
	s.Handler(Config{Addr: "127.0.0.1:8080"}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/events", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("loopback status = %d, want 200", rec.Code)
	}
}

func TestStartServesAndStops(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Sources{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	var addr string
	deadline := time.Now().Add(3 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		addr = s.Addr()
	}
	if addr == "" {
		t.Fatal("server did not start")
	}
	resp, err := http.Get("http://" + addr + "/healthcheck")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	if s.Supervisor() != nil {
		t.Fatal("supervisor still set after Stop")
	}
}
