package http

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestRateLimiterIsPerClient(t *testing.T) {
	l := NewRateLimiter(0.001, 1)
	if !l.Allow("10.0.0.1") {
		t.Fatalf("первый запрос должен пройти")
	}
	if l.Allow("10.0.0.1") {
		t.Fatalf("второй запрос того же клиента должен быть отклонён")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatalf("лимит другого клиента не должен расходоваться")
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	l := NewRateLimiter(0.001, 1)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("ожидали 204, получили %d", rec.Code)
	}

	req.RemoteAddr = "10.0.0.1:6666"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("ожидали 429 для того же адреса с другим портом, получили %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("ожидали заголовок Retry-After")
	}
}

func TestAccessLogWritesStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	h := AccessLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusTeapot, "nope")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/posts", nil))

	line := buf.String()
	for _, want := range []string{`"status":418`, `"path":"/api/posts"`, `"method":"GET"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("в логе нет %s: %s", want, line)
		}
	}
	if !strings.Contains(rec.Body.String(), `"error":"nope"`) {
		t.Fatalf("неожиданное тело ответа: %s", rec.Body.String())
	}
}
