package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestUpstream_EchoesRequest(t *testing.T) {
	h := newUpstream(zerolog.Nop())

	r := httptest.NewRequest(http.MethodPost, "/api/evaluate", nil)
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	r.Header.Set("x-csrf-token", "abc")
	r.AddCookie(&http.Cookie{Name: "csrf-token", Value: "abc"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var body struct {
		Path    string   `json:"path"`
		XFF     string   `json:"x_forwarded_for"`
		CSRF    bool     `json:"x_csrf_token"`
		Cookies []string `json:"cookies"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected json body: %v", err)
	}
	if body.Path != "/api/evaluate" || body.XFF != "1.2.3.4" || !body.CSRF {
		t.Fatalf("unexpected echo: %+v", body)
	}
	if len(body.Cookies) != 1 || body.Cookies[0] != "csrf-token" {
		t.Fatalf("expected csrf-token cookie, got %v", body.Cookies)
	}
}

func TestUpstream_EssayPageSendsCSRFHeader(t *testing.T) {
	w := httptest.NewRecorder()
	newUpstream(zerolog.Nop()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/redacoes/42", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "/api/essays/42/finalize") {
		t.Fatalf("expected finalize endpoint for essay 42, got %s", body)
	}
	if !strings.Contains(body, "x-csrf-token") {
		t.Fatalf("expected page to send the csrf header")
	}
}

func TestUpstream_EssayPageEscapesID(t *testing.T) {
	w := httptest.NewRecorder()
	newUpstream(zerolog.Nop()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/redacoes/%3Cb%3E", nil))
	if strings.Contains(w.Body.String(), "<b>") {
		t.Fatalf("expected essay id to be escaped")
	}
}
