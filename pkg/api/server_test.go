package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/vigil/pkg/commands"
	"github.com/harunnryd/vigil/pkg/providers/mock"
	"github.com/harunnryd/vigil/pkg/session"
)

func testServer(t *testing.T) (*Server, *session.Registry, *mock.Synthesizer) {
	t.Helper()
	reg := session.NewRegistry()
	synth := mock.NewSynthesizer()
	resolver := commands.NewResolver(commands.DefaultRegistry(commands.NewHandlers("")), 0)
	return NewServer(Config{}, reg, resolver, synth), reg, synth
}

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("body = %v", body)
	}
	if _, err := time.Parse(time.RFC3339, body["timestamp"].(string)); err != nil {
		t.Fatalf("timestamp: %v", err)
	}
}

func TestStatusReportsKeys(t *testing.T) {
	srv, reg, _ := testServer(t)
	key := session.Key{SessionID: "s1", ParticipantID: "p1"}
	reg.Append(key, session.Record{Payload: []byte("frame")})
	reg.Append(key, session.Record{Payload: []byte("frame")})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var body struct {
		Service string                        `json:"service"`
		Keys    map[string]session.KeyStatus `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Service != "vigil" {
		t.Fatalf("service = %q", body.Service)
	}
	st, ok := body.Keys["s1/p1"]
	if !ok {
		t.Fatalf("keys = %v", body.Keys)
	}
	if st.Buffered != 2 || st.InFlight {
		t.Fatalf("key status = %+v", st)
	}
}

func TestCommandSuccess(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(`{"text":"move forward"}`))
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status           string `json:"status"`
		Suggestion       string `json:"suggestion"`
		Audio            string `json:"audio"`
		CanonicalCommand string `json:"canonicalCommand"`
		Score            int    `json:"score"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != commands.StatusSuccess || resp.CanonicalCommand != "move_forward" {
		t.Fatalf("resp = %+v", resp)
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Audio)
	if err != nil {
		t.Fatalf("audio not base64: %v", err)
	}
	if string(raw) != "audio:"+resp.Suggestion {
		t.Fatalf("audio = %q for suggestion %q", raw, resp.Suggestion)
	}
}

func TestCommandNoMatchStillSpeaks(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(`{"text":"purple elephant juggling"}`))
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Status    string `json:"status"`
		Audio     string `json:"audio"`
		BestGuess string `json:"bestGuess"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != commands.StatusNoMatch {
		t.Fatalf("status = %q", resp.Status)
	}
	if resp.Audio == "" {
		t.Fatalf("fallback suggestion not rendered to audio")
	}
	if resp.BestGuess == "" {
		t.Fatalf("best guess missing")
	}
}

func TestCommandEmptyText(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(`{"text":"  "}`))
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCommandRejectsGet(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/command", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCommandSynthesisFailureOmitsAudio(t *testing.T) {
	srv, _, synth := testServer(t)
	synth.Fail(errors.New("tts down"))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(`{"text":"move forward"}`))
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
		Audio  string `json:"audio"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != commands.StatusSuccess {
		t.Fatalf("status = %q", resp.Status)
	}
	if resp.Audio != "" {
		t.Fatalf("audio present after synthesis failure")
	}
}
