package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harunnryd/vigil/pkg/adapters/vision"
	"github.com/harunnryd/vigil/pkg/errorsx"
)

func geminiReply(text string) string {
	reply := map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
		},
	}
	raw, _ := json.Marshal(reply)
	return string(raw)
}

func TestAnalyzeFrameParsesVerdict(t *testing.T) {
	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")
		gotPath = r.URL.Path

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("request body: %v", err)
		}
		if len(req.Contents) != 1 || len(req.Contents[0].Parts) != 2 {
			t.Errorf("request shape = %+v", req)
		}
		if req.Contents[0].Parts[1].InlineData == nil {
			t.Errorf("image part missing")
		}
		_, _ = w.Write([]byte(geminiReply(`{"status":"danger","observation":"ledge ahead, stop"}`)))
	}))
	defer srv.Close()

	client := New(Config{APIKey: "test-key", Model: "test-model", BaseURL: srv.URL})
	obs, err := client.AnalyzeFrame(context.Background(), []byte("jpeg"), "guide the player")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if obs.Status != vision.StatusDanger || obs.Observation != "ledge ahead, stop" {
		t.Fatalf("observation = %+v", obs)
	}
	if gotKey != "test-key" {
		t.Fatalf("api key header = %q", gotKey)
	}
	if gotPath != "/models/test-model:generateContent" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestAnalyzeFrameStripsFences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(geminiReply("```json\n{\"status\":\"ok\",\"observation\":\"clear\"}\n```")))
	}))
	defer srv.Close()

	client := New(Config{APIKey: "k", BaseURL: srv.URL})
	obs, err := client.AnalyzeFrame(context.Background(), []byte("jpeg"), "task")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if obs.Status != vision.StatusOK {
		t.Fatalf("observation = %+v", obs)
	}
}

func TestAnalyzeFrameMalformedVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(geminiReply("I cannot answer in JSON, sorry.")))
	}))
	defer srv.Close()

	client := New(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := client.AnalyzeFrame(context.Background(), []byte("jpeg"), "task")
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonVisionDecode) {
		t.Fatalf("reason = %s", errorsx.Reason(err))
	}
}

func TestGenerateText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(geminiReply("  Keep going, you are doing great.  ")))
	}))
	defer srv.Close()

	client := New(Config{APIKey: "k", BaseURL: srv.URL})
	text, err := client.GenerateText(context.Background(), "summarize")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "Keep going, you are doing great." {
		t.Fatalf("text = %q", text)
	}
}

func TestRateLimitOpensCircuit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(Config{APIKey: "k", BaseURL: srv.URL, CircuitThreshold: 2})
	for i := 0; i < 2; i++ {
		_, err := client.AnalyzeFrame(context.Background(), []byte("jpeg"), "task")
		if !errorsx.HasReason(err, errorsx.ReasonVisionRateLimit) {
			t.Fatalf("call %d reason = %s", i, errorsx.Reason(err))
		}
	}
	// The breaker is open now; calls fail fast without reaching the server.
	_, err := client.AnalyzeFrame(context.Background(), []byte("jpeg"), "task")
	if !errorsx.HasReason(err, errorsx.ReasonVisionCircuitOpen) {
		t.Fatalf("reason = %s", errorsx.Reason(err))
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(Config{APIKey: "k", BaseURL: srv.URL})
	if _, err := client.GenerateText(context.Background(), "prompt"); err == nil {
		t.Fatalf("expected error")
	}
}
