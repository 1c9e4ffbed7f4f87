// Package api exposes the thin HTTP surface: health, per-key status, and the
// voice command endpoint.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/harunnryd/vigil/pkg/adapters/speech"
	"github.com/harunnryd/vigil/pkg/commands"
	"github.com/harunnryd/vigil/pkg/logging"
	"github.com/harunnryd/vigil/pkg/session"
)

type Config struct {
	Addr string `mapstructure:"addr"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":4443"
	}
	return c
}

type Server struct {
	cfg      Config
	reg      *session.Registry
	resolver *commands.Resolver
	synth    speech.Synthesizer
	server   *http.Server
	logger   *slog.Logger
}

func NewServer(cfg Config, reg *session.Registry, resolver *commands.Resolver, synth speech.Synthesizer) *Server {
	return &Server{
		cfg:      cfg.withDefaults(),
		reg:      reg,
		resolver: resolver,
		synth:    synth,
		logger:   logging.NewComponentLogger(slog.Default(), "api"),
	}
}

func (s *Server) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logging.NewComponentLogger(logger, "api")
	}
}

// Handler returns the route table, exported for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/command", s.handleCommand)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           s.Handler(),
	}
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services": map[string]string{
			"voice_commands": "operational",
			"ai_vision":      "operational",
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "vigil",
		"keys":    s.reg.Snapshot(),
	})
}

type commandRequest struct {
	Text string `json:"text"`
}

type commandResponse struct {
	Status           string `json:"status"`
	Suggestion       string `json:"suggestion"`
	Audio            string `json:"audio,omitempty"`
	CanonicalCommand string `json:"canonicalCommand,omitempty"`
	BestGuess        string `json:"bestGuess,omitempty"`
	Score            int    `json:"score"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.resolver.Resolve(req.Text)
	if err != nil {
		http.Error(w, "text cannot be empty", http.StatusBadRequest)
		return
	}

	// Every response, match or not, is rendered to audio.
	var audio string
	if raw, err := s.synth.Synthesize(r.Context(), result.Suggestion); err != nil {
		s.logger.Warn("command audio synthesis failed", slog.String("error", err.Error()))
	} else {
		audio = base64.StdEncoding.EncodeToString(raw)
	}

	resp := commandResponse{
		Status:     result.Status,
		Suggestion: result.Suggestion,
		Audio:      audio,
		Score:      result.Score,
	}
	if result.Status == commands.StatusSuccess {
		resp.CanonicalCommand = result.Canonical
	} else {
		resp.BestGuess = result.BestGuess
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
