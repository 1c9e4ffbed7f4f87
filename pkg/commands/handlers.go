package commands

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/harunnryd/vigil/pkg/logging"
)

// Handlers forwards resolved commands to the AR/VR control API. The forward
// is fire-and-forget so the spoken acknowledgment is never delayed by the
// control endpoint.
type Handlers struct {
	controlURL string
	client     *http.Client
	logger     *slog.Logger
}

func NewHandlers(controlURL string) *Handlers {
	return &Handlers{
		controlURL: controlURL,
		client:     &http.Client{Timeout: 5 * time.Second},
		logger:     logging.NewComponentLogger(slog.Default(), "command_handlers"),
	}
}

func (h *Handlers) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logging.NewComponentLogger(logger, "command_handlers")
	}
}

func (h *Handlers) dispatch(command string) {
	go func() {
		if h.controlURL == "" {
			h.logger.Debug("control url not configured, command not forwarded",
				slog.String("command", command))
			return
		}
		body, _ := json.Marshal(map[string]string{"command": command})
		resp, err := h.client.Post(h.controlURL, "application/json", bytes.NewReader(body))
		if err != nil {
			h.logger.Error("control api request failed",
				slog.String("command", command),
				slog.String("error", err.Error()))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			h.logger.Error("control api rejected command",
				slog.String("command", command),
				slog.String("status", resp.Status))
			return
		}
		h.logger.Info("command forwarded", slog.String("command", command))
	}()
}

func (h *Handlers) MoveForward() string {
	h.dispatch("move_forward")
	return "Okay, moving forward."
}

func (h *Handlers) MoveBackward() string {
	h.dispatch("move_backward")
	return "Got it, moving backward."
}

func (h *Handlers) StartSession() string {
	h.dispatch("start_game")
	return "Starting the AR VR session now."
}

func (h *Handlers) ExitSession() string {
	h.dispatch("exit_game")
	return "Exiting the AR VR session."
}

// DefaultRegistry builds the phrase table with every synonym set wired to its
// handler.
func DefaultRegistry(h *Handlers) *Registry {
	reg := NewRegistry()

	forward := []string{
		"move forward", "go forward", "walk forward", "step forward",
		"forward", "ahead", "advance", "proceed", "next",
	}
	for _, phrase := range forward {
		reg.Register(phrase, "move_forward", h.MoveForward)
	}

	backward := []string{
		"move backward", "go backward", "walk back", "step back",
		"backward", "back", "reverse", "retreat",
	}
	for _, phrase := range backward {
		reg.Register(phrase, "move_backward", h.MoveBackward)
	}

	start := []string{
		"start", "begin", "launch", "initiate",
		"open", "run", "activate", "boot",
	}
	for _, phrase := range start {
		reg.Register(phrase, "start_game", h.StartSession)
	}

	exit := []string{
		"exit", "quit", "close", "stop",
		"terminate", "shutdown", "end", "cancel",
	}
	for _, phrase := range exit {
		reg.Register(phrase, "exit_game", h.ExitSession)
	}

	return reg
}
