// Package relay connects to the game backend over a websocket and exchanges
// JSON-enveloped session and frame events.
package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/vigil/pkg/errorsx"
	"github.com/harunnryd/vigil/pkg/events"
	"github.com/harunnryd/vigil/pkg/logging"
	"github.com/harunnryd/vigil/pkg/transports"
)

type Config struct {
	URL               string        `mapstructure:"url"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	ReconnectMaxDelay time.Duration `mapstructure:"reconnect_max_delay"`
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 5
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 5 * time.Second
	}
	return c
}

type Transport struct {
	cfg    Config
	recvCh chan events.Event
	sendCh chan envelope

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     *websocket.Conn
	draining atomic.Bool
	logger   *slog.Logger
}

func New(cfg Config) *Transport {
	return &Transport{
		cfg:    cfg.withDefaults(),
		recvCh: make(chan events.Event, 512),
		sendCh: make(chan envelope, 256),
		logger: logging.NewComponentLogger(slog.Default(), "relay_transport"),
	}
}

func (t *Transport) Name() string { return "relay" }

func (t *Transport) Recv() <-chan events.Event { return t.recvCh }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{"backend_url": t.cfg.URL}
}

func (t *Transport) SetLogger(logger *slog.Logger) {
	if logger != nil {
		t.logger = logging.NewComponentLogger(logger, "relay_transport")
	}
}

func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.URL == "" {
		return errorsx.Wrap(errors.New("relay url is required"), errorsx.ReasonTransportConnect)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	go t.run()
	return nil
}

func (t *Transport) Stop() error {
	if !t.draining.CompareAndSwap(false, true) {
		return nil
	}
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Lock()
	if t.conn != nil {
		_ = t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = t.conn.Close()
	}
	// Closed under the same mutex emit sends under, so a read loop that is
	// mid-emit can never race the close.
	close(t.recvCh)
	t.mu.Unlock()
	return nil
}

// Send marshals an outbound event onto the write loop. It never blocks the
// caller; when the write buffer is full the event is dropped with a warning.
func (t *Transport) Send(ev events.Event) error {
	env, err := encodeEvent(ev)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	select {
	case t.sendCh <- env:
		return nil
	default:
		t.logger.Warn("send buffer full, event dropped", slog.String("event", string(ev.Type())))
		return nil
	}
}

// run dials the backend and keeps the connection alive, reconnecting with
// exponential backoff up to the configured attempt bound. A drop always
// surfaces a Disconnected event so the engine can reset session state.
func (t *Transport) run() {
	delay := t.cfg.ReconnectDelay
	attempts := 0
	for {
		if t.ctx.Err() != nil {
			return
		}
		conn, err := t.dial()
		if err != nil {
			attempts++
			t.logger.Error("backend dial failed",
				slog.String("url", t.cfg.URL),
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()))
			if attempts >= t.cfg.ReconnectAttempts {
				t.emit(events.Disconnected{Reason: "reconnect attempts exhausted"})
				return
			}
			select {
			case <-time.After(delay):
			case <-t.ctx.Done():
				return
			}
			delay *= 2
			if delay > t.cfg.ReconnectMaxDelay {
				delay = t.cfg.ReconnectMaxDelay
			}
			continue
		}

		attempts = 0
		delay = t.cfg.ReconnectDelay
		t.logger.Info("connected to backend", slog.String("url", t.cfg.URL))

		writeDone := make(chan struct{})
		go t.writeLoop(conn, writeDone)
		t.readLoop(conn)
		close(writeDone)

		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
		_ = conn.Close()

		if t.ctx.Err() != nil {
			return
		}
		t.logger.Warn("backend connection lost")
		t.emit(events.Disconnected{Reason: "connection lost"})
	}
}

func (t *Transport) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.cfg.DialTimeout,
	}
	conn, _, err := dialer.DialContext(t.ctx, t.cfg.URL, nil)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTransportConnect)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return conn, nil
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := parseEvent(data)
		if err != nil {
			t.logger.Warn("malformed inbound event discarded", slog.String("error", err.Error()))
			continue
		}
		t.emit(ev)
	}
}

func (t *Transport) writeLoop(conn *websocket.Conn, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-t.ctx.Done():
			return
		case env := <-t.sendCh:
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.logger.Error("outbound write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (t *Transport) emit(ev events.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining.Load() {
		return
	}
	select {
	case t.recvCh <- ev:
	default:
		t.logger.Warn("recv buffer full, event dropped", slog.String("event", string(ev.Type())))
	}
}

// envelope is the wire shape shared by inbound and outbound events.
type envelope struct {
	Event         string      `json:"event"`
	SessionID     string      `json:"sessionId,omitempty"`
	ParticipantID string      `json:"participantId,omitempty"`
	Frames        []frameJSON `json:"frames,omitempty"`
	Path          string      `json:"path,omitempty"`
	Payload       string      `json:"payload,omitempty"`
	TS            int64       `json:"ts,omitempty"`
	Result        string      `json:"result,omitempty"`
	ResultAudio   string      `json:"resultAudio,omitempty"`
}

type frameJSON struct {
	Path    string `json:"path,omitempty"`
	Payload string `json:"payload,omitempty"`
	TS      int64  `json:"ts,omitempty"`
}

func parseEvent(data []byte) (events.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch events.Type(env.Event) {
	case events.TypeSessionStarted:
		return events.SessionStarted{SessionID: env.SessionID, ParticipantID: env.ParticipantID}, nil
	case events.TypeSessionEnded:
		return events.SessionEnded{SessionID: env.SessionID, ParticipantID: env.ParticipantID}, nil
	case events.TypeFrameNew:
		sources := make([]events.FrameSource, 0, len(env.Frames)+1)
		for _, f := range env.Frames {
			src, err := decodeFrame(f)
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)
		}
		// Single-frame shorthand: path/payload at the top level.
		if len(sources) == 0 && (env.Path != "" || env.Payload != "") {
			src, err := decodeFrame(frameJSON{Path: env.Path, Payload: env.Payload, TS: env.TS})
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)
		}
		return events.FrameNew{SessionID: env.SessionID, ParticipantID: env.ParticipantID, Frames: sources}, nil
	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}
}

func decodeFrame(f frameJSON) (events.FrameSource, error) {
	src := events.FrameSource{Path: f.Path, TS: f.TS}
	if f.Payload != "" {
		raw, err := base64.StdEncoding.DecodeString(f.Payload)
		if err != nil {
			return events.FrameSource{}, fmt.Errorf("frame payload: %w", err)
		}
		src.Payload = raw
	}
	return src, nil
}

func encodeEvent(ev events.Event) (envelope, error) {
	switch e := ev.(type) {
	case events.AIResponse:
		return envelope{
			Event:         string(events.TypeAIResponse),
			SessionID:     e.SessionID,
			ParticipantID: e.ParticipantID,
			Result:        e.Result,
			ResultAudio:   e.ResultAudio,
		}, nil
	case events.StartGameAck:
		return envelope{
			Event:         string(events.TypeStartGameAck),
			SessionID:     e.SessionID,
			ParticipantID: e.ParticipantID,
		}, nil
	default:
		return envelope{}, fmt.Errorf("event %q is not outbound", ev.Type())
	}
}

var _ transports.Transport = (*Transport)(nil)
