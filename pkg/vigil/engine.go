// Package vigil wires the transport, frame registry, batch scheduler and
// adapters into the running assistant engine.
package vigil

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/vigil/pkg/adapters/speech"
	adaptervision "github.com/harunnryd/vigil/pkg/adapters/vision"
	"github.com/harunnryd/vigil/pkg/events"
	"github.com/harunnryd/vigil/pkg/logging"
	"github.com/harunnryd/vigil/pkg/metrics"
	"github.com/harunnryd/vigil/pkg/scheduler"
	"github.com/harunnryd/vigil/pkg/session"
	"github.com/harunnryd/vigil/pkg/transports"
	"github.com/harunnryd/vigil/pkg/vision"
)

// Engine consumes transport events, buffers frames per session key and emits
// gated AI responses back through the transport.
type Engine struct {
	cfg       Config
	transport transports.Transport
	reg       *session.Registry
	sched     *scheduler.Scheduler
	loader    *vision.Loader

	obs    metrics.Observer
	logger *slog.Logger
}

func New(cfg Config, transport transports.Transport, analyzer adaptervision.BatchAnalyzer, synth speech.Synthesizer) *Engine {
	reg := session.NewRegistry()
	e := &Engine{
		cfg:       cfg,
		transport: transport,
		reg:       reg,
		loader:    vision.NewLoader(time.Duration(cfg.Vision.FrameTimeoutSeconds) * time.Second),
		obs:       metrics.NoopObserver{},
		logger:    logging.NewComponentLogger(slog.Default(), "engine"),
	}
	e.sched = scheduler.New(scheduler.Config{
		BatchSize:           cfg.Batch.Size,
		MaxConcurrent:       cfg.Batch.MaxConcurrent,
		Task:                cfg.Task,
		SimilarityThreshold: cfg.Batch.SimilarityThreshold,
		DeleteProcessed:     cfg.Batch.DeleteProcessed,
	}, reg, analyzer, synth, e.emit)
	return e
}

// Registry exposes the per-key registry for the HTTP status surface.
func (e *Engine) Registry() *session.Registry { return e.reg }

func (e *Engine) SetObserver(obs metrics.Observer) {
	if obs != nil {
		e.obs = obs
		e.sched.SetObserver(obs)
	}
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logging.NewComponentLogger(logger, "engine")
		e.sched.SetLogger(logger)
	}
}

// Run starts the transport and processes its events until the context is
// cancelled or the transport closes its receive channel. In-flight batches
// are drained before returning.
func (e *Engine) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.sched.SetContext(ctx)
	if err := e.transport.Start(ctx); err != nil {
		return err
	}
	if rr, ok := e.transport.(transports.ReadyReporter); ok {
		e.logger.Info("transport ready", slog.Any("fields", rr.ReadyFields()))
	}
	for {
		select {
		case <-ctx.Done():
			return e.Drain()
		case ev, ok := <-e.transport.Recv():
			if !ok {
				return e.Drain()
			}
			e.handle(ctx, ev)
		}
	}
}

// Drain waits for in-flight batches to finish.
func (e *Engine) Drain() error {
	return e.sched.Drain()
}

func (e *Engine) handle(ctx context.Context, ev events.Event) {
	switch evt := ev.(type) {
	case events.SessionStarted:
		key, ok := e.key(evt.SessionID, evt.ParticipantID, ev.Type())
		if !ok {
			return
		}
		e.reg.Reset(key)
		e.logger.Info("session started", slog.String("key", key.String()))
		if err := e.transport.Send(events.StartGameAck{SessionID: evt.SessionID, ParticipantID: evt.ParticipantID}); err != nil {
			e.logger.Error("start ack send failed", slog.String("error", err.Error()))
		}

	case events.FrameNew:
		key, ok := e.key(evt.SessionID, evt.ParticipantID, ev.Type())
		if !ok {
			return
		}
		e.ingestFrames(ctx, key, evt.Frames)

	case events.SessionEnded:
		key, ok := e.key(evt.SessionID, evt.ParticipantID, ev.Type())
		if !ok {
			return
		}
		e.reg.Reset(key)
		e.logger.Info("session ended", slog.String("key", key.String()))

	case events.Disconnected:
		e.logger.Warn("transport disconnected, resetting all sessions",
			slog.String("reason", evt.Reason))
		e.reg.ResetAll()

	default:
		e.logger.Warn("unhandled event", slog.String("event", string(ev.Type())))
	}
}

func (e *Engine) ingestFrames(ctx context.Context, key session.Key, sources []events.FrameSource) {
	for _, src := range sources {
		if src.Path != "" && !e.reg.MarkSeen(key, src.Path) {
			e.logger.Debug("duplicate frame skipped",
				slog.String("key", key.String()),
				slog.String("path", src.Path))
			continue
		}
		payload, err := e.loader.Load(ctx, src)
		if err != nil {
			e.logger.Warn("frame dropped",
				slog.String("key", key.String()),
				slog.String("path", src.Path),
				slog.String("error", err.Error()))
			continue
		}
		rec := session.Record{Payload: payload, ReceivedAt: time.Now()}
		if src.Path != "" && !strings.HasPrefix(src.Path, "http://") && !strings.HasPrefix(src.Path, "https://") {
			rec.Source = src.Path
		}
		size := e.reg.Append(key, rec)
		e.obs.RecordEvent(metrics.MetricsEvent{
			Name:  "frame_received",
			Time:  time.Now(),
			Value: float64(size),
			Tags:  map[string]string{"key": key.String()},
		})
		e.sched.OnFrameAdded(key)
	}
}

// key validates event identifiers; malformed events are logged and discarded
// without touching any buffer.
func (e *Engine) key(sessionID, participantID string, evType events.Type) (session.Key, bool) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(participantID) == "" {
		e.logger.Warn("event missing session or participant id, discarded",
			slog.String("event", string(evType)))
		return session.Key{}, false
	}
	return session.Key{SessionID: sessionID, ParticipantID: participantID}, true
}

func (e *Engine) emit(key session.Key, result adaptervision.Result, audio []byte) {
	resp := events.AIResponse{
		SessionID:     key.SessionID,
		ParticipantID: key.ParticipantID,
		Result:        result.Message,
	}
	if len(audio) > 0 {
		resp.ResultAudio = base64.StdEncoding.EncodeToString(audio)
	}
	if err := e.transport.Send(resp); err != nil {
		e.logger.Error("response send failed",
			slog.String("key", key.String()),
			slog.String("error", err.Error()))
	}
}
