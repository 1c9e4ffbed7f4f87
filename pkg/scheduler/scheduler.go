// Package scheduler admits buffered frame batches for analysis: one in-flight
// batch per key, a global cap on concurrent batches, and drain-to-exhaustion
// re-arming once a key is triggered.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/vigil/pkg/adapters/speech"
	"github.com/harunnryd/vigil/pkg/adapters/vision"
	"github.com/harunnryd/vigil/pkg/gate"
	"github.com/harunnryd/vigil/pkg/logging"
	"github.com/harunnryd/vigil/pkg/metrics"
	"github.com/harunnryd/vigil/pkg/session"
)

type Config struct {
	BatchSize           int
	MaxConcurrent       int
	Task                string
	SimilarityThreshold float64
	DeleteProcessed     bool
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 4
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = gate.DefaultSimilarityThreshold
	}
	return c
}

// Emitter delivers an approved result (with rendered audio, possibly empty)
// outward.
type Emitter func(key session.Key, result vision.Result, audio []byte)

type Scheduler struct {
	cfg      Config
	reg      *session.Registry
	analyzer vision.BatchAnalyzer
	synth    speech.Synthesizer
	emit     Emitter

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	obs    metrics.Observer
	logger *slog.Logger
}

func New(cfg Config, reg *session.Registry, analyzer vision.BatchAnalyzer, synth speech.Synthesizer, emit Emitter) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg:      cfg,
		reg:      reg,
		analyzer: analyzer,
		synth:    synth,
		emit:     emit,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		ctx:      context.Background(),
		obs:      metrics.NoopObserver{},
		logger:   logging.NewComponentLogger(slog.Default(), "scheduler"),
	}
}

func (s *Scheduler) SetContext(ctx context.Context) {
	if ctx != nil {
		s.ctx = ctx
	}
}

func (s *Scheduler) SetObserver(obs metrics.Observer) {
	if obs != nil {
		s.obs = obs
	}
}

func (s *Scheduler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logging.NewComponentLogger(logger, "scheduler")
	}
}

// OnFrameAdded is invoked after each append. When the key's buffer has
// reached the batch size and no batch is in flight, it drains one batch and
// dispatches it on a background worker. It never blocks the inbound frame
// path and never returns an error to the caller.
func (s *Scheduler) OnFrameAdded(key session.Key) {
	batch, gen, ok := s.reg.Admit(key, s.cfg.BatchSize)
	if !ok {
		return
	}
	s.wg.Add(1)
	go s.process(key, batch, gen)
}

// Drain waits for all in-flight batches to finish.
func (s *Scheduler) Drain() error {
	s.wg.Wait()
	return nil
}

// process runs the key's batches back-to-back until the buffer drops below
// threshold. The in-flight flag stays set for the whole run, so batches for
// one key are strictly ordered.
func (s *Scheduler) process(key session.Key, batch []session.Record, gen uint64) {
	defer s.wg.Done()
	for {
		s.runBatch(key, batch, gen)
		next, more := s.reg.Rearm(key, gen, s.cfg.BatchSize)
		if !more {
			return
		}
		batch = next
	}
}

// runBatch executes one batch end to end. Every failure is absorbed here:
// the worst outcome for any batch is a suppressed or degraded update.
func (s *Scheduler) runBatch(key session.Key, batch []session.Record, gen uint64) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("batch panic recovered",
				slog.String("key", key.String()),
				slog.Any("panic", r))
		}
	}()

	batchID := uuid.NewString()
	logger := s.logger.With(
		slog.String("key", key.String()),
		slog.String("batch_id", batchID))

	// The batch is already drained from the buffer, so its files are done
	// regardless of whether the result is sent, suppressed or discarded.
	if s.cfg.DeleteProcessed {
		defer s.removeSources(batch, logger)
	}

	payloads := make([][]byte, 0, len(batch))
	for _, rec := range batch {
		if len(rec.Payload) > 0 {
			payloads = append(payloads, rec.Payload)
		}
	}
	if len(payloads) == 0 {
		logger.Warn("batch had no readable frames, skipping analysis")
		return
	}

	select {
	case s.sem <- struct{}{}:
	case <-s.ctx.Done():
		return
	}
	start := time.Now()
	result, err := s.analyzer.AnalyzeBatch(s.ctx, payloads, s.cfg.Task)
	<-s.sem

	if err != nil {
		logger.Error("batch analysis failed", slog.String("error", err.Error()))
		s.obs.RecordEvent(metrics.MetricsEvent{
			Name: "batch_failed",
			Time: time.Now(),
			Tags: map[string]string{"key": key.String()},
		})
		return
	}

	send, stale := s.reg.Commit(key, gen, func(prior session.State) (bool, session.State) {
		return gate.Decide(result, prior, s.cfg.SimilarityThreshold)
	})
	switch {
	case stale:
		logger.Info("batch result discarded, key was reset mid-flight")
		return
	case !send:
		logger.Info("batch result suppressed",
			slog.String("status", string(result.Status)))
		s.obs.RecordEvent(metrics.MetricsEvent{
			Name: "batch_suppressed",
			Time: time.Now(),
			Tags: map[string]string{"key": key.String(), "status": string(result.Status)},
		})
		return
	}

	audio, err := s.synth.Synthesize(s.ctx, result.Message)
	if err != nil {
		// Degrade to a text-only update rather than dropping the batch.
		logger.Warn("speech synthesis failed", slog.String("error", err.Error()))
		audio = nil
	}

	s.emit(key, result, audio)
	logger.Info("batch result sent",
		slog.String("status", string(result.Status)),
		slog.Duration("elapsed", time.Since(start)))
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:  "batch_sent",
		Time:  time.Now(),
		Value: time.Since(start).Seconds(),
		Tags:  map[string]string{"key": key.String(), "status": string(result.Status)},
	})
}

func (s *Scheduler) removeSources(batch []session.Record, logger *slog.Logger) {
	for _, rec := range batch {
		if rec.Source == "" {
			continue
		}
		if err := os.Remove(rec.Source); err != nil && !os.IsNotExist(err) {
			logger.Warn("could not delete processed frame",
				slog.String("path", rec.Source),
				slog.String("error", err.Error()))
		}
	}
}
