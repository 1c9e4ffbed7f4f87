package vision

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/harunnryd/vigil/pkg/adapters/vision"
	"github.com/harunnryd/vigil/pkg/errorsx"
	"github.com/harunnryd/vigil/pkg/logging"
	"github.com/harunnryd/vigil/pkg/metrics"
)

// DefaultMonitoringMessage is returned when no sub-analysis of a batch
// succeeds.
const DefaultMonitoringMessage = "I'm monitoring your surroundings. Keep going safely!"

type Config struct {
	Concurrency  int
	FrameTimeout time.Duration
	MaxDimension int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.FrameTimeout <= 0 {
		c.FrameTimeout = 10 * time.Second
	}
	if c.MaxDimension <= 0 {
		c.MaxDimension = 1024
	}
	return c
}

// Engine aggregates per-frame model calls into one batch result. It fans out
// one sub-analysis per frame with bounded concurrency, drops sub-analyses
// that fail or exceed the per-frame timeout, and condenses the survivors into
// a single message.
type Engine struct {
	cfg      Config
	analyzer vision.FrameAnalyzer
	summary  vision.Summarizer
	obs      metrics.Observer
	logger   *slog.Logger
}

func NewEngine(cfg Config, analyzer vision.FrameAnalyzer, summary vision.Summarizer) *Engine {
	return &Engine{
		cfg:      cfg.withDefaults(),
		analyzer: analyzer,
		summary:  summary,
		obs:      metrics.NoopObserver{},
		logger:   logging.NewComponentLogger(slog.Default(), "vision_engine"),
	}
}

func (e *Engine) SetObserver(obs metrics.Observer) {
	if obs != nil {
		e.obs = obs
	}
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logging.NewComponentLogger(logger, "vision_engine")
	}
}

// AnalyzeBatch analyzes an ordered batch of frames against the task
// description and returns one aggregated result. It never fails on individual
// frame errors; with zero usable sub-results it degrades to the default
// monitoring message.
func (e *Engine) AnalyzeBatch(ctx context.Context, frames [][]byte, task string) (vision.Result, error) {
	start := time.Now()
	e.logger.Info("analyzing batch", slog.Int("frames", len(frames)))

	type indexed struct {
		i   int
		obs vision.Observation
	}
	results := make([]indexed, 0, len(frames))

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, e.cfg.Concurrency)
	)
	for i, frame := range frames {
		if len(frame) == 0 {
			continue
		}
		wg.Add(1)
		go func(i int, frame []byte) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			frameCtx, cancel := context.WithTimeout(ctx, e.cfg.FrameTimeout)
			defer cancel()

			obs, err := e.analyzer.AnalyzeFrame(frameCtx, e.prepare(frame), task)
			if err != nil {
				e.logger.Warn("frame analysis dropped",
					slog.Int("frame", i+1),
					slog.String("reason", string(errorsx.Reason(err))),
					slog.String("error", err.Error()))
				return
			}
			if obs.Status == vision.StatusError {
				return
			}
			mu.Lock()
			results = append(results, indexed{i: i, obs: obs})
			mu.Unlock()
		}(i, frame)
	}
	wg.Wait()
	// Workers finish in arbitrary order; observations must follow frame order
	// so priority selection is deterministic.
	sort.Slice(results, func(a, b int) bool { return results[a].i < results[b].i })

	e.logger.Info("batch analyzed",
		slog.Int("frames", len(frames)),
		slog.Int("usable", len(results)),
		slog.Duration("elapsed", time.Since(start)))

	if len(results) == 0 {
		return vision.Result{
			Status:  vision.StatusOK,
			Message: DefaultMonitoringMessage,
		}, nil
	}

	var dangerCount, adjustmentCount, okCount int
	observations := make([]vision.Observation, len(results))
	for i, r := range results {
		observations[i] = r.obs
		switch r.obs.Status {
		case vision.StatusDanger:
			dangerCount++
		case vision.StatusNeedsAdjustment:
			adjustmentCount++
		case vision.StatusOK:
			okCount++
		}
	}

	overall := vision.StatusOK
	if dangerCount > 0 {
		overall = vision.StatusDanger
	} else if adjustmentCount > 0 {
		overall = vision.StatusNeedsAdjustment
	}

	priority := priorityObservations(observations, overall)
	message := e.summarize(ctx, task, overall, priority, len(frames))

	result := vision.Result{
		Status:          overall,
		Message:         message,
		HasChanges:      true,
		DangerCount:     dangerCount,
		AdjustmentCount: adjustmentCount,
		OKCount:         okCount,
	}
	e.obs.RecordEvent(metrics.MetricsEvent{
		Name:  "vision_batch",
		Time:  time.Now(),
		Value: time.Since(start).Seconds(),
		Tags:  map[string]string{"status": string(overall)},
	})
	return result, nil
}

// priorityObservations selects the observations worth surfacing: at most two
// matching the overall status, or a single one when everything is ok.
func priorityObservations(observations []vision.Observation, overall vision.Status) []string {
	if overall == vision.StatusOK {
		for _, o := range observations {
			if o.Observation != "" {
				return []string{o.Observation}
			}
		}
		return nil
	}
	out := make([]string, 0, 2)
	for _, o := range observations {
		if o.Status == overall && o.Observation != "" {
			out = append(out, o.Observation)
			if len(out) == 2 {
				break
			}
		}
	}
	return out
}

func (e *Engine) summarize(ctx context.Context, task string, overall vision.Status, priority []string, frameCount int) string {
	prompt := summaryPrompt(task, overall, priority, frameCount)
	message, err := e.summary.GenerateText(ctx, prompt)
	if err != nil {
		e.logger.Warn("summary generation failed, using fallback",
			slog.String("status", string(overall)),
			slog.String("error", err.Error()))
		return fallbackMessage(overall)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return fallbackMessage(overall)
	}
	return message
}

func summaryPrompt(task string, overall vision.Status, priority []string, frameCount int) string {
	var label string
	switch overall {
	case vision.StatusDanger:
		label = "URGENT: Safety concerns detected."
	case vision.StatusNeedsAdjustment:
		label = "Some adjustments recommended."
	default:
		label = "Everything proceeding well."
	}
	return fmt.Sprintf(`Act as a supportive assistant guiding a player through an AR/VR session.
Task: %s
Status: %s
Key observations from %d frames: %s

Provide ONE concise, supportive response (1 or max 2 sentences) that:
1. Gives the most important guidance and the appropriate next step
2. Sounds natural and human-like`,
		task, label, frameCount, strings.Join(priority, "; "))
}

func fallbackMessage(overall vision.Status) string {
	switch overall {
	case vision.StatusDanger:
		return "Safety alert! Please review your current actions."
	case vision.StatusNeedsAdjustment:
		return "Good progress! Consider making some adjustments."
	default:
		return "Excellent work! Keep it up."
	}
}

// prepare downscales oversized frames to the configured maximum dimension.
// Frames that cannot be decoded pass through untouched; the model call is the
// arbiter of whether they are usable.
func (e *Engine) prepare(frame []byte) []byte {
	img, err := imaging.Decode(bytes.NewReader(frame))
	if err != nil {
		return frame
	}
	bounds := img.Bounds()
	if bounds.Dx() <= e.cfg.MaxDimension && bounds.Dy() <= e.cfg.MaxDimension {
		return frame
	}
	resized := imaging.Fit(img, e.cfg.MaxDimension, e.cfg.MaxDimension, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG); err != nil {
		return frame
	}
	return buf.Bytes()
}

var _ vision.BatchAnalyzer = (*Engine)(nil)
