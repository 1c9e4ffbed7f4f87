package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/vigil/pkg/adapters/vision"
)

// AnalyzerConfig scripts the deterministic behavior of the mock vision
// provider.
type AnalyzerConfig struct {
	// Observations are returned round-robin per AnalyzeFrame call.
	Observations []vision.Observation
	// FrameErr, when set, fails every AnalyzeFrame call.
	FrameErr error
	// SummaryText is returned by GenerateText; SummaryErr takes precedence.
	SummaryText string
	SummaryErr  error
}

// Analyzer is an in-memory vision provider for tests.
type Analyzer struct {
	cfg    AnalyzerConfig
	mu     sync.Mutex
	calls  int
	blocks chan struct{}
}

func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

func (a *Analyzer) Name() string { return "mock_vision" }

// Block makes subsequent AnalyzeFrame calls wait until Release is called,
// for tests exercising in-flight behavior.
func (a *Analyzer) Block() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocks = make(chan struct{})
}

func (a *Analyzer) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.blocks != nil {
		close(a.blocks)
		a.blocks = nil
	}
}

// Calls reports how many AnalyzeFrame invocations completed.
func (a *Analyzer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *Analyzer) AnalyzeFrame(ctx context.Context, image []byte, task string) (vision.Observation, error) {
	a.mu.Lock()
	gate := a.blocks
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return vision.Observation{}, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg.FrameErr != nil {
		return vision.Observation{}, a.cfg.FrameErr
	}
	if len(a.cfg.Observations) == 0 {
		a.calls++
		return vision.Observation{Status: vision.StatusOK, Observation: "all clear"}, nil
	}
	obs := a.cfg.Observations[a.calls%len(a.cfg.Observations)]
	a.calls++
	return obs, nil
}

func (a *Analyzer) GenerateText(ctx context.Context, prompt string) (string, error) {
	if a.cfg.SummaryErr != nil {
		return "", a.cfg.SummaryErr
	}
	if a.cfg.SummaryText != "" {
		return a.cfg.SummaryText, nil
	}
	return "mock summary", nil
}

// BatchAnalyzer is a scripted whole-batch analyzer for scheduler tests, where
// per-frame fan-out is irrelevant.
type BatchAnalyzer struct {
	mu      sync.Mutex
	results []vision.Result
	err     error
	calls   int
	started chan struct{}
	release chan struct{}
}

func NewBatchAnalyzer(results ...vision.Result) *BatchAnalyzer {
	return &BatchAnalyzer{results: results}
}

func (b *BatchAnalyzer) Name() string { return "mock_batch_vision" }

func (b *BatchAnalyzer) Fail(err error) { b.mu.Lock(); b.err = err; b.mu.Unlock() }

// Hold makes the next AnalyzeBatch call park until Release. Started signals
// when the call has begun.
func (b *BatchAnalyzer) Hold() (started, release chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = make(chan struct{}, 1)
	b.release = make(chan struct{})
	return b.started, b.release
}

func (b *BatchAnalyzer) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *BatchAnalyzer) AnalyzeBatch(ctx context.Context, frames [][]byte, task string) (vision.Result, error) {
	b.mu.Lock()
	b.calls++
	call := b.calls
	started, release := b.started, b.release
	err := b.err
	b.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return vision.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return vision.Result{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.results) == 0 {
		return vision.Result{Status: vision.StatusOK, Message: "mock result", HasChanges: true}, nil
	}
	idx := call - 1
	if idx >= len(b.results) {
		idx = len(b.results) - 1
	}
	return b.results[idx], nil
}

var (
	_ vision.FrameAnalyzer = (*Analyzer)(nil)
	_ vision.Summarizer    = (*Analyzer)(nil)
	_ vision.BatchAnalyzer = (*BatchAnalyzer)(nil)
)
