package vision

import "context"

// Status classifies what the model saw in a frame or batch.
type Status string

const (
	StatusNone            Status = "none"
	StatusOK              Status = "ok"
	StatusNeedsAdjustment Status = "needs_adjustment"
	StatusDanger          Status = "danger"
	StatusError           Status = "error"
)

// Observation is the per-frame output of the vision model.
type Observation struct {
	Status      Status `json:"status"`
	Observation string `json:"observation"`
}

// Result is the aggregated outcome of one batch analysis.
type Result struct {
	Status          Status
	Message         string
	HasChanges      bool
	DangerCount     int
	AdjustmentCount int
	OKCount         int
}

// FrameAnalyzer analyzes a single image against a task description.
type FrameAnalyzer interface {
	AnalyzeFrame(ctx context.Context, image []byte, task string) (Observation, error)
}

// Summarizer turns a composed prompt into one natural-language message.
type Summarizer interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// BatchAnalyzer produces one Result for an ordered batch of frames.
type BatchAnalyzer interface {
	AnalyzeBatch(ctx context.Context, frames [][]byte, task string) (Result, error)
}
