package speech

import "context"

// Synthesizer renders text to audio bytes (MP3). Implementations are
// network-bound; callers must treat failures as degradation, not fatal.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
