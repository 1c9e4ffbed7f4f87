package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/vigil/pkg/adapters/speech"
)

// Synthesizer is a deterministic in-memory speech provider: the rendered
// audio is the text prefixed with "audio:".
type Synthesizer struct {
	mu    sync.Mutex
	err   error
	texts []string
}

func NewSynthesizer() *Synthesizer { return &Synthesizer{} }

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Texts returns every text synthesized so far.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.texts = append(s.texts, text)
	return []byte("audio:" + text), nil
}

var _ speech.Synthesizer = (*Synthesizer)(nil)
