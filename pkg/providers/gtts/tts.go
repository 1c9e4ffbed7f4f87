// Package gtts renders speech through the Google Translate TTS endpoint.
package gtts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/harunnryd/vigil/pkg/adapters/speech"
	"github.com/harunnryd/vigil/pkg/errorsx"
	"github.com/harunnryd/vigil/pkg/resilience"
)

// maxChunkLen is the longest text fragment accepted per request; longer
// messages are split on word boundaries and the MP3 segments concatenated.
const maxChunkLen = 200

type Config struct {
	Language string
	Slow     bool
	BaseURL  string
	Timeout  time.Duration
}

type Synthesizer struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Synthesizer {
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://translate.google.com/translate_tts"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Synthesizer{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (s *Synthesizer) Name() string { return "gtts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errorsx.Wrap(fmt.Errorf("empty text"), errorsx.ReasonTTSRender)
	}
	var audio []byte
	for _, chunk := range splitChunks(text, maxChunkLen) {
		seg, err := s.fetch(ctx, chunk)
		if err != nil {
			return nil, err
		}
		audio = append(audio, seg...)
	}
	return audio, nil
}

func (s *Synthesizer) fetch(ctx context.Context, chunk string) ([]byte, error) {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", s.cfg.Language)
	q.Set("q", chunk)
	q.Set("textlen", fmt.Sprint(utf8.RuneCountInString(chunk)))
	if s.cfg.Slow {
		q.Set("ttsspeed", "0.3")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSRender)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSRender)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errorsx.Wrap(resilience.RateLimitError{Provider: "gtts", Message: resp.Status}, errorsx.ReasonTTSRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errorsx.Wrap(fmt.Errorf("gtts %s", resp.Status), errorsx.ReasonTTSRender)
	}
	return io.ReadAll(resp.Body)
}

// splitChunks breaks text into fragments no longer than limit runes,
// preferring word boundaries.
func splitChunks(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var chunks []string
	words := strings.Fields(text)
	var cur strings.Builder
	for _, w := range words {
		if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+1+utf8.RuneCountInString(w) > limit {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

var _ speech.Synthesizer = (*Synthesizer)(nil)
