package commands

import (
	"errors"
	"log/slog"
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/harunnryd/vigil/pkg/errorsx"
	"github.com/harunnryd/vigil/pkg/logging"
	"github.com/harunnryd/vigil/pkg/redact"
)

// DefaultThreshold is the minimum fuzzy score (0-100) for a match to execute.
const DefaultThreshold = 75

const (
	StatusSuccess = "success"
	StatusNoMatch = "no_match"
)

// NoMatchSuggestion is spoken back when no phrase scores above threshold.
const NoMatchSuggestion = "Sorry, I didn't catch that."

// Result reports how a free-text utterance resolved against the phrase table.
type Result struct {
	Status     string
	Suggestion string
	Matched    string
	Canonical  string
	BestGuess  string
	Score      int
}

type Resolver struct {
	reg       *Registry
	threshold int
	logger    *slog.Logger
}

func NewResolver(reg *Registry, threshold int) *Resolver {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Resolver{
		reg:       reg,
		threshold: threshold,
		logger:    logging.NewComponentLogger(slog.Default(), "command_resolver"),
	}
}

func (r *Resolver) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logging.NewComponentLogger(logger, "command_resolver")
	}
}

// Resolve fuzzy-matches text against the phrase table. A score at or above
// the threshold executes the matched handler; otherwise the best-guess
// canonical and a fixed fallback suggestion are returned.
func (r *Resolver) Resolve(text string) (Result, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return Result{}, errorsx.Wrap(errors.New("empty command text"), errorsx.ReasonCommandResolve)
	}

	best, err := fuzzy.ExtractOne(text, r.reg.Phrases())
	if err != nil {
		return Result{}, errorsx.Wrap(err, errorsx.ReasonCommandResolve)
	}

	r.logger.Info("command matched",
		slog.String("text", redact.Text(text)),
		slog.String("match", best.Match),
		slog.Int("score", best.Score))

	if best.Score < r.threshold {
		return Result{
			Status:     StatusNoMatch,
			Suggestion: NoMatchSuggestion,
			Matched:    best.Match,
			BestGuess:  r.reg.Canonical(best.Match),
			Score:      best.Score,
		}, nil
	}

	entry, ok := r.reg.Lookup(best.Match)
	if !ok {
		return Result{}, errorsx.Wrap(errors.New("matched phrase missing from registry"), errorsx.ReasonCommandResolve)
	}
	return Result{
		Status:     StatusSuccess,
		Suggestion: entry.Handler(),
		Matched:    best.Match,
		Canonical:  entry.Canonical,
		Score:      best.Score,
	}, nil
}
