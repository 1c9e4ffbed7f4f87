// Package gate decides whether a batch analysis result is novel enough to
// surface to the player, suppressing repetitive notifications while always
// letting escalations, de-escalations and first contact through.
package gate

import (
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/harunnryd/vigil/pkg/adapters/vision"
	"github.com/harunnryd/vigil/pkg/session"
)

// DefaultSimilarityThreshold suppresses a result whose message is at least
// this similar to the last one sent.
const DefaultSimilarityThreshold = 0.7

// Decide evaluates a new result against the key's prior state. It returns
// whether to send and the successor state, which callers adopt only on send.
//
// Rules, in priority order: first result for a key is always sent (baseline);
// danger is always sent; an ok -> needs_adjustment transition is sent; a
// needs_adjustment -> ok recovery is sent; otherwise the message must differ
// substantively from the last one sent.
func Decide(result vision.Result, prior session.State, similarityThreshold float64) (bool, session.State) {
	if similarityThreshold <= 0 {
		similarityThreshold = DefaultSimilarityThreshold
	}
	next := session.State{
		LastStatus:   result.Status,
		LastMessage:  result.Message,
		BaselineSent: true,
	}

	switch {
	case !prior.BaselineSent:
		return true, next
	case result.Status == vision.StatusDanger:
		return true, next
	case result.Status == vision.StatusNeedsAdjustment && prior.LastStatus != vision.StatusNeedsAdjustment:
		return true, next
	case result.Status == vision.StatusOK && prior.LastStatus == vision.StatusNeedsAdjustment:
		return true, next
	}

	if Similarity(prior.LastMessage, result.Message) < similarityThreshold {
		return true, next
	}
	return false, prior
}

// Similarity returns a normalized, case-insensitive sequence similarity ratio
// in [0, 1] between two messages.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" && b == "" {
		return 1
	}
	return float64(fuzzy.Ratio(a, b)) / 100
}
