package scoring

import "chatfunnel_backend/internal/conversations/domain"

// StrongNegativeDelta is the heuristic drop from which the lower value wins.
const StrongNegativeDelta = -10

// Source says which branch produced a blended score.
type Source string

const (
	SourceHeuristic Source = "heuristic"
	SourceBlended   Source = "blended"
)

// Result is the outcome of one blend.
type Result struct {
	Score     domain.LeadScore
	Heuristic domain.LeadScore
	Source    Source
	Nudged    bool
}

// Blend merges the generated score with the keyword heuristic.
//
// A missing, all-zero or unchanged generated vector is discarded in favor of
// the heuristic. Otherwise each metric takes min(generated, heuristic) when
// the heuristic fell by 10 or more, and max(generated, heuristic) in every
// other case. Lust never rises without a positive trigger in this turn's
// text. An unchanged result on a turn with user text gets a small affection
// nudge scaled by word count.
func Blend(prev domain.LeadScore, generated *domain.LeadScore, userText string) Result {
	prev = prev.Clamp()
	in := NewInput(userText)
	heuristic := Heuristic(prev, in)

	result := Result{Heuristic: heuristic}
	if generated == nil || generated.IsZero() || generated.Clamp() == prev {
		result.Score = heuristic
		result.Source = SourceHeuristic
	} else {
		gen := generated.Clamp()
		blended := prev
		for _, metric := range domain.Metrics {
			h, g := heuristic.Get(metric), gen.Get(metric)
			value := max(g, h)
			if h-prev.Get(metric) <= StrongNegativeDelta {
				value = min(g, h)
			}
			blended = blended.With(metric, value)
		}
		result.Score = blended
		result.Source = SourceBlended
	}

	if !HasLustTrigger(in) && result.Score.Lust > prev.Lust {
		result.Score.Lust = prev.Lust
	}

	if result.Score == prev && in.Words > 0 {
		result.Score = result.Score.Add(domain.MetricAffection, stagnationNudge(in.Words))
		result.Nudged = true
	}

	result.Score = result.Score.Clamp()
	return result
}

func stagnationNudge(words int) int {
	if words >= 5 {
		return 5
	}
	return 2
}
