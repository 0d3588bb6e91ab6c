// Package signals extracts cheap conversational signals from a message
// batch: looped input and self-reported location.
package signals

import (
	"fmt"

	"chatfunnel_backend/platform/textnorm"
)

// LoopThreshold is the repeat count from which the generator is told to break the loop.
const LoopThreshold = 2

// Repetition describes how often the latest message was repeated back to back.
type Repetition struct {
	Count int
	Last  string
}

// Looping reports whether the annotation should be attached.
func (r Repetition) Looping() bool {
	return r.Count >= LoopThreshold
}

// DetectRepetition counts the trailing messages whose normalized text equals
// the normalized last message. A last message with no letters or digits
// never counts as a loop.
func DetectRepetition(contents []string) Repetition {
	if len(contents) == 0 {
		return Repetition{}
	}
	last := contents[len(contents)-1]
	normalizedLast := textnorm.Loose(last)
	if normalizedLast == "" {
		return Repetition{Last: last}
	}

	count := 0
	for i := len(contents) - 1; i >= 0; i-- {
		if textnorm.Loose(contents[i]) != normalizedLast {
			break
		}
		count++
	}
	return Repetition{Count: count, Last: last}
}

// LoopAnnotation is the internal note appended to the generator input.
func LoopAnnotation(r Repetition) string {
	return fmt.Sprintf("[INTERNAL NOTE: the lead sent the same message %dx (%q). Reply differently, break the loop and bring up something new. Do not repeat earlier sentences.]", r.Count, r.Last)
}
