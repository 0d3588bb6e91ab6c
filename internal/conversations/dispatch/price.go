package dispatch

import (
	"regexp"
	"strconv"
	"strings"
)

var pricePattern = regexp.MustCompile(`\b\d{1,3}[.,]\d{2}\b`)

// InferPrice returns the last price-like token mentioned in texts, which are
// expected oldest first.
func InferPrice(texts []string) (float64, bool) {
	for i := len(texts) - 1; i >= 0; i-- {
		matches := pricePattern.FindAllString(texts[i], -1)
		for j := len(matches) - 1; j >= 0; j-- {
			v, err := strconv.ParseFloat(strings.Replace(matches[j], ",", ".", 1), 64)
			if err == nil && v > 0 {
				return v, true
			}
		}
	}
	return 0, false
}
