package domain

import "math"

// Metric identifies one dimension of the lead score.
type Metric int

const (
	MetricLust Metric = iota
	MetricFinancial
	MetricAffection
	MetricSentimental
)

// Metrics lists every metric in a stable order.
var Metrics = []Metric{MetricLust, MetricFinancial, MetricAffection, MetricSentimental}

func (m Metric) String() string {
	switch m {
	case MetricLust:
		return "lust"
	case MetricFinancial:
		return "financial"
	case MetricAffection:
		return "affection"
	case MetricSentimental:
		return "sentimental"
	default:
		return "unknown"
	}
}

const (
	ScoreMin = 0
	ScoreMax = 100
)

// LeadScore is the four-metric behavioral vector. Every field stays in [0,100]
// once it has passed through Clamp.
type LeadScore struct {
	Lust        int `json:"lust"`
	Financial   int `json:"financial"`
	Affection   int `json:"affection"`
	Sentimental int `json:"sentimental"`
}

// DefaultLeadScore is the starting vector for sessions without a stored score.
func DefaultLeadScore() LeadScore {
	return LeadScore{Lust: 5, Financial: 10, Affection: 20, Sentimental: 20}
}

// ClampMetric bounds a single value to [0,100].
func ClampMetric(v int) int {
	if v < ScoreMin {
		return ScoreMin
	}
	if v > ScoreMax {
		return ScoreMax
	}
	return v
}

// ClampFloat rounds and bounds a generated value. NaN becomes 0.
func ClampFloat(v float64) int {
	if math.IsNaN(v) {
		return ScoreMin
	}
	if v <= ScoreMin {
		return ScoreMin
	}
	if v >= ScoreMax {
		return ScoreMax
	}
	return int(math.Round(v))
}

// Clamp returns a copy with every metric bounded.
func (s LeadScore) Clamp() LeadScore {
	return LeadScore{
		Lust:        ClampMetric(s.Lust),
		Financial:   ClampMetric(s.Financial),
		Affection:   ClampMetric(s.Affection),
		Sentimental: ClampMetric(s.Sentimental),
	}
}

// IsZero reports whether all four metrics are zero.
func (s LeadScore) IsZero() bool {
	return s == LeadScore{}
}

// Get returns one metric.
func (s LeadScore) Get(m Metric) int {
	switch m {
	case MetricLust:
		return s.Lust
	case MetricFinancial:
		return s.Financial
	case MetricAffection:
		return s.Affection
	case MetricSentimental:
		return s.Sentimental
	default:
		return 0
	}
}

// With returns a copy where metric m is set to v (clamped).
func (s LeadScore) With(m Metric, v int) LeadScore {
	v = ClampMetric(v)
	switch m {
	case MetricLust:
		s.Lust = v
	case MetricFinancial:
		s.Financial = v
	case MetricAffection:
		s.Affection = v
	case MetricSentimental:
		s.Sentimental = v
	}
	return s
}

// Add returns a copy with delta applied to metric m, clamped.
func (s LeadScore) Add(m Metric, delta int) LeadScore {
	return s.With(m, s.Get(m)+delta)
}
