package signals

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"chatfunnel_backend/platform/textnorm"

	"gopkg.in/yaml.v3"
)

const maxCityWords = 3

var (
	cityPattern      = regexp.MustCompile(`(?i)\b(?:sou|moro)\s+(?:de|do|da|em)\s+([\p{L}\s]{2,40})`)
	sentenceBreak    = regexp.MustCompile(`[\n\r.!?]`)
	locationQuestion = regexp.MustCompile(`(de onde (voce|vc) e|vc e de onde|qual (sua|a) cidade|onde (voce|vc) mora)`)
)

//go:embed neighbors.yaml
var neighborsYAML []byte

type neighborRule struct {
	Neighbor string   `yaml:"neighbor"`
	Contains []string `yaml:"contains"`
	Exact    []string `yaml:"exact"`
}

// NeighborTable maps a city to the "neighboring city" the persona claims.
type NeighborTable struct {
	Default string         `yaml:"default"`
	Rules   []neighborRule `yaml:"rules"`
}

// ParseNeighborTable decodes a YAML neighbor table.
func ParseNeighborTable(data []byte) (*NeighborTable, error) {
	var table NeighborTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("decode neighbor table: %w", err)
	}
	if strings.TrimSpace(table.Default) == "" {
		return nil, fmt.Errorf("neighbor table has no default")
	}
	return &table, nil
}

// DefaultNeighbors is the built-in table.
var DefaultNeighbors = mustNeighbors(neighborsYAML)

func mustNeighbors(data []byte) *NeighborTable {
	table, err := ParseNeighborTable(data)
	if err != nil {
		panic(err)
	}
	return table
}

// Lookup returns the neighbor for city, or the default placeholder.
func (t *NeighborTable) Lookup(city string) string {
	key := textnorm.Key(city)
	if key == "" {
		return t.Default
	}
	for _, rule := range t.Rules {
		for _, exact := range rule.Exact {
			if key == exact {
				return rule.Neighbor
			}
		}
		for _, fragment := range rule.Contains {
			if strings.Contains(key, fragment) {
				return rule.Neighbor
			}
		}
	}
	return t.Default
}

// InferCity extracts a self-reported city ("sou de X", "moro em X") from text.
// The capture stops at the first sentence break and keeps at most three words.
func InferCity(text string) (string, bool) {
	match := cityPattern.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	city := match[1]
	if loc := sentenceBreak.FindStringIndex(city); loc != nil {
		city = city[:loc[0]]
	}
	words := strings.Fields(city)
	if len(words) == 0 {
		return "", false
	}
	if len(words) > maxCityWords {
		words = words[:maxCityWords]
	}
	return strings.Join(words, " "), true
}

// SameCity compares two city names ignoring case and diacritics.
func SameCity(a, b string) bool {
	return textnorm.Key(a) == textnorm.Key(b)
}

// CityUpdate decides whether a newly detected city should replace the stored one.
func CityUpdate(stored, text string) (string, bool) {
	detected, ok := InferCity(text)
	if !ok {
		return stored, false
	}
	if textnorm.Key(stored) != "" && SameCity(stored, detected) {
		return stored, false
	}
	return detected, true
}

// AsksLocation reports whether the user asked where the persona lives.
func AsksLocation(text string) bool {
	return locationQuestion.MatchString(textnorm.Fold(text))
}

// LocationQuestionAnnotation tells the generator to ask for the lead's city first.
const LocationQuestionAnnotation = "[INTERNAL NOTE: the lead asked for your city but you do not know theirs yet. Ask where they are from first and do not state your city now.]"
