package dispatch

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"chatfunnel_backend/internal/conversations/domain"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Asset is one entry of the fixed media catalog.
type Asset struct {
	Type    domain.MediaType `yaml:"type"`
	URL     string           `yaml:"url"`
	Caption string           `yaml:"caption"`
}

// Phrases are the fixed texts sent around side effects. PaymentPending takes
// the raw provider status as its only verb.
type Phrases struct {
	MediaFailed        string `yaml:"media_failed"`
	PaymentIntro       string `yaml:"payment_intro"`
	PaymentResent      string `yaml:"payment_resent"`
	PaymentFailed      string `yaml:"payment_failed"`
	PaymentMissing     string `yaml:"payment_missing"`
	PaymentNoID        string `yaml:"payment_no_id"`
	PaymentConfirmed   string `yaml:"payment_confirmed"`
	PaymentPending     string `yaml:"payment_pending"`
	PaymentCheckFailed string `yaml:"payment_check_failed"`
}

// Catalog is the fixed media catalog plus dispatcher phrases.
type Catalog struct {
	Assets  map[domain.MediaTag]Asset `yaml:"assets"`
	Phrases Phrases                   `yaml:"phrases"`
}

// ParseCatalog decodes and validates a catalog document. Every fixed media
// tag must have an image or video asset.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode media catalog: %w", err)
	}

	for _, tag := range domain.FixedMediaTags {
		asset, ok := c.Assets[tag]
		if !ok || strings.TrimSpace(asset.URL) == "" {
			return nil, fmt.Errorf("media catalog has no asset for %s", tag)
		}
		if asset.Type != domain.MediaImage && asset.Type != domain.MediaVideo {
			return nil, fmt.Errorf("media catalog asset %s has unsupported type %q", tag, asset.Type)
		}
	}
	if !strings.Contains(c.Phrases.PaymentPending, "%s") {
		return nil, fmt.Errorf("media catalog payment_pending phrase must contain %%s")
	}
	return &c, nil
}

// LoadCatalog reads the catalog at path, or the built-in one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalogYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read media catalog: %w", err)
	}
	return ParseCatalog(data)
}

// Lookup returns the asset for a fixed media tag.
func (c *Catalog) Lookup(tag domain.MediaTag) (Asset, bool) {
	a, ok := c.Assets[tag]
	return a, ok
}
