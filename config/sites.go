package config

import (
	"fmt"
	"os"
	"strings"

	"sjsage522/modaggregator/internal/model"
	apperrors "sjsage522/modaggregator/pkg/errors"

	"gopkg.in/yaml.v3"
)

// SitesFile is the YAML document listing site configurations.
type SitesFile struct {
	Sites []model.Site `yaml:"sites"`
}

// LoadSites reads and validates a YAML sites file.
func LoadSites(path string) ([]model.Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfig("read sites file", err)
	}
	return ParseSites(data)
}

// ParseSites decodes a sites document. Every site needs a name, a URL and a
// list selector.
func ParseSites(data []byte) ([]model.Site, error) {
	var file SitesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, apperrors.NewConfig("parse sites file", err)
	}

	seen := make(map[string]bool)
	for i, s := range file.Sites {
		switch {
		case strings.TrimSpace(s.Name) == "":
			return nil, apperrors.NewConfig(fmt.Sprintf("site #%d: missing name", i+1), nil)
		case strings.TrimSpace(s.URL) == "":
			return nil, apperrors.NewConfig("missing url", nil).WithSite(s.Name)
		case strings.TrimSpace(s.Config.ItemSelector) == "":
			return nil, apperrors.NewConfig("missing list_selector in parser config", nil).WithSite(s.Name)
		case seen[s.URL]:
			return nil, apperrors.NewConfig("duplicate site url", nil).WithSite(s.Name).WithURL(s.URL)
		}
		seen[s.URL] = true
	}
	return file.Sites, nil
}
