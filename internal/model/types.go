package model

import (
	"net/url"
	"time"
)

// AnySite is the site ID used when a lookup or write is not scoped to a site.
const AnySite int64 = 0

// PlaceholderTitle is used for items whose title selector resolved nothing.
const PlaceholderTitle = "Unknown"

// ExtractionConfig contains the CSS selectors describing how to pull records
// out of one site's listing page. Field selectors are scoped to the item.
type ExtractionConfig struct {
	ListURL             string `json:"list_url,omitempty" yaml:"list_url,omitempty"`
	BaseURL             string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	ItemSelector        string `json:"list_selector" yaml:"list_selector"`
	TitleSelector       string `json:"title_selector,omitempty" yaml:"title_selector,omitempty"`
	URLSelector         string `json:"url_selector,omitempty" yaml:"url_selector,omitempty"`
	VersionSelector     string `json:"version_selector,omitempty" yaml:"version_selector,omitempty"`
	AuthorSelector      string `json:"author_selector,omitempty" yaml:"author_selector,omitempty"`
	ImageSelector       string `json:"image_selector,omitempty" yaml:"image_selector,omitempty"`
	DescriptionSelector string `json:"description_selector,omitempty" yaml:"description_selector,omitempty"`
	ChangesSelector     string `json:"changes_selector,omitempty" yaml:"changes_selector,omitempty"`

	// UpdatedSelector points at an element carrying the item's publication
	// time, either in a datetime attribute or as text parsed with UpdatedLayout
	// (RFC3339 when empty).
	UpdatedSelector string `json:"updated_selector,omitempty" yaml:"updated_selector,omitempty"`
	UpdatedLayout   string `json:"updated_layout,omitempty" yaml:"updated_layout,omitempty"`
}

// Site is a user-configured source of mod releases.
type Site struct {
	ID        int64            `json:"id" yaml:"-"`
	Name      string           `json:"name" yaml:"name"`
	URL       string           `json:"url" yaml:"url"`
	Config    ExtractionConfig `json:"parser_config" yaml:"parser_config"`
	CreatedAt time.Time        `json:"created_at" yaml:"-"`
	UpdatedAt time.Time        `json:"updated_at" yaml:"-"`
}

// ListingURL returns the page holding the site's item list.
func (s Site) ListingURL() string {
	if s.Config.ListURL != "" {
		return s.Config.ListURL
	}
	return s.URL
}

// BaseURL returns the prefix used for relative hrefs. When the config does not
// set one, the scheme and host of the site URL are used.
func (s Site) BaseURL() string {
	if s.Config.BaseURL != "" {
		return s.Config.BaseURL
	}
	u, err := url.Parse(s.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Record is one extracted mod release, identified by its absolute URL.
// Empty optional fields mean "absent".
type Record struct {
	ID          int64     `json:"id"`
	SiteID      int64     `json:"site_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Version     string    `json:"version,omitempty"`
	Author      string    `json:"author,omitempty"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	Changes     string    `json:"changes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChangeEvent reports that a previously known record was updated.
type ChangeEvent struct {
	RecordID   int64  `json:"mod_id"`
	SiteID     int64  `json:"site_id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	OldVersion string `json:"old_version,omitempty"`
	NewVersion string `json:"new_version,omitempty"`
	Changes    string `json:"changes,omitempty"`
}

// PageSnapshot is one stored capture of a page. Version is a UTC RFC3339
// instant with fixed nanosecond width so that string order is time order.
type PageSnapshot struct {
	ID        int64     `json:"id"`
	SiteID    int64     `json:"site_id"`
	URL       string    `json:"url"`
	Location  string    `json:"location"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// VersionLayout formats snapshot version timestamps.
const VersionLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatVersion renders t as a snapshot version string.
func FormatVersion(t time.Time) string {
	return t.UTC().Format(VersionLayout)
}

// Notification is a stored, user-visible notice about a change.
type Notification struct {
	ID        int64     `json:"id"`
	RecordID  int64     `json:"mod_id"`
	SiteID    int64     `json:"site_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
