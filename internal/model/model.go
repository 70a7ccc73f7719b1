package model

import (
	"fmt"
	"strings"
)

// ContentType is the kind of a piece of writing.
type ContentType string

const (
	TypeStory  ContentType = "story"
	TypePoetry ContentType = "poetry"
	TypeQuote  ContentType = "quote"
)

// ContentTypes lists the known types in display order.
var ContentTypes = []ContentType{TypeStory, TypePoetry, TypeQuote}

// ParseContentType accepts the canonical names plus the plural and
// colloquial forms the editor and bundle directories use.
func ParseContentType(s string) (ContentType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "story", "stories":
		return TypeStory, nil
	case "poetry", "poem", "poems":
		return TypePoetry, nil
	case "quote", "quotes":
		return TypeQuote, nil
	}
	return "", fmt.Errorf("unknown content type %q", s)
}

// ContentItem is a single story, poem or quote.
type ContentItem struct {
	ID      string      `json:"id" yaml:"id"`
	Type    ContentType `json:"type" yaml:"type"`
	Title   string      `json:"title,omitempty" yaml:"title,omitempty"`
	Body    string      `json:"body" yaml:"-"`
	Excerpt string      `json:"excerpt,omitempty" yaml:"excerpt,omitempty"`
	Date    string      `json:"date,omitempty" yaml:"date,omitempty"`
}

// SiteSettings holds the site-wide copy shown around the content.
type SiteSettings struct {
	SiteTitle       string   `json:"siteTitle" yaml:"siteTitle"`
	SiteDescription string   `json:"siteDescription" yaml:"siteDescription"`
	AuthorName      string   `json:"authorName" yaml:"authorName"`
	AuthorBio       string   `json:"authorBio" yaml:"authorBio"`
	AuthorRoles     []string `json:"authorRoles" yaml:"authorRoles"`
}

// Snapshot is everything a source can hand the repository in one load.
type Snapshot struct {
	Settings SiteSettings  `json:"settings"`
	Ledger   Ledger        `json:"ledger"`
	Items    []ContentItem `json:"items"`
}

// Empty reports whether the snapshot carries no content.
func (s Snapshot) Empty() bool {
	return len(s.Items) == 0
}

// DefaultSettings is used when no source provides settings.
func DefaultSettings() SiteSettings {
	return SiteSettings{
		SiteTitle:       "Collected Writing",
		SiteDescription: "Stories, poems and the occasional borrowed line.",
		AuthorName:      "The Author",
		AuthorBio:       "Writes in the margins of other things.",
		AuthorRoles:     []string{"Writer", "Poet"},
	}
}

// DefaultSnapshot is the last link of the fallback chain.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Settings: DefaultSettings(),
		Items: []ContentItem{{
			ID:   "welcome",
			Type: TypeQuote,
			Body: "There is no greater agony than bearing an untold story inside you.",
		}},
	}
}
