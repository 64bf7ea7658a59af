// Package feed fetches and parses RSS/Atom feeds for the Collector, using
// gofeed the way the catchup-feed-backend example repo does, with a
// dateparse fallback for entries whose publication timestamp the parser
// could not structure.
package feed

import (
	"context"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
)

// Entry is one parsed feed item, ready for dedup-check and persistence.
type Entry struct {
	ID          string
	Title       string
	URL         string
	Summary     string
	Categories  []string
	PublishedAt *time.Time
	Source      string
}

// Fetcher parses feeds into Entry values.
type Fetcher struct {
	parser *gofeed.Parser
}

// NewFetcher constructs a Fetcher with a standard User-Agent.
func NewFetcher() *Fetcher {
	p := gofeed.NewParser()
	p.UserAgent = "RaveDigest-Collector/1.0"
	return &Fetcher{parser: p}
}

// Fetch retrieves and parses feedURL, tagging every entry with source.
func (f *Fetcher) Fetch(ctx context.Context, feedURL, source string) ([]Entry, error) {
	parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		entries = append(entries, Entry{
			ID:          uuid.NewString(),
			Title:       item.Title,
			URL:         item.Link,
			Summary:     item.Description,
			Categories:  item.Categories,
			PublishedAt: resolvePublished(item),
			Source:      source,
		})
	}
	return entries, nil
}

// resolvePublished prefers gofeed's own parsed timestamp; falls back to
// dateparse on the raw published string; leaves nil if both fail, per the
// spec's "prefer parsed struct; fall back to ISO-8601, then RFC-2822; if
// both fail, leave unset" rule.
func resolvePublished(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}
	if item.Published == "" {
		return nil
	}
	if t, err := dateparse.ParseAny(item.Published); err == nil {
		return &t
	}
	return nil
}
