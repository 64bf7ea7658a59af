package store

import "time"

// Article is the rave_articles row: a feed entry plus the enrichment fields
// the Analyzer adds. Summary holds the feed-supplied short summary until the
// Analyzer enriches the row, at which point it is overwritten in place with
// the LLM-generated summary — a single column, matching the original's
// overwrite behavior rather than keeping the two summaries side by side.
// RelevanceScore is a pointer so nil means "not yet enriched"; once non-nil
// it is never cleared back to nil (monotonic).
type Article struct {
	ID             string
	Title          string
	URL            string
	Summary        string
	Categories     []string
	PublishedAt    *time.Time
	Source         string
	RelevanceScore *float64
	DeveloperFocus bool
	InsertedAt     time.Time
}

// Digest is the digests row: a rendered, published-ready summary.
type Digest struct {
	ID         string
	Title      string
	URL        string
	Summary    string
	Source     string
	InsertedAt time.Time
}
