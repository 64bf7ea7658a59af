// Package messages defines the three stream message schemas (§3) and their
// string-field serialization to and from the bus.
package messages

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const schemaVersion = "1"

// RawArticle is the raw_articles stream schema, emitted by the Collector.
type RawArticle struct {
	Version     string
	ID          string
	Title       string
	URL         string
	Summary     string
	Categories  []string
	PublishedAt string // ISO-8601, or "" if unknown
	Source      string
}

// Fields serializes r to the bus field map.
func (r RawArticle) Fields() map[string]string {
	return map[string]string{
		"version":      schemaVersion,
		"id":           r.ID,
		"title":        r.Title,
		"url":          r.URL,
		"summary":      r.Summary,
		"categories":   strings.Join(r.Categories, ","),
		"published_at": r.PublishedAt,
		"source":       r.Source,
	}
}

// ParseRawArticle validates and decodes a bus field map into a RawArticle.
// A structurally invalid payload (missing id or url) is rejected so the
// caller can leave the message unacked.
func ParseRawArticle(fields map[string]string) (RawArticle, error) {
	r := RawArticle{
		Version:     fields["version"],
		ID:          fields["id"],
		Title:       fields["title"],
		URL:         fields["url"],
		Summary:     fields["summary"],
		PublishedAt: fields["published_at"],
		Source:      fields["source"],
	}
	if cats := fields["categories"]; cats != "" {
		r.Categories = strings.Split(cats, ",")
	}
	if r.ID == "" || r.URL == "" {
		return RawArticle{}, fmt.Errorf("messages: raw_articles payload missing id or url")
	}
	return r, nil
}

// EnrichedArticle is the enriched_articles stream schema, emitted by the
// Analyzer: RawArticle plus the enrichment fields.
type EnrichedArticle struct {
	RawArticle
	RelevanceScore float64
	DeveloperFocus bool
}

// Fields serializes e to the bus field map.
func (e EnrichedArticle) Fields() map[string]string {
	fields := e.RawArticle.Fields()
	fields["relevance_score"] = strconv.FormatFloat(e.RelevanceScore, 'f', -1, 64)
	fields["developer_focus"] = strconv.FormatBool(e.DeveloperFocus)
	return fields
}

// ParseEnrichedArticle validates and decodes a bus field map.
func ParseEnrichedArticle(fields map[string]string) (EnrichedArticle, error) {
	raw, err := ParseRawArticle(fields)
	if err != nil {
		return EnrichedArticle{}, err
	}
	relevance, _ := strconv.ParseFloat(fields["relevance_score"], 64)
	developerFocus, _ := strconv.ParseBool(fields["developer_focus"])
	return EnrichedArticle{RawArticle: raw, RelevanceScore: relevance, DeveloperFocus: developerFocus}, nil
}

// DigestReady is the digest_stream schema, emitted by the Composer.
type DigestReady struct {
	Version    string
	DigestID   string
	Title      string
	Summary    string
	URL        string
	Source     string
	InsertedAt string
}

// Fields serializes d to the bus field map.
func (d DigestReady) Fields() map[string]string {
	return map[string]string{
		"version":     schemaVersion,
		"digest_id":   d.DigestID,
		"title":       d.Title,
		"summary":     d.Summary,
		"url":         d.URL,
		"source":      d.Source,
		"inserted_at": d.InsertedAt,
	}
}

// ParseDigestReady validates and decodes a bus field map.
func ParseDigestReady(fields map[string]string) (DigestReady, error) {
	d := DigestReady{
		Version:    fields["version"],
		DigestID:   fields["digest_id"],
		Title:      fields["title"],
		Summary:    fields["summary"],
		URL:        fields["url"],
		Source:     fields["source"],
		InsertedAt: fields["inserted_at"],
	}
	if d.DigestID == "" {
		return DigestReady{}, fmt.Errorf("messages: digest_stream payload missing digest_id")
	}
	return d, nil
}

// FormatTime renders t as the ISO-8601 timestamp the stream schemas use.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
