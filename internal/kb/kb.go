// Package kb implements the knowledge-base publisher client: a Notion-page
// creation API call over plain net/http. No Notion SDK is available in the
// example pack, so the client is hand-rolled here, grounded in shape (not
// logic) on the teacher's internal/webhooks/svix_client.go — an interface
// plus a concrete HTTP-backed implementation with a compile-time assertion.
package kb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

const (
	apiBaseURL    = "https://api.notion.com/v1"
	apiVersion    = "2022-06-28"
	maxSummaryLen = 2000
)

// Block is one Notion block in a page's children list.
type Block struct {
	Object string                 `json:"object"`
	Type   string                 `json:"type"`
	Data   map[string]interface{} `json:"-"`
}

// MarshalJSON inlines Data under the block's Type key, matching Notion's
// block-object wire shape.
func (b Block) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		"object": b.Object,
		"type":   b.Type,
	}
	m[b.Type] = b.Data
	return json.Marshal(m)
}

// Page is the properties + children payload posted to create a page.
type Page struct {
	Title      string
	URL        string
	Source     string
	Summary    string
	InsertedAt string
	Blocks     []Block
}

// Publisher creates pages in the configured knowledge-base database.
type Publisher interface {
	Publish(ctx context.Context, page Page) (string, error)
}

// Client is the HTTP-backed Publisher implementation.
type Client struct {
	httpClient *http.Client
	apiKey     string
	databaseID string
}

var _ Publisher = (*Client)(nil)

// New constructs a Client.
func New(httpClient *http.Client, apiKey, databaseID string) *Client {
	return &Client{httpClient: httpClient, apiKey: apiKey, databaseID: databaseID}
}

// Publish posts page as a new page in the configured database and returns
// the created page's URL.
func (c *Client) Publish(ctx context.Context, page Page) (string, error) {
	summary := page.Summary
	if len(summary) > maxSummaryLen {
		summary = summary[:maxSummaryLen]
	}

	body := map[string]interface{}{
		"parent": map[string]string{"database_id": c.databaseID},
		"properties": map[string]interface{}{
			"title":       richText(page.Title),
			"url":         richText(page.URL),
			"source":      richText(page.Source),
			"summary":     richText(summary),
			"inserted_at": map[string]interface{}{"date": map[string]string{"start": page.InsertedAt}},
		},
		"children": page.Blocks,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("kb: marshal page: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBaseURL+"/pages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("kb: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Notion-Version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("kb: post page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("kb: post page: status %d", resp.StatusCode)
	}

	var created struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("kb: decode response: %w", err)
	}
	return created.URL, nil
}

func richText(text string) map[string]interface{} {
	return map[string]interface{}{
		"rich_text": []map[string]interface{}{
			{"text": map[string]string{"content": text}},
		},
	}
}

var (
	sectionSplit   = regexp.MustCompile(`\n## \d+\.\s`)
	linkPattern    = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
	sourcePattern  = regexp.MustCompile(`(?s)\*\*Source:\*\*\s*(.*?)\n`)
	summaryPattern = regexp.MustCompile(`(?s)\*\*Summary:\*\*\s*(.*?)(\n\n|\z)`)
)

// ArticleBlocks splits a rendered digest's Markdown body into one
// title/source/summary/read-more/divider block group per article, mirroring
// the distilled-from services/notion_worker/app/markdown_parser.py's regex
// splitting exactly: split on "\n## N. ", then per-section extract
// [title](url), **Source:** ..., **Summary:** ... lines.
func ArticleBlocks(markdown string) []Block {
	sections := sectionSplit.Split(markdown, -1)
	if len(sections) <= 1 {
		return nil
	}
	sections = sections[1:] // drop preamble before the first heading

	var blocks []Block
	for _, section := range sections {
		title, url := "", ""
		if m := linkPattern.FindStringSubmatch(section); m != nil {
			title, url = m[1], m[2]
		}
		source := ""
		if m := sourcePattern.FindStringSubmatch(section); m != nil {
			source = strings.TrimSpace(m[1])
		}
		summary := ""
		if m := summaryPattern.FindStringSubmatch(section); m != nil {
			summary = strings.TrimSpace(m[1])
		}

		blocks = append(blocks,
			paragraph(title),
			paragraph("Source: "+source),
			paragraph("Summary: "+summary),
			paragraph("Read more: "+url),
			divider(),
		)
	}
	return blocks
}

func paragraph(text string) Block {
	return Block{
		Object: "block",
		Type:   "paragraph",
		Data: map[string]interface{}{
			"rich_text": []map[string]interface{}{
				{"text": map[string]string{"content": text}},
			},
		},
	}
}

func divider() Block {
	return Block{Object: "block", Type: "divider", Data: map[string]interface{}{}}
}
