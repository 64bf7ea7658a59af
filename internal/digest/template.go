// Package digest renders the Composer's Markdown digest from a ranked
// article list and validates the result before it is persisted and
// published. Rendering uses text/template with the sprig function library,
// generalizing the distilled-from Jinja2 Environment/FileSystemLoader setup
// in services/composer/app/template_engine.py to Go's template package.
package digest

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"ravedigest/internal/store"
)

const templateName = "digest.md.tmpl"

// Renderer renders digests from a directory of templates, matching the
// DIGEST_TEMPLATE_DIR-driven loader the spec's Composer section describes.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses every *.tmpl file under dir using the sprig FuncMap.
func NewRenderer(dir string) (*Renderer, error) {
	tmpl, err := template.New(templateName).Funcs(sprig.TxtFuncMap()).ParseGlob(filepath.Join(dir, "*.tmpl"))
	if err != nil {
		return nil, fmt.Errorf("digest: parse templates in %s: %w", dir, err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// articleView adapts a store.Article for template rendering.
type articleView struct {
	Index   int
	Title   string
	URL     string
	Source  string
	Summary string
}

// Render produces the Markdown body for a ranked article list.
func (r *Renderer) Render(articles []store.Article) (string, error) {
	views := make([]articleView, len(articles))
	for i, a := range articles {
		views[i] = articleView{
			Index:   i + 1,
			Title:   a.Title,
			URL:     a.URL,
			Source:  a.Source,
			Summary: a.Summary,
		}
	}

	var buf bytes.Buffer
	data := map[string]interface{}{
		"Articles":    views,
		"GeneratedAt": time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.tmpl.ExecuteTemplate(&buf, templateName, data); err != nil {
		return "", fmt.Errorf("digest: render: %w", err)
	}
	return buf.String(), nil
}

var (
	headingPattern = regexp.MustCompile(`(?m)^## \d+\.`)
)

// ErrInvalidMarkdown is returned by Validate when the rendered Markdown
// fails any of the spec's structural checks.
var ErrInvalidMarkdown = fmt.Errorf("digest: rendered markdown failed validation")

// Validate enforces the spec's Markdown invariants: non-empty; contains at
// least one "## N." heading; contains "**Summary:**"; no stray "[[" or "]]".
func Validate(md string) error {
	if strings.TrimSpace(md) == "" {
		return fmt.Errorf("%w: empty output", ErrInvalidMarkdown)
	}
	if !headingPattern.MatchString(md) {
		return fmt.Errorf("%w: missing '## N.' heading", ErrInvalidMarkdown)
	}
	if !strings.Contains(md, "**Summary:**") {
		return fmt.Errorf("%w: missing '**Summary:**' marker", ErrInvalidMarkdown)
	}
	if strings.Contains(md, "[[") || strings.Contains(md, "]]") {
		return fmt.Errorf("%w: contains stray '[[' or ']]'", ErrInvalidMarkdown)
	}
	return nil
}
