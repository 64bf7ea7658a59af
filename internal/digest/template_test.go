package digest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ravedigest/internal/store"
)

func TestRenderer_RenderAndValidate(t *testing.T) {
	r, err := NewRenderer("../../templates")
	require.NoError(t, err)

	articles := []store.Article{
		{Title: "Go 1.24 released", URL: "http://example.com/a", Source: "blog", Summary: "A concise developer summary."},
	}

	md, err := r.Render(articles)
	require.NoError(t, err)
	assert.Contains(t, md, "## 1.")
	assert.Contains(t, md, "**Summary:**")
	assert.NoError(t, Validate(md))
}

func TestValidate_RejectsEmpty(t *testing.T) {
	assert.ErrorIs(t, Validate(""), ErrInvalidMarkdown)
}

func TestValidate_RejectsMissingHeading(t *testing.T) {
	assert.ErrorIs(t, Validate("**Summary:** no heading here"), ErrInvalidMarkdown)
}

func TestValidate_RejectsMissingSummaryMarker(t *testing.T) {
	assert.ErrorIs(t, Validate("## 1. Title\nbody with no marker"), ErrInvalidMarkdown)
}

func TestValidate_RejectsStrayBrackets(t *testing.T) {
	assert.ErrorIs(t, Validate("## 1. Title\n**Summary:** has [[stray]] brackets"), ErrInvalidMarkdown)
}
