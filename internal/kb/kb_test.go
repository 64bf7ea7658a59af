package kb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMarkdown = `# Daily Digest — 2026-07-31T00:00:00Z

## 1. [Go 1.24 released](http://example.com/a)

**Source:** blog
**Summary:** A concise developer summary.

---

## 2. [Second article](http://example.com/b)

**Source:** news
**Summary:** Another summary here.

---

`

func TestArticleBlocks_SplitsPerSection(t *testing.T) {
	blocks := ArticleBlocks(sampleMarkdown)
	require.Len(t, blocks, 10) // 2 sections * 5 blocks each

	first := blocks[0]
	assert.Equal(t, "paragraph", first.Type)
	text := first.Data["rich_text"].([]map[string]interface{})[0]["text"].(map[string]string)["content"]
	assert.Equal(t, "Go 1.24 released", text)

	assert.Equal(t, "divider", blocks[4].Type)
}

func TestArticleBlocks_NoHeadingsReturnsNil(t *testing.T) {
	assert.Nil(t, ArticleBlocks("no headings here"))
}

func TestBlock_MarshalJSON(t *testing.T) {
	b := divider()
	data, err := b.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"divider"`)
	assert.Contains(t, string(data), `"divider":{}`)
}
