package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		orig, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, orig)
			}
		})
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	clearEnv(t, "RSS_FEEDS", "DEVELOPER_KEYWORDS", "NOTION_DB_ID", "MAX_RETRIES")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Service.MaxRetries)
	assert.Equal(t, 20, cfg.Service.MaxArticlesPerDigest)
	assert.Equal(t, "ravedigest", cfg.Service.ConsumerGroupPrefix)
	assert.Contains(t, cfg.Service.DeveloperKeywords, "golang")
}

func TestLoad_RejectsMalformedNotionDBID(t *testing.T) {
	clearEnv(t, "NOTION_DB_ID")
	os.Setenv("NOTION_DB_ID", "not-a-valid-id")
	t.Cleanup(func() { os.Unsetenv("NOTION_DB_ID") })

	_, err := Load()
	assert.Error(t, err)
}

func TestParseFeeds_SplitsURLAndSource(t *testing.T) {
	feeds := parseFeeds("http://a.com/rss|blogA,http://b.com/rss|blogB")
	require.Len(t, feeds, 2)
	assert.Equal(t, FeedSource{URL: "http://a.com/rss", Source: "blogA"}, feeds[0])
	assert.Equal(t, FeedSource{URL: "http://b.com/rss", Source: "blogB"}, feeds[1])
}

func TestParseFeeds_DefaultsSourceToURL(t *testing.T) {
	feeds := parseFeeds("http://a.com/rss")
	require.Len(t, feeds, 1)
	assert.Equal(t, "http://a.com/rss", feeds[0].Source)
}
