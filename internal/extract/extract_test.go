package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleArticleHTML = `<!DOCTYPE html>
<html>
<head><title>Test Article</title></head>
<body>
<article>
<h1>Test Article</h1>
<p>This is the first paragraph of a developer-focused article about Go concurrency patterns and channels.</p>
<p>This is the second paragraph with more detail on goroutines and select statements.</p>
</article>
</body>
</html>`

func TestExtract_ReturnsPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleArticleHTML))
	}))
	defer srv.Close()

	e := New(5 * time.Second)
	text, err := e.Extract(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, text, "goroutines")
}

func TestExtract_PropagatesHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := New(5 * time.Second)
	_, err := e.Extract(context.Background(), srv.URL)
	assert.Error(t, err)
}
