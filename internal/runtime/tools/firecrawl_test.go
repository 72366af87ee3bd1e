package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFirecrawlServer(t *testing.T, handler http.HandlerFunc) *Firecrawl {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	fc := NewFirecrawl("fc-key")
	fc.baseURL = server.URL
	return fc
}

func TestFirecrawlSearch(t *testing.T) {
	fc := newFirecrawlServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search", r.URL.Path)
		assert.Equal(t, "Bearer fc-key", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "agents", body["query"])
		assert.EqualValues(t, 5, body["limit"])

		w.Write([]byte(`{"success":true,"data":[
			{"title":"A","url":"https://a.test","description":"first"},
			{"title":"B","url":"https://b.test","markdown":"` + strings.Repeat("m", 250) + `"}
		]}`))
	})

	hits, err := fc.Search(context.Background(), "agents", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "first", hits[0].Description)
	assert.Equal(t, strings.Repeat("m", 200), hits[1].Description)
}

func TestFirecrawlScrape(t *testing.T) {
	fc := newFirecrawlServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/scrape", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["onlyMainContent"])
		w.Write([]byte(`{"success":true,"data":{"markdown":"# Hello","metadata":{"title":"Greeting"}}}`))
	})

	page, err := fc.Scrape(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, &Page{Title: "Greeting", Markdown: "# Hello"}, page)
}

func TestFirecrawlErrorStatus(t *testing.T) {
	fc := newFirecrawlServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte("out of credits"))
	})

	_, err := fc.Scrape(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Equal(t, "402 - out of credits", err.Error())
}
