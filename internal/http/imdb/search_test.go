package imdb_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hbomb79/castid/internal/cast"
	"github.com/hbomb79/castid/internal/http/imdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const autoCompleteResponse = `{
	"d": [
		{"i": {"height": 1000, "imageUrl": "https://m.media-amazon.com/jane.jpg", "width": 800}, "id": "nm0000001", "l": "Jane Doe", "rank": 1200, "s": "Actress, The Movie (2020)"},
		{"id": "nm0000002", "l": "Jane Doe-Smith", "rank": 5400, "s": "Stunts"}
	],
	"q": "jane%20doe",
	"v": 1
}`

func testConfig(baseUrl string) imdb.Config {
	return imdb.Config{BaseUrl: baseUrl, ApiKey: "test-key", ApiHost: "imdb.test", Timeout: time.Second}
}

func Test_Search_SendsRapidApiRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auto-complete", r.URL.Path)
		assert.Equal(t, "Jane Doe", r.URL.Query().Get("q"))
		assert.Equal(t, "test-key", r.Header.Get("X-RapidAPI-Key"))
		assert.Equal(t, "imdb.test", r.Header.Get("X-RapidAPI-Host"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(autoCompleteResponse))
	}))
	defer server.Close()

	result, err := imdb.NewSearcher(testConfig(server.URL)).Search(context.Background(), "Jane Doe")
	require.NoError(t, err)
	require.Len(t, result.Results, 2)

	assert.Equal(t, "nm0000001", result.Results[0].Id)
	assert.Equal(t, "Jane Doe", result.Results[0].Label)
	require.NotNil(t, result.Results[0].Image)
	assert.Equal(t, "https://m.media-amazon.com/jane.jpg", result.Results[0].Image.ImageUrl)
	assert.Nil(t, result.Results[1].Image)
}

func Test_Lookup_ConvertsResultsToMatches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(autoCompleteResponse))
	}))
	defer server.Close()

	matches, err := imdb.NewSearcher(testConfig(server.URL)).Lookup(context.Background(), "Jane Doe")
	require.NoError(t, err)
	assert.Equal(t, []cast.Match{
		{Label: "Jane Doe", ImageURL: "https://m.media-amazon.com/jane.jpg"},
		{Label: "Jane Doe-Smith"},
	}, matches)
}

func Test_Lookup_NoResultsIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"q": "nobody"}`))
	}))
	defer server.Close()

	matches, err := imdb.NewSearcher(testConfig(server.URL)).Lookup(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func Test_Search_Failures(t *testing.T) {
	tests := []struct {
		summary string
		status  int
		body    string
		message string
	}{
		{"api error message", http.StatusForbidden, `{"message": "You are not subscribed to this API."}`, "Request failure (HTTP 403): You are not subscribed to this API."},
		{"unreadable error", http.StatusBadGateway, `<html>bad gateway</html>`, "Request failure (HTTP 502): non-OK response could not be unmarshalled"},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := imdb.NewSearcher(testConfig(server.URL)).Search(context.Background(), "anyone")
			var failedErr *imdb.FailedRequestError
			require.ErrorAs(t, err, &failedErr)
			assert.Equal(t, tt.status, failedErr.StatusCode())
			assert.EqualError(t, err, tt.message)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"d": [`))
		}))
		defer server.Close()

		_, err := imdb.NewSearcher(testConfig(server.URL)).Search(context.Background(), "anyone")
		var unknownErr *imdb.UnknownRequestError
		assert.ErrorAs(t, err, &unknownErr)
	})
}

func Test_Search_RateLimited(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	config := testConfig(server.URL)
	config.RequestsPerSecond = 0.5
	searcher := imdb.NewSearcher(config)

	_, err := searcher.Search(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = searcher.Search(ctx, "second")
	assert.Error(t, err, "second request should not be permitted within the rate limit")
	assert.False(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(1), requests.Load())
}
