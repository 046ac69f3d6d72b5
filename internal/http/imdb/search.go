package imdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hbomb79/castid/pkg/logger"
	"golang.org/x/time/rate"
)

var log = logger.Get("IMDB")

const autoCompleteTemplate = "%s/auto-complete?q=%s"

type (
	Config struct {
		BaseUrl           string        `yaml:"base_url" env:"IMDB_BASE_URL" env-default:"https://online-movie-database.p.rapidapi.com" validate:"url"`
		ApiKey            string        `yaml:"api_key" env:"IMDB_API_KEY" env-required:"true"`
		ApiHost           string        `yaml:"api_host" env:"IMDB_API_HOST" env-default:"online-movie-database.p.rapidapi.com"`
		RequestsPerSecond float64       `yaml:"requests_per_second" env:"IMDB_REQUESTS_PER_SECOND" env-default:"5" validate:"gte=0"`
		Timeout           time.Duration `yaml:"timeout" env:"IMDB_TIMEOUT" env-default:"10s"`
	}

	SearchResult struct {
		Query   string             `json:"q"`
		Results []SearchResultItem `json:"d"`
	}

	SearchResultItem struct {
		Id      string `json:"id"`
		Label   string `json:"l"`
		Rank    int    `json:"rank"`
		Summary string `json:"s"`
		Image   *Image `json:"i"`
	}

	Image struct {
		ImageUrl string `json:"imageUrl"`
		Height   int    `json:"height"`
		Width    int    `json:"width"`
	}

	// imdbSearcher queries the IMDB auto-complete endpoint, as exposed
	// via RapidAPI, for people/titles matching a query.
	imdbSearcher struct {
		config  Config
		client  *http.Client
		limiter *rate.Limiter
	}
)

func NewSearcher(config Config) *imdbSearcher {
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	return &imdbSearcher{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Search queries IMDB for the query provided. Requests are rate limited
// according to the configuration; this method will block until the request
// is allowed, or the context is cancelled.
func (searcher *imdbSearcher) Search(ctx context.Context, query string) (*SearchResult, error) {
	if err := searcher.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	path := fmt.Sprintf(autoCompleteTemplate, strings.TrimSuffix(searcher.config.BaseUrl, "/"), url.QueryEscape(query))
	var result SearchResult
	if err := searcher.httpGetJsonResponse(ctx, path, &result); err != nil {
		return nil, err
	}

	log.Emit(logger.DEBUG, "Search for %q returned %d results\n", query, len(result.Results))
	return &result, nil
}

func (searcher *imdbSearcher) httpGetJsonResponse(ctx context.Context, urlPath string, targetInterface interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlPath, nil)
	if err != nil {
		return &UnknownRequestError{fmt.Sprintf("failed to construct request to IMDB: %s", err.Error())}
	}
	req.Header.Set("X-RapidAPI-Key", searcher.config.ApiKey)
	req.Header.Set("X-RapidAPI-Host", searcher.config.ApiHost)
	req.Header.Set("Accept", "application/json")

	resp, err := searcher.client.Do(req)
	if err != nil {
		return &UnknownRequestError{fmt.Sprintf("failed to perform GET(%s) to IMDB: %s", urlPath, err.Error())}
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		var apiError rapidApiError
		if err := json.Unmarshal(respBody, &apiError); err != nil || apiError.Message == "" {
			return &FailedRequestError{httpCode: resp.StatusCode, message: "non-OK response could not be unmarshalled"}
		}

		return &FailedRequestError{httpCode: resp.StatusCode, message: apiError.Message}
	}

	if err != nil {
		return &UnknownRequestError{fmt.Sprintf("failed to read response body: %s", err.Error())}
	}

	if err := json.Unmarshal(respBody, targetInterface); err != nil {
		return &UnknownRequestError{fmt.Sprintf("response JSON could not be unmarshalled: %s", err.Error())}
	}

	return nil
}

type (
	rapidApiError struct {
		Message string `json:"message"`
	}
	FailedRequestError struct {
		httpCode int
		message  string
	}
	UnknownRequestError struct{ reason string }
)

func (err *UnknownRequestError) Error() string {
	return fmt.Sprintf("unknown error occurred while communicating with IMDB: %s", err.reason)
}
func (err *FailedRequestError) Error() string {
	return fmt.Sprintf("Request failure (HTTP %d): %s", err.httpCode, err.message)
}

// StatusCode returns the HTTP status code returned by IMDB
func (err *FailedRequestError) StatusCode() int { return err.httpCode }
