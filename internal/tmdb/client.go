package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/mark-c-hall/movieshelf/internal/config"
)

const (
	DEFAULT_URL       = "https://api.themoviedb.org"
	DEFAULT_IMAGE_URL = "https://image.tmdb.org/t/p"
	API_VERSION       = "3"

	maxImageBytes = 10 << 20
)

var ErrNotFound = errors.New("tmdb: not found")

type Client struct {
	HTTPClient   http.Client
	APIURL       string
	ImageBaseURL string
	APIToken     string
	Language     string
	Limiter      *rate.Limiter
	MaxRetries   int
	BaseBackoff  time.Duration

	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

type MovieMatch struct {
	TmdbID        int     `json:"tmdb_id"`
	Title         string  `json:"title"`
	OriginalTitle string  `json:"original_title"`
	Year          int     `json:"year,omitempty"`
	ReleaseDate   string  `json:"release_date"`
	Overview      string  `json:"overview"`
	PosterURL     string  `json:"poster_url,omitempty"`
	Popularity    float64 `json:"popularity"`
}

type movieResult struct {
	ID            int     `json:"id"`
	Title         string  `json:"title"`
	OriginalTitle string  `json:"original_title"`
	ReleaseDate   string  `json:"release_date"`
	Overview      string  `json:"overview"`
	PosterPath    string  `json:"poster_path"`
	Popularity    float64 `json:"popularity"`
}

type searchResponse struct {
	TotalResults int           `json:"total_results"`
	Results      []movieResult `json:"results"`
}

type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type MovieDetails struct {
	ID            int             `json:"id"`
	Title         string          `json:"title"`
	OriginalTitle string          `json:"original_title"`
	ReleaseDate   string          `json:"release_date"`
	Runtime       int             `json:"runtime"`
	Overview      string          `json:"overview"`
	PosterPath    string          `json:"poster_path"`
	Genres        []Genre         `json:"genres"`
	Credits       CreditsResponse `json:"credits"`
}

type CreditsResponse struct {
	Cast []CastResults `json:"cast"`
}

// Billed returns at most n cast members in billing order.
func (cr CreditsResponse) Billed(n int) []CastResults {
	cast := slices.Clone(cr.Cast)
	slices.SortStableFunc(cast, func(a, b CastResults) int { return a.Order - b.Order })
	if n < len(cast) {
		cast = cast[:n]
	}
	return cast
}

type CastResults struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Character   string `json:"character"`
	Order       int    `json:"order"`
	ProfilePath string `json:"profile_path"`
}

type PersonDetails struct {
	ID                 int     `json:"id"`
	Name               string  `json:"name"`
	Biography          string  `json:"biography"`
	Birthday           string  `json:"birthday"`
	Deathday           string  `json:"deathday"`
	PlaceOfBirth       string  `json:"place_of_birth"`
	KnownForDepartment string  `json:"known_for_department"`
	Popularity         float64 `json:"popularity"`
	ProfilePath        string  `json:"profile_path"`
	IMDbID             string  `json:"imdb_id"`
	ExternalIDs        struct {
		IMDbID string `json:"imdb_id"`
	} `json:"external_ids"`
}

// IMDb returns the IMDb id, preferring the appended external_ids.
func (p PersonDetails) IMDb() string {
	if p.ExternalIDs.IMDbID != "" {
		return p.ExternalIDs.IMDbID
	}
	return p.IMDbID
}

func NewClient(cfg config.Config) *Client {
	client := Client{
		HTTPClient: http.Client{
			Timeout:   cfg.Client.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		APIURL:       DEFAULT_URL,
		ImageBaseURL: DEFAULT_IMAGE_URL,
		APIToken:     cfg.Client.APIToken,
		Language:     cfg.Client.Language,
		Limiter:      rate.NewLimiter(rate.Every(time.Second/time.Duration(cfg.Client.Limit)), cfg.Client.Burst),
		MaxRetries:   cfg.Client.MaxRetries,
		BaseBackoff:  cfg.Client.BaseBackoff,
	}
	client.initMetrics()
	return &client
}

func (c *Client) initMetrics() {
	meter := otel.Meter("github.com/mark-c-hall/movieshelf/internal/tmdb")
	c.requests, _ = meter.Int64Counter("tmdb.requests",
		metric.WithDescription("TMDb HTTP requests by status code"))
	c.latency, _ = meter.Float64Histogram("tmdb.request.duration",
		metric.WithDescription("TMDb HTTP request latency"), metric.WithUnit("s"))
}

// WithToken returns a copy using token. The copy shares the rate limiter,
// so all callers stay within one request budget.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.APIToken = token
	return &clone
}

// scrub masks a v3 api key in the URL that net/http errors carry.
func (c *Client) scrub(err error) error {
	var ue *url.Error
	if c.APIToken == "" || c.bearer() || !errors.As(err, &ue) {
		return err
	}
	for _, form := range []string{url.QueryEscape(c.APIToken), c.APIToken} {
		ue.URL = strings.ReplaceAll(ue.URL, form, "REDACTED")
	}
	return err
}

// bearer reports whether the token is a v4 read access token (a JWT).
func (c *Client) bearer() bool {
	return strings.HasPrefix(c.APIToken, "eyJ")
}

func (c *Client) endpoint(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	if c.Language != "" && query.Get("language") == "" {
		query.Set("language", c.Language)
	}
	if !c.bearer() && c.APIToken != "" {
		query.Set("api_key", c.APIToken)
	}
	return fmt.Sprintf("%s/%s%s?%s", c.APIURL, API_VERSION, path, query.Encode())
}

func (c *Client) SearchMovies(ctx context.Context, title string, year, limit int) ([]MovieMatch, error) {
	query := url.Values{"query": {title}, "include_adult": {"false"}}
	if year > 0 {
		query.Set("year", strconv.Itoa(year))
	}

	var APIResponse searchResponse
	if err := c.getJSON(ctx, c.endpoint("/search/movie", query), &APIResponse); err != nil {
		return nil, fmt.Errorf("error searching movies: %w", err)
	}

	results := APIResponse.Results
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}

	matches := make([]MovieMatch, 0, len(results))
	for _, r := range results {
		m := MovieMatch{
			TmdbID:        r.ID,
			Title:         r.Title,
			OriginalTitle: r.OriginalTitle,
			Year:          releaseYear(r.ReleaseDate),
			ReleaseDate:   r.ReleaseDate,
			Overview:      r.Overview,
			Popularity:    r.Popularity,
		}
		if r.PosterPath != "" {
			m.PosterURL = c.ImageURL("w342", r.PosterPath)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func releaseYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}

// GetMovieDetails loads a movie with its credits appended.
func (c *Client) GetMovieDetails(ctx context.Context, movieID int) (*MovieDetails, error) {
	query := url.Values{"append_to_response": {"credits"}}
	var APIResponse MovieDetails
	if err := c.getJSON(ctx, c.endpoint(fmt.Sprintf("/movie/%d", movieID), query), &APIResponse); err != nil {
		return nil, fmt.Errorf("error getting movie details: %w", err)
	}
	return &APIResponse, nil
}

// GetPersonDetails loads a person with external ids. An empty localized
// biography is retried in English.
func (c *Client) GetPersonDetails(ctx context.Context, personID int) (*PersonDetails, error) {
	path := fmt.Sprintf("/person/%d", personID)
	query := url.Values{"append_to_response": {"external_ids"}}

	var person PersonDetails
	if err := c.getJSON(ctx, c.endpoint(path, query), &person); err != nil {
		return nil, fmt.Errorf("error getting person details: %w", err)
	}

	if person.Biography == "" && c.Language != "" && !strings.HasPrefix(c.Language, "en") {
		var english PersonDetails
		if err := c.getJSON(ctx, c.endpoint(path, url.Values{"language": {"en-US"}}), &english); err == nil {
			person.Biography = english.Biography
		}
	}
	return &person, nil
}

func (c *Client) ImageURL(size, path string) string {
	if path == "" {
		return ""
	}
	return c.ImageBaseURL + "/" + size + path
}

// DownloadImage fetches an image from the TMDb CDN and returns its bytes
// and content type.
func (c *Client) DownloadImage(ctx context.Context, size, path string) ([]byte, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("error downloading image: empty path")
	}

	resp, err := c.getHTTP(ctx, c.ImageURL(size, path))
	if err != nil {
		return nil, "", fmt.Errorf("error downloading image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("error downloading image: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("error reading image body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	resp, err := c.getHTTP(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func (c *Client) getHTTP(ctx context.Context, rawURL string) (*http.Response, error) {
	for attempt := range c.MaxRetries {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("error creating http request: %w", c.scrub(err))
		}

		if c.bearer() && strings.HasPrefix(rawURL, c.APIURL) {
			req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.APIToken))
		}
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			c.record(ctx, 0, start)
			return nil, fmt.Errorf("error making http request: %w", c.scrub(err))
		}
		c.record(ctx, resp.StatusCode, start)

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		resp.Body.Close()

		backoff := c.BaseBackoff << attempt
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("exceeded %d retries due to rate limiting", c.MaxRetries)
}

func (c *Client) record(ctx context.Context, status int, start time.Time) {
	attrs := metric.WithAttributes(attribute.Int("http.status_code", status))
	if c.requests != nil {
		c.requests.Add(ctx, 1, attrs)
	}
	if c.latency != nil {
		c.latency.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}
