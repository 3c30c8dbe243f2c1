// Package cmr provides a client for CMR-style granule catalogs and the
// pure query-parameter builder feeding it.
package cmr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	// DefaultBaseURL is the default catalog API base URL.
	DefaultBaseURL = "https://cmr.earthdata.nasa.gov/search"

	// DefaultPageSize is the default number of results per page.
	DefaultPageSize = 2000

	// MaxPageSize is the maximum page size supported by the catalog.
	MaxPageSize = 2000

	retryBaseDelay = 500 * time.Millisecond
)

// ErrCatalogUnavailable reports that a search page kept failing after
// bounded retries. Granules accumulated from earlier pages are preserved
// in the returned result.
var ErrCatalogUnavailable = errors.New("catalog unavailable")

// Client handles communication with the catalog API. Searches are
// read-only and need no authentication.
type Client struct {
	baseURL    string
	provider   string
	maxPages   int
	maxRetries uint64
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new catalog API client.
func NewClient(baseURL, provider string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		provider:   provider,
		maxPages:   50,
		maxRetries: 3,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// WithLimits overrides the page safety cap and per-page retry count.
func (c *Client) WithLimits(maxPages, maxRetries int) *Client {
	if maxPages > 0 {
		c.maxPages = maxPages
	}
	if maxRetries >= 0 {
		c.maxRetries = uint64(maxRetries)
	}
	return c
}

// Search performs a paginated granule search, accumulating granules
// across pages until the catalog reports no further results or the page
// safety cap is hit. A page that keeps failing after bounded retries
// aborts the search with ErrCatalogUnavailable; granules already
// accumulated are returned alongside the error, never discarded.
func (c *Client) Search(ctx context.Context, params Params) (*Result, error) {
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	result := &Result{Params: params}

	for page := 1; page <= c.maxPages; page++ {
		resp, err := c.searchPage(ctx, params, page)
		if err != nil {
			return result, fmt.Errorf("%w: page %d: %v", ErrCatalogUnavailable, page, err)
		}

		for _, item := range resp.Items {
			result.Granules = append(result.Granules, granuleFromUMM(item))
		}
		result.Hits = resp.Hits

		c.logger.DebugContext(ctx, "catalog page fetched",
			slog.Int("page", page),
			slog.Int("returned", len(resp.Items)),
			slog.Int("accumulated", len(result.Granules)),
			slog.Int("hits", resp.Hits),
		)

		if len(resp.Items) < pageSize || len(result.Granules) >= resp.Hits {
			break
		}
	}

	c.logger.InfoContext(ctx, "catalog search completed",
		slog.String("short_name", params.ShortName),
		slog.Int("granules", len(result.Granules)),
	)

	return result, nil
}

// searchPage fetches a single result page with bounded retries and
// exponential backoff.
func (c *Client) searchPage(ctx context.Context, params Params, page int) (*UMMSearchResponse, error) {
	queryParams := params.ToURLValues()
	if c.provider != "" {
		queryParams.Set("provider", c.provider)
	}
	queryParams.Set("page_num", strconv.Itoa(page))

	searchURL := c.baseURL + "/granules.umm_json?" + queryParams.Encode()

	var resp *UMMSearchResponse
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(retryBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		resp, err = c.doSearchRequest(ctx, searchURL)
		if err != nil {
			c.logger.WarnContext(ctx, "catalog page request failed, retrying",
				slog.Int("page", page),
				slog.String("error", err.Error()),
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) doSearchRequest(ctx context.Context, searchURL string) (*UMMSearchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.nasa.cmr.umm_results+json")
	req.Header.Set("User-Agent", "icefetch/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, string(body))
	}

	var cmrResp UMMSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&cmrResp); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}

	return &cmrResp, nil
}

// Collections lists the catalog's known versions of a dataset, most
// recent last. Used to validate a user-supplied version.
func (c *Client) Collections(ctx context.Context, shortName string) ([]CollectionEntry, error) {
	values := url.Values{}
	values.Set("short_name", shortName)
	if c.provider != "" {
		values.Set("provider", c.provider)
	}

	collectionsURL := c.baseURL + "/collections.json?" + values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, collectionsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "icefetch/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("collections request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("collections request returned status %d: %s", resp.StatusCode, string(body))
	}

	var collResp CollectionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&collResp); err != nil {
		return nil, fmt.Errorf("failed to decode collections response: %w", err)
	}

	return collResp.Feed.Entry, nil
}

// LatestVersion returns the highest version identifier the catalog knows
// for a dataset, or "" if the dataset is unknown.
func LatestVersion(entries []CollectionEntry) string {
	latest := ""
	for _, e := range entries {
		if e.VersionID > latest {
			latest = e.VersionID
		}
	}
	return latest
}

// HasVersion reports whether the given version is a known version of the
// dataset.
func HasVersion(entries []CollectionEntry, version string) bool {
	for _, e := range entries {
		if e.VersionID == version {
			return true
		}
	}
	return false
}
