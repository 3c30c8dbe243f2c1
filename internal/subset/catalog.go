package subset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	capabilityTTL             = 1 * time.Hour
	capabilityCleanupInterval = 5 * time.Minute
)

// CapabilityClient fetches the subset-capability document listing the
// variable paths the remote subsetter can extract for a dataset.
type CapabilityClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	cache      *capabilityCache
}

// capabilityResponse is the capability document body.
type capabilityResponse struct {
	Variables []string `json:"variables"`
}

// NewCapabilityClient creates a capability client with a shared TTL cache.
func NewCapabilityClient(baseURL string, timeout time.Duration) *CapabilityClient {
	return &CapabilityClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
		cache:      newCapabilityCache(capabilityTTL, capabilityCleanupInterval),
	}
}

// WithLogger sets a custom logger for the client.
func (c *CapabilityClient) WithLogger(logger *slog.Logger) *CapabilityClient {
	c.logger = logger
	return c
}

// Close stops the cache's background cleanup goroutine.
func (c *CapabilityClient) Close() {
	c.cache.stop()
}

// Fetch returns the subsettable variables for a dataset+version, served
// from cache when a fresh document is available.
func (c *CapabilityClient) Fetch(ctx context.Context, shortName, version string) ([]Variable, error) {
	key := shortName + "." + version
	if vars, ok := c.cache.get(key); ok {
		c.logger.DebugContext(ctx, "capability cache hit", slog.String("dataset", key))
		return vars, nil
	}

	capURL := fmt.Sprintf("%s/capabilities/%s.%s.json", c.baseURL, shortName, version)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, capURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "icefetch/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capability request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("capability endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var capResp capabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&capResp); err != nil {
		return nil, fmt.Errorf("failed to decode capability response: %w", err)
	}

	vars := make([]Variable, 0, len(capResp.Variables))
	for _, path := range capResp.Variables {
		vars = append(vars, parseVariablePath(path))
	}

	c.cache.put(key, vars)
	c.logger.DebugContext(ctx, "capability document fetched",
		slog.String("dataset", key),
		slog.Int("variables", len(vars)),
	)
	return vars, nil
}

// Invalidate drops the cached document for a dataset+version.
func (c *CapabilityClient) Invalidate(shortName, version string) {
	c.cache.invalidate(shortName + "." + version)
}

// Catalog tracks the subsettable variables of one dataset and the user's
// wanted selection. All mutations are pure set operations; the only
// network call is the initial capability fetch.
type Catalog struct {
	client    *CapabilityClient
	shortName string
	version   string
	logger    *slog.Logger

	mu     sync.Mutex
	wanted map[string]Variable // keyed by full path
}

// NewCatalog creates a variable catalog for a dataset+version.
func NewCatalog(client *CapabilityClient, shortName, version string) *Catalog {
	return &Catalog{
		client:    client,
		shortName: shortName,
		version:   version,
		logger:    slog.Default(),
		wanted:    make(map[string]Variable),
	}
}

// WithLogger sets a custom logger for the catalog.
func (c *Catalog) WithLogger(logger *slog.Logger) *Catalog {
	c.logger = logger
	return c
}

// Avail lists all variables the remote subsetter can extract for this
// dataset, sorted by path.
func (c *Catalog) Avail(ctx context.Context) ([]Variable, error) {
	vars, err := c.client.Fetch(ctx, c.shortName, c.version)
	if err != nil {
		return nil, fmt.Errorf("failed to list subsettable variables: %w", err)
	}

	sorted := make([]Variable, len(vars))
	copy(sorted, vars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	return sorted, nil
}

// Filter selects variables for Append and Remove. Given filters
// intersect: a variable matches only if it passes every non-empty one.
type Filter struct {
	// Defaults selects the curated default variable set for the dataset.
	Defaults bool
	// Vars matches by exact variable name.
	Vars []string
	// Beams restricts matches to the given beams/profiles.
	Beams []string
	// Keywords matches by path substring.
	Keywords []string
}

func (f Filter) empty() bool {
	return !f.Defaults && len(f.Vars) == 0 && len(f.Beams) == 0 && len(f.Keywords) == 0
}

func (f Filter) matches(v Variable) bool {
	if f.Defaults && !defaultNames[v.Name] {
		return false
	}
	if len(f.Vars) > 0 && !containsString(f.Vars, v.Name) {
		return false
	}
	if len(f.Beams) > 0 && !containsString(f.Beams, v.Beam) {
		return false
	}
	if len(f.Keywords) > 0 {
		found := false
		for _, kw := range f.Keywords {
			if strings.Contains(v.Path, kw) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// Append adds the matching variables to the wanted set and returns the
// paths actually added. An empty filter selects the dataset defaults.
// Structurally required variables (time, geolocation, orientation) are
// auto-included whenever anything is added.
func (c *Catalog) Append(ctx context.Context, f Filter) ([]string, error) {
	avail, err := c.client.Fetch(ctx, c.shortName, c.version)
	if err != nil {
		return nil, fmt.Errorf("failed to list subsettable variables: %w", err)
	}

	if f.empty() {
		f.Defaults = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var added []string
	for _, v := range avail {
		if !f.matches(v) {
			continue
		}
		if _, exists := c.wanted[v.Path]; exists {
			continue
		}
		c.wanted[v.Path] = v
		added = append(added, v.Path)
	}

	if len(added) > 0 {
		for _, v := range avail {
			if !v.IsStructural() {
				continue
			}
			if _, exists := c.wanted[v.Path]; !exists {
				c.wanted[v.Path] = v
			}
		}
	}

	sort.Strings(added)
	c.logger.DebugContext(ctx, "variables appended",
		slog.String("dataset", c.shortName+"."+c.version),
		slog.Int("added", len(added)),
		slog.Int("wanted", len(c.wanted)),
	)
	return added, nil
}

// RemoveAll clears the wanted set entirely, structural variables
// included. This is the only way to drop structural variables.
func (c *Catalog) RemoveAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wanted = make(map[string]Variable)
}

// Remove deletes the matching non-structural variables from the wanted
// set and returns the paths removed. Structural variables are skipped;
// use RemoveAll to clear them.
func (c *Catalog) Remove(f Filter) []string {
	if f.empty() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string
	for path, v := range c.wanted {
		if v.IsStructural() {
			continue
		}
		if f.matches(v) {
			delete(c.wanted, path)
			removed = append(removed, path)
		}
	}

	sort.Strings(removed)
	return removed
}

// Wanted returns the current wanted set sorted by path.
func (c *Catalog) Wanted() []Variable {
	c.mu.Lock()
	defer c.mu.Unlock()

	vars := make([]Variable, 0, len(c.wanted))
	for _, v := range c.wanted {
		vars = append(vars, v)
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].Path < vars[j].Path })
	return vars
}

// CoveragePaths returns the wanted variable paths sorted, in the form
// the order service's coverage parameter expects. Empty when nothing is
// wanted (meaning: no variable subsetting).
func (c *Catalog) CoveragePaths() []string {
	wanted := c.Wanted()
	paths := make([]string, len(wanted))
	for i, v := range wanted {
		paths[i] = v.Path
	}
	return paths
}
