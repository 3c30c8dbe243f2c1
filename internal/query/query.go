// Package query ties dataset selection, extents, session, variable
// subsetting, ordering, and download together into one stateful
// workflow object.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/arcticdata/icefetch/internal/auth"
	"github.com/arcticdata/icefetch/internal/cmr"
	"github.com/arcticdata/icefetch/internal/config"
	"github.com/arcticdata/icefetch/internal/download"
	"github.com/arcticdata/icefetch/internal/extent"
	"github.com/arcticdata/icefetch/internal/order"
	"github.com/arcticdata/icefetch/internal/subset"
)

// Clients bundles the service clients a Query operates through. Multiple
// Query instances may share Clients; they never share each other's
// search results, variable selections, or orders.
type Clients struct {
	Catalog      *cmr.Client
	Sessions     *auth.Manager
	Capabilities *subset.CapabilityClient
	Orders       *order.Submitter
	Downloads    *download.Manager
}

// NewClients wires the service clients from configuration.
func NewClients(cfg *config.Config, logger *slog.Logger) *Clients {
	return &Clients{
		Catalog: cmr.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.Provider, cfg.Catalog.Timeout).
			WithLimits(cfg.Catalog.MaxPages, cfg.Catalog.MaxRetries).
			WithLogger(logger),
		Sessions: auth.NewManager(cfg.Auth.BaseURL, cfg.Auth.Timeout).WithLogger(logger),
		Capabilities: subset.NewCapabilityClient(cfg.Order.BaseURL, cfg.Order.Timeout).
			WithLogger(logger),
		Orders: order.NewSubmitter(cfg.Order.BaseURL, cfg.Order.Timeout).
			WithPolling(cfg.Order.PollInterval, cfg.Order.PollTimeout).
			WithWorkers(cfg.Order.MaxWorkers).
			WithLogger(logger),
		Downloads: download.NewManager(cfg.Download.Timeout).
			WithWorkers(cfg.Download.MaxWorkers).
			WithRetries(cfg.Download.MaxRetries).
			WithLogger(logger),
	}
}

// Query is one granule-access workflow: a dataset, spatial and temporal
// bounds, and the state accumulated while searching, ordering, and
// downloading. Cached state is keyed by a hash of its inputs and
// invalidated deterministically when an input changes.
type Query struct {
	clients *Clients
	logger  *slog.Logger

	mu        sync.Mutex
	shortName string
	version   string // as supplied; may be corrected to latest
	spatial   *extent.Spatial
	temporal  *extent.Temporal

	versionResolved bool
	resolvedVersion string

	searchHash   uint64
	searchResult *cmr.Result

	vars   *subset.Catalog
	orders []*order.Order
}

// New creates a workflow for one dataset/extent combination.
func New(clients *Clients, shortName, version string, spatial *extent.Spatial, temporal *extent.Temporal) *Query {
	return &Query{
		clients:   clients,
		logger:    slog.Default(),
		shortName: shortName,
		version:   version,
		spatial:   spatial,
		temporal:  temporal,
	}
}

// WithLogger sets a custom logger for the workflow.
func (q *Query) WithLogger(logger *slog.Logger) *Query {
	q.logger = logger
	return q
}

// Sessions exposes the session manager for login/logout.
func (q *Query) Sessions() *auth.Manager { return q.clients.Sessions }

// SetDataset changes the dataset selector, invalidating search results,
// the variable catalog, and orders.
func (q *Query) SetDataset(shortName, version string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shortName = shortName
	q.version = version
	q.versionResolved = false
	q.invalidateLocked(true)
}

// SetSpatialExtent replaces the spatial extent, invalidating search
// results and orders.
func (q *Query) SetSpatialExtent(spatial *extent.Spatial) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.spatial = spatial
	q.invalidateLocked(false)
}

// SetTemporalExtent replaces the temporal extent, invalidating search
// results and orders.
func (q *Query) SetTemporalExtent(temporal *extent.Temporal) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.temporal = temporal
	q.invalidateLocked(false)
}

// invalidateLocked drops state derived from the mutated inputs. The
// variable catalog only depends on the dataset selector.
func (q *Query) invalidateLocked(datasetChanged bool) {
	q.searchResult = nil
	q.searchHash = 0
	q.orders = nil
	if datasetChanged {
		q.vars = nil
	}
}

// resolveVersion validates the supplied dataset version against the
// catalog's collection listing. An unknown version is non-fatal: it logs
// a warning and falls back to the latest known version.
func (q *Query) resolveVersion(ctx context.Context) string {
	if q.versionResolved {
		return q.resolvedVersion
	}

	entries, err := q.clients.Catalog.Collections(ctx, q.shortName)
	if err != nil {
		q.logger.WarnContext(ctx, "could not list dataset versions, using supplied version as-is",
			slog.String("short_name", q.shortName),
			slog.String("error", err.Error()),
		)
		q.resolvedVersion = q.version
		q.versionResolved = true
		return q.resolvedVersion
	}

	latest := cmr.LatestVersion(entries)
	switch {
	case q.version == "":
		q.resolvedVersion = latest
	case cmr.HasVersion(entries, q.version):
		q.resolvedVersion = q.version
	default:
		q.logger.WarnContext(ctx, "unknown dataset version, falling back to latest",
			slog.String("short_name", q.shortName),
			slog.String("version", q.version),
			slog.String("latest", latest),
		)
		q.resolvedVersion = latest
	}
	q.versionResolved = true
	return q.resolvedVersion
}

// CMRParams builds the catalog query parameter set from the current
// inputs. Pure given resolved inputs; re-derived whenever an input
// changed.
func (q *Query) CMRParams(ctx context.Context) cmr.Params {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paramsLocked(ctx)
}

func (q *Query) paramsLocked(ctx context.Context) cmr.Params {
	version := q.resolveVersion(ctx)
	return cmr.BuildParams(q.shortName, version, q.spatial, q.temporal)
}

// Search runs the catalog search, or returns the cached result set when
// the query parameters are unchanged since the last search. An empty
// result set is a successful search, not an error.
func (q *Query) Search(ctx context.Context) (*cmr.Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.searchLocked(ctx, false)
}

// ForceSearch re-queries the catalog even when cached results exist.
func (q *Query) ForceSearch(ctx context.Context) (*cmr.Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.searchLocked(ctx, true)
}

func (q *Query) searchLocked(ctx context.Context, force bool) (*cmr.Result, error) {
	params := q.paramsLocked(ctx)
	hash := params.Hash()

	if !force && q.searchResult != nil && q.searchHash == hash {
		q.logger.DebugContext(ctx, "returning cached search result",
			slog.Int("granules", len(q.searchResult.Granules)),
		)
		return q.searchResult, nil
	}

	result, err := q.clients.Catalog.Search(ctx, params)
	if err != nil {
		// Partial results are preserved but not cached as complete.
		return result, err
	}

	q.searchResult = result
	q.searchHash = hash
	return result, nil
}

// GranuleIDs returns the IDs of the matching granules, searching first
// if needed.
func (q *Query) GranuleIDs(ctx context.Context) ([]string, error) {
	result, err := q.Search(ctx)
	if err != nil {
		return nil, err
	}
	return result.IDs(), nil
}

// Summary returns counts and sizes of the matching granules, searching
// first if needed.
func (q *Query) Summary(ctx context.Context) (cmr.Summary, error) {
	result, err := q.Search(ctx)
	if err != nil {
		return cmr.Summary{}, err
	}
	return result.Summary(), nil
}

// Vars returns the variable subset catalog for the resolved dataset,
// creating it on first use.
func (q *Query) Vars(ctx context.Context) *subset.Catalog {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.vars == nil {
		version := q.resolveVersion(ctx)
		q.vars = subset.NewCatalog(q.clients.Capabilities, q.shortName, version).
			WithLogger(q.logger)
	}
	return q.vars
}

// Order submits subset orders for the current granule set and, in
// asynchronous mode, polls them to completion. Orders placed are
// recorded on the workflow even when siblings fail. When no coverage
// list is set in opts and variables have been selected, the wanted set
// is applied automatically.
func (q *Query) Order(ctx context.Context, opts order.Options) ([]*order.Order, error) {
	result, err := q.Search(ctx)
	if err != nil {
		return nil, err
	}
	if len(result.Granules) == 0 {
		return nil, fmt.Errorf("no granules matched the current query; nothing to order")
	}

	if len(opts.Coverage) == 0 {
		if vars := q.Vars(ctx); vars != nil {
			opts.Coverage = vars.CoveragePaths()
		}
	}

	q.mu.Lock()
	params := q.paramsLocked(ctx)
	q.mu.Unlock()

	orders, submitErr := q.clients.Orders.Submit(ctx, q.clients.Sessions, params, result.IDs(), opts)

	var pollErr error
	if opts.Mode != order.ModeSync && len(orders) > 0 {
		pollErr = q.clients.Orders.Poll(ctx, q.clients.Sessions, orders)
	}

	q.mu.Lock()
	q.orders = append(q.orders, orders...)
	q.attachDownloadURLsLocked()
	q.mu.Unlock()

	return orders, errors.Join(submitErr, pollErr)
}

// attachDownloadURLsLocked enriches granules with their payload URLs.
// Each granule gets the payload URL of the order that covers it; when an
// order carries per-granule file URLs (output names embedding the
// producer granule ID), the matching one wins over the order-level URL.
func (q *Query) attachDownloadURLsLocked() {
	if q.searchResult == nil {
		return
	}

	byGranule := make(map[string]*order.Order)
	for _, ord := range q.orders {
		if len(ord.FileURLs) == 0 {
			continue
		}
		for _, id := range ord.GranuleIDs {
			byGranule[id] = ord
		}
	}

	for i := range q.searchResult.Granules {
		g := &q.searchResult.Granules[i]
		if g.DownloadURL != "" {
			continue
		}
		ord, ok := byGranule[g.ID]
		if !ok {
			continue
		}
		g.DownloadURL = ord.FileURLs[0]
		for _, fileURL := range ord.FileURLs {
			if strings.Contains(fileURL, g.ID) {
				g.DownloadURL = fileURL
				break
			}
		}
	}
}

// Orders returns the orders placed by this workflow.
func (q *Query) Orders() []*order.Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	orders := make([]*order.Order, len(q.orders))
	copy(orders, q.orders)
	return orders
}

// Download retrieves the completed orders into dir. With resume set,
// orders recorded in the directory's manifest are skipped.
func (q *Query) Download(ctx context.Context, dir string, resume bool) (*download.Report, error) {
	orders := q.Orders()
	if len(orders) == 0 {
		return nil, fmt.Errorf("no orders to download; place an order first")
	}
	return q.clients.Downloads.Download(ctx, dir, q.clients.Sessions, orders, resume)
}
