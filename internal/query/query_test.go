package query_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcticdata/icefetch/internal/auth"
	"github.com/arcticdata/icefetch/internal/cmr"
	"github.com/arcticdata/icefetch/internal/daactest"
	"github.com/arcticdata/icefetch/internal/download"
	"github.com/arcticdata/icefetch/internal/extent"
	"github.com/arcticdata/icefetch/internal/order"
	"github.com/arcticdata/icefetch/internal/query"
	"github.com/arcticdata/icefetch/internal/subset"
)

func newWorkflow(t *testing.T, version string) (*query.Query, *daactest.Server) {
	t.Helper()

	daac := daactest.New()
	srv := httptest.NewServer(daac.Handler())
	t.Cleanup(srv.Close)
	daac.SetBaseURL(srv.URL)

	capabilities := subset.NewCapabilityClient(srv.URL+"/egi", 5*time.Second)
	t.Cleanup(capabilities.Close)

	clients := &query.Clients{
		Catalog:      cmr.NewClient(srv.URL+"/catalog", "FAKE_DAAC", 5*time.Second),
		Sessions:     auth.NewManager(srv.URL, 5*time.Second),
		Capabilities: capabilities,
		Orders: order.NewSubmitter(srv.URL+"/egi", 5*time.Second).
			WithPolling(10*time.Millisecond, 2*time.Second),
		Downloads: download.NewManager(5 * time.Second),
	}

	spatial, err := extent.NewBoundingBox(-102, -76, -98, -74.5)
	require.NoError(t, err)
	temporal, err := extent.NewTemporal("2019-06-18", "2019-06-25", "", "")
	require.NoError(t, err)

	return query.New(clients, "ATL06", version, spatial, temporal), daac
}

func TestSearchCachesByInputs(t *testing.T) {
	q, daac := newWorkflow(t, "005")
	ctx := context.Background()

	first, err := q.Search(ctx)
	require.NoError(t, err)
	require.Len(t, first.Granules, len(daac.Granules))

	after := daac.SearchRequests()

	// Unchanged inputs: served from cache, no new catalog traffic.
	second, err := q.Search(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, after, daac.SearchRequests())

	// ForceSearch always goes to the catalog.
	_, err = q.ForceSearch(ctx)
	require.NoError(t, err)
	assert.Greater(t, daac.SearchRequests(), after)
}

func TestMutatingInputsInvalidatesCache(t *testing.T) {
	q, daac := newWorkflow(t, "005")
	ctx := context.Background()

	_, err := q.Search(ctx)
	require.NoError(t, err)
	after := daac.SearchRequests()

	narrower, err := extent.NewTemporal("2019-06-19", "2019-06-20", "", "")
	require.NoError(t, err)
	q.SetTemporalExtent(narrower)

	_, err = q.Search(ctx)
	require.NoError(t, err)
	assert.Greater(t, daac.SearchRequests(), after, "mutated extent must re-query the catalog")
}

func TestVersionFallsBackToLatest(t *testing.T) {
	tests := []struct {
		name    string
		version string
	}{
		{name: "unknown version", version: "099"},
		{name: "empty version", version: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := newWorkflow(t, tt.version)

			params := q.CMRParams(context.Background())
			assert.Equal(t, "005", params.Version, "must resolve to the latest known version")
		})
	}
}

func TestKnownVersionIsKept(t *testing.T) {
	q, _ := newWorkflow(t, "004")
	params := q.CMRParams(context.Background())
	assert.Equal(t, "004", params.Version)
}

func TestGranuleIDsAndSummary(t *testing.T) {
	q, daac := newWorkflow(t, "005")
	ctx := context.Background()

	ids, err := q.GranuleIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, len(daac.Granules))

	summary, err := q.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(daac.Granules), summary.Count)
	assert.Greater(t, summary.TotalBytes, int64(0))
}

func TestOrderWithoutGranulesFails(t *testing.T) {
	q, _ := newWorkflow(t, "005")

	// Move the query to a region with no coverage.
	empty, err := extent.NewBoundingBox(10, 10, 20, 20)
	require.NoError(t, err)
	q.SetSpatialExtent(empty)

	_, err = q.Order(context.Background(), order.DefaultOptions())
	assert.Error(t, err)
	assert.Empty(t, q.Orders())
}

func TestOrderAppliesWantedVariables(t *testing.T) {
	q, _ := newWorkflow(t, "005")
	ctx := context.Background()

	require.NoError(t, q.Sessions().Login(ctx, "icebird", "wingspan"))

	_, err := q.Vars(ctx).Append(ctx, subset.Filter{Defaults: true})
	require.NoError(t, err)

	opts := order.DefaultOptions()
	opts.PageSize = 10

	orders, err := q.Order(ctx, opts)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, order.StatusComplete, orders[0].Status)
	assert.NotEmpty(t, orders[0].FileURLs)
}

func TestOrderEnrichesGranuleDownloadURLs(t *testing.T) {
	q, daac := newWorkflow(t, "005")
	ctx := context.Background()

	require.NoError(t, q.Sessions().Login(ctx, "icebird", "wingspan"))

	result, err := q.Search(ctx)
	require.NoError(t, err)
	for _, g := range result.Granules {
		assert.Empty(t, g.DownloadURL, "no download URL before ordering")
	}

	opts := order.DefaultOptions()
	opts.PageSize = 4 // 6 granules across 2 orders

	orders, err := q.Order(ctx, opts)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	urlsByOrder := map[string]string{}
	for _, ord := range orders {
		require.NotEmpty(t, ord.FileURLs)
		for _, id := range ord.GranuleIDs {
			urlsByOrder[id] = ord.FileURLs[0]
		}
	}

	// Every searched granule now points at its covering order's payload.
	require.Len(t, result.Granules, len(daac.Granules))
	for _, g := range result.Granules {
		assert.Equal(t, urlsByOrder[g.ID], g.DownloadURL, "granule %s", g.ID)
	}
}

func TestFullWorkflowDownload(t *testing.T) {
	q, daac := newWorkflow(t, "005")
	ctx := context.Background()

	require.NoError(t, q.Sessions().Login(ctx, "icebird", "wingspan"))

	opts := order.DefaultOptions()
	opts.Mode = order.ModeSync
	opts.PageSize = 10

	orders, err := q.Order(ctx, opts)
	require.NoError(t, err)
	require.NotEmpty(t, orders)

	dir := t.TempDir()
	report, err := q.Download(ctx, dir, false)
	require.NoError(t, err)
	assert.Equal(t, len(daac.Granules), report.Files)

	// A second Download with resume skips everything already retrieved.
	report, err = q.Download(ctx, dir, true)
	require.NoError(t, err)
	assert.Len(t, report.Skipped, len(orders))
}

func TestDownloadWithoutOrdersFails(t *testing.T) {
	q, _ := newWorkflow(t, "005")
	_, err := q.Download(context.Background(), t.TempDir(), false)
	assert.Error(t, err)
}
