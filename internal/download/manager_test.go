package download_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arcticdata/icefetch/internal/auth"
	"github.com/arcticdata/icefetch/internal/cmr"
	"github.com/arcticdata/icefetch/internal/daactest"
	"github.com/arcticdata/icefetch/internal/download"
	"github.com/arcticdata/icefetch/internal/order"
)

type staticTokens string

func (s staticTokens) Token() (string, error) { return string(s), nil }

// placeOrders runs a real streaming order against the fake service so the
// payload URLs resolve to downloadable zip archives.
func placeOrders(t *testing.T, pageSize int) (*auth.Manager, []*order.Order, *daactest.Server) {
	t.Helper()

	daac := daactest.New()
	srv := httptest.NewServer(daac.Handler())
	t.Cleanup(srv.Close)
	daac.SetBaseURL(srv.URL)

	sessions := auth.NewManager(srv.URL, 5*time.Second)
	if err := sessions.Login(context.Background(), "icebird", "wingspan"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	ids := make([]string, len(daac.Granules))
	for i, g := range daac.Granules {
		ids[i] = g.ID
	}

	opts := order.DefaultOptions()
	opts.Mode = order.ModeSync
	opts.PageSize = pageSize

	submitter := order.NewSubmitter(srv.URL+"/egi", 5*time.Second)
	orders, err := submitter.Submit(context.Background(), sessions, cmr.Params{ShortName: "ATL06"}, ids, opts)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return sessions, orders, daac
}

func TestDownloadUnpacksFlat(t *testing.T) {
	sessions, orders, daac := placeOrders(t, 10)
	dir := t.TempDir()

	m := download.NewManager(5 * time.Second)
	report, err := m.Download(context.Background(), dir, sessions, orders, false)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if len(report.Retrieved) != 1 || report.Files != len(daac.Granules) {
		t.Fatalf("report = %+v, want 1 order and %d files", report, len(daac.Granules))
	}

	// Archive entries are nested; the directory must end up flat.
	for _, g := range daac.Granules {
		path := filepath.Join(dir, "processed_"+g.ID)
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("expected flattened file %s: %v", path, err)
		}
		if !strings.Contains(string(data), g.ID) {
			t.Errorf("unexpected payload content in %s", path)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			t.Errorf("directory %s left behind, output must be flat", e.Name())
		}
	}
}

func TestDownloadResume(t *testing.T) {
	sessions, orders, _ := placeOrders(t, 10)
	dir := t.TempDir()
	ctx := context.Background()

	m := download.NewManager(5 * time.Second)
	if _, err := m.Download(ctx, dir, sessions, orders, false); err != nil {
		t.Fatalf("first download: %v", err)
	}

	// Resume skips the manifest-recorded order entirely.
	report, err := m.Download(ctx, dir, sessions, orders, true)
	if err != nil {
		t.Fatalf("resumed download: %v", err)
	}
	if len(report.Skipped) != 1 || len(report.Retrieved) != 0 {
		t.Fatalf("resume report = %+v, want the order skipped", report)
	}

	// Without resume the order is fetched again.
	report, err = m.Download(ctx, dir, sessions, orders, false)
	if err != nil {
		t.Fatalf("forced re-download: %v", err)
	}
	if len(report.Retrieved) != 1 {
		t.Fatalf("re-download report = %+v, want the order retrieved", report)
	}
}

func TestConcurrentDownloadSameOrderUnpacksOnce(t *testing.T) {
	sessions, orders, daac := placeOrders(t, 10)
	dir := t.TempDir()
	ctx := context.Background()

	// Two simultaneous resumable downloads of the same order on one
	// manager serialize on the per-order lock: one fetches, the other
	// finds the manifest row and skips.
	m := download.NewManager(5 * time.Second)

	var wg sync.WaitGroup
	reports := make([]*download.Report, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], errs[i] = m.Download(ctx, dir, sessions, orders, true)
		}()
	}
	wg.Wait()

	var retrieved, skipped, files int
	for i := range reports {
		if errs[i] != nil {
			t.Fatalf("download %d: %v", i, errs[i])
		}
		retrieved += len(reports[i].Retrieved)
		skipped += len(reports[i].Skipped)
		files += reports[i].Files
	}
	if retrieved != 1 || skipped != 1 {
		t.Fatalf("retrieved=%d skipped=%d, want exactly one fetch and one skip", retrieved, skipped)
	}
	if files != len(daac.Granules) {
		t.Fatalf("files = %d, want %d", files, len(daac.Granules))
	}
}

func TestDownloadSkipsUnfinishedAndEmptyOrders(t *testing.T) {
	orders := []*order.Order{
		{ID: "pending-1", Status: order.StatusPending},
		{ID: "empty-1", Status: order.StatusComplete, NoData: true},
		{ID: "no-urls", Status: order.StatusComplete},
	}

	m := download.NewManager(5 * time.Second)
	report, err := m.Download(context.Background(), t.TempDir(), staticTokens("tok"), orders, false)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(report.Retrieved) != 0 || len(report.Skipped) != 0 || report.Files != 0 {
		t.Fatalf("report = %+v, want nothing retrieved", report)
	}
}

func TestDownloadFailureIsIncomplete(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	orders := []*order.Order{{
		ID:       "doomed",
		Status:   order.StatusComplete,
		FileURLs: []string{srv.URL + "/files/doomed.zip"},
	}}

	m := download.NewManager(5 * time.Second).WithRetries(0)
	_, err := m.Download(context.Background(), t.TempDir(), staticTokens("tok"), orders, false)
	if !errors.Is(err, download.ErrDownloadIncomplete) {
		t.Fatalf("Download = %v, want ErrDownloadIncomplete", err)
	}
}

func TestDownloadFailureDoesNotAbortSiblings(t *testing.T) {
	sessions, orders, daac := placeOrders(t, 10)

	doomed := &order.Order{
		ID:       "doomed",
		Status:   order.StatusComplete,
		FileURLs: []string{"http://127.0.0.1:1/nope.zip"},
	}
	all := append([]*order.Order{doomed}, orders...)

	m := download.NewManager(2 * time.Second).WithRetries(0)
	report, err := m.Download(context.Background(), t.TempDir(), sessions, all, false)

	if !errors.Is(err, download.ErrDownloadIncomplete) {
		t.Fatalf("Download = %v, want ErrDownloadIncomplete for the doomed order", err)
	}
	if len(report.Retrieved) != 1 || report.Files != len(daac.Granules) {
		t.Fatalf("report = %+v, want the healthy order retrieved", report)
	}
}
