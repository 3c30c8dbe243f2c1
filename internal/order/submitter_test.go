package order_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arcticdata/icefetch/internal/auth"
	"github.com/arcticdata/icefetch/internal/cmr"
	"github.com/arcticdata/icefetch/internal/daactest"
	"github.com/arcticdata/icefetch/internal/order"
)

// staticTokens is a TokenSource with a fixed token for hand-rolled
// fulfillment handlers.
type staticTokens string

func (s staticTokens) Token() (string, error) { return string(s), nil }

func newFulfillment(t *testing.T) (*order.Submitter, *auth.Manager, *daactest.Server) {
	t.Helper()

	daac := daactest.New()
	srv := httptest.NewServer(daac.Handler())
	t.Cleanup(srv.Close)
	daac.SetBaseURL(srv.URL)

	sessions := auth.NewManager(srv.URL, 5*time.Second)
	if err := sessions.Login(context.Background(), "icebird", "wingspan"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	submitter := order.NewSubmitter(srv.URL+"/egi", 5*time.Second).
		WithPolling(10*time.Millisecond, 2*time.Second)

	return submitter, sessions, daac
}

func granuleIDs(daac *daactest.Server) []string {
	ids := make([]string, len(daac.Granules))
	for i, g := range daac.Granules {
		ids[i] = g.ID
	}
	return ids
}

func TestSubmitAndPollAsync(t *testing.T) {
	submitter, sessions, daac := newFulfillment(t)
	ctx := context.Background()

	opts := order.DefaultOptions()
	opts.PageSize = 2 // 6 granules across 3 orders

	orders, err := submitter.Submit(ctx, sessions, cmr.Params{ShortName: "ATL06"}, granuleIDs(daac), opts)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("placed %d orders, want 3", len(orders))
	}
	for _, ord := range orders {
		if ord.Status != order.StatusPending {
			t.Errorf("order %s status = %q, want pending", ord.ID, ord.Status)
		}
		if len(ord.GranuleIDs) != 2 {
			t.Errorf("order %s has %d granules, want 2", ord.ID, len(ord.GranuleIDs))
		}
	}

	if err := submitter.Poll(ctx, sessions, orders); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	for _, ord := range orders {
		if ord.Status != order.StatusComplete {
			t.Errorf("order %s status = %q, want complete", ord.ID, ord.Status)
		}
		if len(ord.FileURLs) == 0 {
			t.Errorf("order %s has no file URLs after completion", ord.ID)
		}
	}
}

func TestPollStatusCallback(t *testing.T) {
	submitter, sessions, daac := newFulfillment(t)
	ctx := context.Background()

	var mu sync.Mutex
	seen := []order.Status{}
	submitter.WithStatusFunc(func(ord *order.Order) {
		mu.Lock()
		seen = append(seen, ord.Status)
		mu.Unlock()
	})

	opts := order.DefaultOptions()
	opts.PageSize = 10

	orders, err := submitter.Submit(ctx, sessions, cmr.Params{ShortName: "ATL06"}, granuleIDs(daac), opts)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := submitter.Poll(ctx, sessions, orders); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 {
		t.Fatalf("callback saw %d updates, want at least processing and complete", len(seen))
	}
	if seen[len(seen)-1] != order.StatusComplete {
		t.Errorf("last observed status = %q, want complete", seen[len(seen)-1])
	}
}

func TestSubmitSyncSkipsPolling(t *testing.T) {
	submitter, sessions, daac := newFulfillment(t)

	opts := order.DefaultOptions()
	opts.Mode = order.ModeSync
	opts.PageSize = 10

	orders, err := submitter.Submit(context.Background(), sessions, cmr.Params{ShortName: "ATL06"}, granuleIDs(daac), opts)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("placed %d orders, want 1", len(orders))
	}

	// Streaming delivery: complete immediately, payload URLs in hand.
	ord := orders[0]
	if ord.Status != order.StatusComplete {
		t.Errorf("status = %q, want complete without polling", ord.Status)
	}
	if len(ord.FileURLs) == 0 {
		t.Error("no file URLs in streaming response")
	}
}

func TestSubmitPageSizeExceededBeforeAnyRequest(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "should never be reached", http.StatusInternalServerError)
	}))
	defer srv.Close()

	submitter := order.NewSubmitter(srv.URL, 5*time.Second)

	tests := []order.Options{
		{Mode: order.ModeAsync, PageSize: order.MaxAsyncPageSize + 1},
		{Mode: order.ModeSync, PageSize: order.MaxSyncPageSize + 1},
	}
	for _, opts := range tests {
		_, err := submitter.Submit(context.Background(), staticTokens("tok"), cmr.Params{}, []string{"G1"}, opts)
		if !errors.Is(err, order.ErrPageSizeExceeded) {
			t.Fatalf("Submit = %v, want ErrPageSizeExceeded", err)
		}
	}
	if requests != 0 {
		t.Fatalf("ceiling violation reached the service: %d requests", requests)
	}
}

func TestSubmitRequiresSession(t *testing.T) {
	daac := daactest.New()
	srv := httptest.NewServer(daac.Handler())
	defer srv.Close()
	daac.SetBaseURL(srv.URL)

	sessions := auth.NewManager(srv.URL, 5*time.Second) // never logged in
	submitter := order.NewSubmitter(srv.URL+"/egi", 5*time.Second)

	_, err := submitter.Submit(context.Background(), sessions, cmr.Params{ShortName: "ATL06"}, granuleIDs(daac), order.DefaultOptions())
	if !errors.Is(err, auth.ErrNotLoggedIn) {
		t.Fatalf("Submit = %v, want ErrNotLoggedIn", err)
	}
}

func TestPollNoDataCompletion(t *testing.T) {
	submitter, sessions, daac := newFulfillment(t)
	ctx := context.Background()

	// Every requested granule yields no output.
	for _, g := range daac.Granules {
		daac.NoDataGranules[g.ID] = true
	}

	opts := order.DefaultOptions()
	opts.PageSize = 10

	orders, err := submitter.Submit(ctx, sessions, cmr.Params{ShortName: "ATL06"}, granuleIDs(daac), opts)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := submitter.Poll(ctx, sessions, orders); err != nil {
		t.Fatalf("Poll on no-data order: %v", err)
	}

	ord := orders[0]
	if ord.Status != order.StatusComplete || !ord.NoData {
		t.Errorf("no-data order = %q NoData=%v, want complete with NoData", ord.Status, ord.NoData)
	}
	if len(ord.FileURLs) != 0 {
		t.Errorf("no-data order has file URLs: %v", ord.FileURLs)
	}
}

func TestPollFailedOrderDoesNotAbortSiblings(t *testing.T) {
	// Submissions name the order after the page's first granule; status
	// fails orders for "BAD" granules and completes the rest.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if strings.Contains(r.URL.Path, "/orders/") {
			id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			if strings.HasPrefix(id, "BAD") {
				json.NewEncoder(w).Encode(map[string]any{
					"order_id": id, "status": "failed", "message": "subsetter crashed",
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"order_id": id, "status": "complete",
				"file_urls": []string{"https://example.org/" + id + ".zip"},
			})
			return
		}

		first := strings.SplitN(r.URL.Query().Get("producer_granule_id"), ",", 2)[0]
		json.NewEncoder(w).Encode(map[string]any{"order_id": first, "status": "pending"})
	}))
	defer srv.Close()

	submitter := order.NewSubmitter(srv.URL, 5*time.Second).
		WithPolling(10*time.Millisecond, 2*time.Second)

	opts := order.DefaultOptions()
	opts.PageSize = 1

	ctx := context.Background()
	orders, err := submitter.Submit(ctx, staticTokens("tok"), cmr.Params{ShortName: "ATL06"}, []string{"GOOD1", "BAD1", "GOOD2"}, opts)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("placed %d orders, want 3", len(orders))
	}

	err = submitter.Poll(ctx, staticTokens("tok"), orders)
	if !errors.Is(err, order.ErrOrderFailed) {
		t.Fatalf("Poll = %v, want ErrOrderFailed", err)
	}

	var complete, failed int
	for _, ord := range orders {
		switch ord.Status {
		case order.StatusComplete:
			complete++
		case order.StatusFailed:
			failed++
		}
	}
	if complete != 2 || failed != 1 {
		t.Errorf("got %d complete and %d failed, want 2 and 1", complete, failed)
	}
}
