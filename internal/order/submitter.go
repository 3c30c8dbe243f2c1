package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/arcticdata/icefetch/internal/auth"
	"github.com/arcticdata/icefetch/internal/cmr"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultPollTimeout  = 30 * time.Minute
	defaultMaxWorkers   = 4
)

// TokenSource supplies the bearer token attached to order requests.
// *auth.Manager satisfies it; every call reads the live session so a
// re-login is picked up between requests.
type TokenSource interface {
	Token() (string, error)
}

// Submitter builds, submits, and polls orders against the fulfillment
// service.
type Submitter struct {
	baseURL      string
	httpClient   *http.Client
	logger       *slog.Logger
	pollInterval time.Duration
	pollTimeout  time.Duration
	maxWorkers   int
	statusFunc   func(*Order)
}

// NewSubmitter creates an order submitter for the given fulfillment
// endpoint.
func NewSubmitter(baseURL string, timeout time.Duration) *Submitter {
	return &Submitter{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		logger:       slog.Default(),
		pollInterval: defaultPollInterval,
		pollTimeout:  defaultPollTimeout,
		maxWorkers:   defaultMaxWorkers,
	}
}

// WithLogger sets a custom logger for the submitter.
func (s *Submitter) WithLogger(logger *slog.Logger) *Submitter {
	s.logger = logger
	return s
}

// WithPolling overrides the status poll interval and overall timeout.
func (s *Submitter) WithPolling(interval, timeout time.Duration) *Submitter {
	if interval > 0 {
		s.pollInterval = interval
	}
	if timeout > 0 {
		s.pollTimeout = timeout
	}
	return s
}

// WithWorkers bounds how many pages are submitted or polled concurrently.
func (s *Submitter) WithWorkers(n int) *Submitter {
	if n > 0 {
		s.maxWorkers = n
	}
	return s
}

// WithStatusFunc registers a callback invoked with the updated order
// after every status poll, terminal ones included. Called from polling
// goroutines; the callback must be safe for concurrent use.
func (s *Submitter) WithStatusFunc(fn func(*Order)) *Submitter {
	s.statusFunc = fn
	return s
}

// partition splits granule IDs into pages of at most size elements,
// preserving order.
func partition(ids []string, size int) [][]string {
	var pages [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		pages = append(pages, ids[start:end])
	}
	return pages
}

// Submit partitions the granule list into pages and submits one order
// per page, up to maxWorkers pages in flight. Each successful submission
// yields an Order; a failed page does not abort its siblings. The
// returned error joins the per-page failures, with successfully placed
// orders always returned alongside it.
func (s *Submitter) Submit(ctx context.Context, tokens TokenSource, params cmr.Params, granuleIDs []string, opts Options) ([]*Order, error) {
	if err := opts.Validate(s.logger); err != nil {
		return nil, err
	}
	if len(granuleIDs) == 0 {
		return nil, fmt.Errorf("no granules to order")
	}

	// Fail fast on a missing or expired session before any request.
	if _, err := tokens.Token(); err != nil {
		return nil, err
	}

	pages := partition(granuleIDs, opts.PageSize)
	placed := make([]*Order, len(pages))
	pageErrs := make([]error, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxWorkers)

	for i, page := range pages {
		g.Go(func() error {
			ord, err := s.submitPage(gctx, tokens, params, page, i+1, opts)
			if err != nil {
				pageErrs[i] = fmt.Errorf("page %d: %w", i+1, err)
				s.logger.ErrorContext(gctx, "order submission failed",
					slog.Int("page", i+1),
					slog.String("error", err.Error()),
				)
				return nil // siblings keep going
			}
			placed[i] = ord
			return nil
		})
	}

	// Closures only record errors; Wait returns the context error, if any.
	if err := g.Wait(); err != nil {
		pageErrs = append(pageErrs, err)
	}

	orders := make([]*Order, 0, len(pages))
	for _, ord := range placed {
		if ord != nil {
			orders = append(orders, ord)
		}
	}

	return orders, errors.Join(pageErrs...)
}

func (s *Submitter) submitPage(ctx context.Context, tokens TokenSource, params cmr.Params, granuleIDs []string, pageNum int, opts Options) (*Order, error) {
	token, err := tokens.Token()
	if err != nil {
		return nil, err
	}

	values := opts.ToURLValues(params, granuleIDs, pageNum)
	requestURL := s.baseURL + "?" + values.Encode()

	s.logger.DebugContext(ctx, "submitting order",
		slog.Int("page", pageNum),
		slog.Int("granules", len(granuleIDs)),
		slog.String("mode", string(opts.Mode)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "icefetch/1.0")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("order request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("order endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var sub submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	if sub.OrderID == "" {
		return nil, fmt.Errorf("order response carried no order id")
	}

	ord := &Order{
		ID:         sub.OrderID,
		Page:       pageNum,
		GranuleIDs: granuleIDs,
		Mode:       opts.Mode,
		Message:    sub.Message,
	}
	applyStatus(ord, string(sub.Status), sub.FileURLs)

	// Streaming mode hands payload URLs back directly; there is nothing
	// to poll.
	if opts.Mode == ModeSync && ord.Status != StatusFailed {
		ord.Status = StatusComplete
	}
	if ord.Status == "" {
		ord.Status = StatusPending
	}

	s.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", ord.ID),
		slog.Int("page", pageNum),
		slog.String("status", string(ord.Status)),
	)
	return ord, nil
}

// Poll drives every non-terminal order to completion, checking status at
// the configured interval up to the poll timeout. Orders are updated in
// place. A failed order yields an ErrOrderFailed entry in the joined
// error without aborting its siblings.
func (s *Submitter) Poll(ctx context.Context, tokens TokenSource, orders []*Order) error {
	pollErrs := make([]error, len(orders))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxWorkers)

	for i, ord := range orders {
		if ord.Status.Terminal() {
			continue
		}
		g.Go(func() error {
			pollErrs[i] = s.pollOrder(gctx, tokens, ord)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		pollErrs = append(pollErrs, err)
	}

	return errors.Join(pollErrs...)
}

func (s *Submitter) pollOrder(ctx context.Context, tokens TokenSource, ord *Order) error {
	backoff := retry.WithMaxDuration(s.pollTimeout, retry.NewConstant(s.pollInterval))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		status, err := s.fetchStatus(ctx, tokens, ord.ID)
		if err != nil {
			// Transient service errors keep polling; auth errors do not.
			if errors.Is(err, context.Canceled) || isAuthError(err) {
				return err
			}
			return retry.RetryableError(err)
		}

		applyStatus(ord, status.Status, status.FileURLs)
		ord.Message = status.Message
		if s.statusFunc != nil {
			s.statusFunc(ord)
		}

		if !ord.Status.Terminal() {
			s.logger.InfoContext(ctx, "order in progress",
				slog.String("order_id", ord.ID),
				slog.String("status", string(ord.Status)),
			)
			return retry.RetryableError(fmt.Errorf("order %s still %s", ord.ID, ord.Status))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("polling order %s: %w", ord.ID, err)
	}

	if ord.Status == StatusFailed {
		return fmt.Errorf("%w: order %s: %s", ErrOrderFailed, ord.ID, ord.Message)
	}
	if ord.NoData {
		s.logger.WarnContext(ctx, "order completed with no output: granules had no actual overlap with the requested extent",
			slog.String("order_id", ord.ID),
		)
	} else {
		s.logger.InfoContext(ctx, "order complete",
			slog.String("order_id", ord.ID),
			slog.Int("files", len(ord.FileURLs)),
		)
	}
	return nil
}

func (s *Submitter) fetchStatus(ctx context.Context, tokens TokenSource, orderID string) (*statusResponse, error) {
	token, err := tokens.Token()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/orders/"+orderID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "icefetch/1.0")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &status, nil
}

// applyStatus maps a service status string onto the order, folding the
// zero-output completion variant into Complete + NoData.
func applyStatus(ord *Order, status string, fileURLs []string) {
	if len(fileURLs) > 0 {
		ord.FileURLs = fileURLs
	}

	switch status {
	case "pending":
		ord.Status = StatusPending
	case "processing":
		ord.Status = StatusProcessing
	case "complete":
		ord.Status = StatusComplete
	case "complete_with_no_files":
		ord.Status = StatusComplete
		ord.NoData = true
	case "failed":
		ord.Status = StatusFailed
	}
}

// isAuthError reports token errors that polling must not paper over:
// an expired session requires a re-login, not another poll cycle.
func isAuthError(err error) bool {
	return errors.Is(err, auth.ErrSessionExpired) || errors.Is(err, auth.ErrNotLoggedIn)
}
