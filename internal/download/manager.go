// Package download retrieves completed order payloads, unpacks them into
// a target directory, and tracks retrieval in a durable manifest for
// resumable bulk downloads.
package download

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/arcticdata/icefetch/internal/order"
)

// ErrDownloadIncomplete reports a network failure mid-fetch. The target
// directory holds no partial files for the affected order; retrying with
// resume is safe.
var ErrDownloadIncomplete = errors.New("download incomplete")

const fetchRetryBaseDelay = 1 * time.Second

// Report summarizes one Download invocation.
type Report struct {
	// Retrieved lists order IDs fetched and unpacked by this call.
	Retrieved []string
	// Skipped lists order IDs already marked retrieved in the manifest.
	Skipped []string
	// Files counts granule files landed in the target directory.
	Files int
}

// Manager performs bulk downloads of completed orders.
type Manager struct {
	httpClient *http.Client
	logger     *slog.Logger
	maxWorkers int
	maxRetries uint64

	mu         sync.Mutex
	orderLocks map[string]*sync.Mutex
}

// NewManager creates a download manager.
func NewManager(timeout time.Duration) *Manager {
	return &Manager{
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
		maxWorkers: 4,
		maxRetries: 3,
		orderLocks: make(map[string]*sync.Mutex),
	}
}

// WithLogger sets a custom logger for the manager.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.logger = logger
	return m
}

// WithWorkers bounds how many orders download concurrently.
func (m *Manager) WithWorkers(n int) *Manager {
	if n > 0 {
		m.maxWorkers = n
	}
	return m
}

// WithRetries bounds per-fetch retries.
func (m *Manager) WithRetries(n int) *Manager {
	if n >= 0 {
		m.maxRetries = uint64(n)
	}
	return m
}

// lockOrder returns the mutex guarding one order ID, creating it on
// first use. Two concurrent downloads of the same order serialize here
// so the payload is never double-unpacked.
func (m *Manager) lockOrder(orderID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.orderLocks[orderID]
	if !ok {
		lock = &sync.Mutex{}
		m.orderLocks[orderID] = lock
	}
	return lock
}

// Download fetches every Complete order's payload into dir, unpacking
// archives flat so all granule files land in one directory. The target
// directory is created if absent. With resume set, orders already marked
// retrieved in the manifest are skipped entirely; partially downloaded
// orders are re-fetched from scratch. Distinct orders download
// concurrently up to the worker limit. Cancellation between fetches
// leaves already-unpacked files and manifest rows intact.
func (m *Manager) Download(ctx context.Context, dir string, tokens order.TokenSource, orders []*order.Order, resume bool) (*Report, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}

	manifest, err := OpenManifest(dir)
	if err != nil {
		return nil, err
	}
	defer manifest.Close()

	report := &Report{}
	var reportMu sync.Mutex
	orderErrs := make([]error, len(orders))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxWorkers)

	for i, ord := range orders {
		if ord.Status != order.StatusComplete {
			continue
		}
		if ord.NoData || len(ord.FileURLs) == 0 {
			m.logger.WarnContext(ctx, "skipping order with no output files",
				slog.String("order_id", ord.ID),
			)
			continue
		}

		g.Go(func() error {
			files, skipped, err := m.downloadOrder(gctx, dir, manifest, tokens, ord, resume)
			if err != nil {
				orderErrs[i] = fmt.Errorf("order %s: %w", ord.ID, err)
				return nil // siblings keep going
			}

			reportMu.Lock()
			defer reportMu.Unlock()
			if skipped {
				report.Skipped = append(report.Skipped, ord.ID)
			} else {
				report.Retrieved = append(report.Retrieved, ord.ID)
				report.Files += files
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		orderErrs = append(orderErrs, err)
	}

	return report, errors.Join(orderErrs...)
}

// downloadOrder fetches and unpacks a single order under its per-order
// lock. Returns the number of files landed, or skipped=true when the
// manifest already records the order as retrieved.
func (m *Manager) downloadOrder(ctx context.Context, dir string, manifest *Manifest, tokens order.TokenSource, ord *order.Order, resume bool) (files int, skipped bool, err error) {
	lock := m.lockOrder(ord.ID)
	lock.Lock()
	defer lock.Unlock()

	if resume {
		done, err := manifest.IsRetrieved(ord.ID)
		if err != nil {
			return 0, false, err
		}
		if done {
			m.logger.InfoContext(ctx, "order already retrieved, skipping",
				slog.String("order_id", ord.ID),
			)
			return 0, true, nil
		}
	}

	for _, fileURL := range ord.FileURLs {
		n, err := m.fetchAndUnpack(ctx, dir, tokens, fileURL)
		if err != nil {
			return 0, false, err
		}
		files += n
	}

	if err := manifest.MarkRetrieved(ord.ID, files); err != nil {
		return 0, false, err
	}

	m.logger.InfoContext(ctx, "order retrieved",
		slog.String("order_id", ord.ID),
		slog.Int("files", files),
	)
	return files, false, nil
}

// fetchAndUnpack downloads one payload URL to a temporary file, then
// either unpacks it (zip archives, flattened) or moves it into dir.
func (m *Manager) fetchAndUnpack(ctx context.Context, dir string, tokens order.TokenSource, fileURL string) (int, error) {
	tmp, err := os.CreateTemp(dir, ".icefetch-fetch-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	backoff := retry.WithMaxRetries(m.maxRetries, retry.NewExponential(fetchRetryBaseDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := m.fetchToFile(ctx, tokens, fileURL, tmpPath); err != nil {
			m.logger.WarnContext(ctx, "payload fetch failed, retrying",
				slog.String("url", fileURL),
				slog.String("error", err.Error()),
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDownloadIncomplete, err)
	}

	if reader, zerr := zip.OpenReader(tmpPath); zerr == nil {
		defer reader.Close()
		return unpackFlat(reader, dir)
	}

	// Not an archive: land the payload directly under its URL basename.
	name := payloadName(fileURL)
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return 0, fmt.Errorf("failed to place payload file: %w", err)
	}
	return 1, nil
}

func (m *Manager) fetchToFile(ctx context.Context, tokens order.TokenSource, fileURL, path string) error {
	token, err := tokens.Token()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "icefetch/1.0")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("payload endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("payload transfer interrupted: %w", err)
	}
	return nil
}

// unpackFlat extracts every file entry of an archive directly into dir,
// dropping any internal directory structure.
func unpackFlat(reader *zip.ReadCloser, dir string) (int, error) {
	files := 0
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}

		src, err := entry.Open()
		if err != nil {
			return files, fmt.Errorf("failed to open archive entry %s: %w", entry.Name, err)
		}

		target := filepath.Join(dir, filepath.Base(entry.Name))
		dst, err := os.Create(target)
		if err != nil {
			src.Close()
			return files, fmt.Errorf("failed to create %s: %w", target, err)
		}

		_, err = io.Copy(dst, src)
		src.Close()
		dst.Close()
		if err != nil {
			return files, fmt.Errorf("failed to extract %s: %w", entry.Name, err)
		}
		files++
	}
	return files, nil
}

// payloadName derives a local filename from a payload URL.
func payloadName(fileURL string) string {
	if u, err := url.Parse(fileURL); err == nil {
		if base := filepath.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	return "payload.bin"
}
