package order

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/arcticdata/icefetch/internal/cmr"
	"github.com/arcticdata/icefetch/internal/extent"
)

// Mode selects how the fulfillment service delivers output.
type Mode string

const (
	// ModeAsync queues the order for asynchronous processing; output is
	// retrieved later by order ID.
	ModeAsync Mode = "async"

	// ModeSync streams output directly in the submission response. Not
	// meant for large page sizes.
	ModeSync Mode = "stream"
)

const (
	// DefaultPageSize is the default granule count per order page.
	DefaultPageSize = 10

	// MaxAsyncPageSize is the hard per-request ceiling in async mode.
	MaxAsyncPageSize = 2000

	// MaxSyncPageSize is the hard per-request ceiling in sync mode.
	MaxSyncPageSize = 100
)

// ErrPageSizeExceeded reports a page size above the mode's ceiling. It
// is returned before any request is sent.
var ErrPageSizeExceeded = errors.New("page size exceeds request-mode ceiling")

// Options enumerates the recognized order parameters. Anything the
// fulfillment service would not recognize has no field here.
type Options struct {
	// PageSize bounds the granule count per submitted order.
	PageSize int
	// Mode selects asynchronous or streaming delivery.
	Mode Mode
	// Agent identifies the requesting client to the service.
	Agent string
	// IncludeMeta requests granule metadata files alongside data.
	IncludeMeta bool
	// Email enables completion notification from the remote service.
	Email bool

	// Coverage lists wanted variable paths for server-side variable
	// subsetting. Empty means no variable subsetting.
	Coverage []string
	// Format requests server-side reformatting to the given target.
	Format string
	// Spatial re-filters the subset tighter than the search extent.
	Spatial *extent.Spatial
	// Temporal re-filters the subset tighter than the search range.
	Temporal *extent.Temporal
}

// DefaultOptions returns the option defaults: async mode, page size 10,
// email notification on.
func DefaultOptions() Options {
	return Options{
		PageSize: DefaultPageSize,
		Mode:     ModeAsync,
		Agent:    "icefetch",
		Email:    true,
	}
}

// Validate checks the options against the mode ceilings. A risky but
// permitted combination (streaming with a large page) is logged as a
// warning, not blocked.
func (o *Options) Validate(logger *slog.Logger) error {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Mode == "" {
		o.Mode = ModeAsync
	}
	if o.Agent == "" {
		o.Agent = "icefetch"
	}

	switch o.Mode {
	case ModeAsync:
		if o.PageSize > MaxAsyncPageSize {
			return fmt.Errorf("%w: %d > %d (async)", ErrPageSizeExceeded, o.PageSize, MaxAsyncPageSize)
		}
	case ModeSync:
		if o.PageSize > MaxSyncPageSize {
			return fmt.Errorf("%w: %d > %d (sync)", ErrPageSizeExceeded, o.PageSize, MaxSyncPageSize)
		}
		if o.PageSize > DefaultPageSize {
			logger.Warn("streaming mode with a large page size is not recommended",
				slog.Int("page_size", o.PageSize),
			)
		}
	default:
		return fmt.Errorf("unknown request mode %q", o.Mode)
	}

	return nil
}

// ToURLValues builds the full order request parameter set: the catalog
// filter params, the request-mode params, and the optional subset params.
func (o *Options) ToURLValues(params cmr.Params, granuleIDs []string, pageNum int) url.Values {
	values := url.Values{}

	// Catalog filter params
	values.Set("short_name", params.ShortName)
	if params.Version != "" {
		values.Set("version", params.Version)
	}
	if params.SpatialKey != "" {
		values.Set(params.SpatialKey, params.SpatialValue)
	}
	if params.Temporal != "" {
		values.Set("temporal", params.Temporal)
	}
	values.Set("producer_granule_id", strings.Join(granuleIDs, ","))

	// Request params
	values.Set("page_size", strconv.Itoa(len(granuleIDs)))
	values.Set("page_num", strconv.Itoa(pageNum))
	values.Set("request_mode", string(o.Mode))
	values.Set("agent", o.Agent)
	values.Set("include_meta", boolYN(o.IncludeMeta))
	values.Set("email", boolYN(o.Email))

	// Subset params
	if len(o.Coverage) > 0 {
		values.Set("coverage", strings.Join(o.Coverage, ","))
	}
	if o.Format != "" {
		values.Set("format", o.Format)
	}
	if o.Spatial != nil {
		key, value := o.Spatial.QueryParam()
		values.Set("subset_"+key, value)
	}
	if o.Temporal != nil {
		values.Set("subset_temporal", o.Temporal.Canonical())
	}

	return values
}

func boolYN(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}
