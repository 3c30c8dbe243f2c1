// Command icefetch searches a granule catalog, orders subsets, and
// downloads the results.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/arcticdata/icefetch/internal/config"
	"github.com/arcticdata/icefetch/internal/extent"
	"github.com/arcticdata/icefetch/internal/query"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// rootOptions are the dataset/extent flags shared by every subcommand.
type rootOptions struct {
	shortName   string
	version     string
	bbox        []float64
	polygonFile string
	startDate   string
	endDate     string
	startTime   string
	endTime     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "icefetch",
		Short: "Search, order, and download remote-sensing granules",
		Long: `icefetch drives the full granule-access workflow: discover granules in
a CMR-style catalog, submit subsetting orders against them, and download
the processed output.

Ordering and downloading require Earthdata credentials in the
EARTHDATA_UID and EARTHDATA_PASSWORD environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.shortName, "short-name", "", "dataset short name, e.g. ATL06 (required)")
	flags.StringVar(&opts.version, "dataset-version", "", "dataset version; empty means latest")
	flags.Float64SliceVar(&opts.bbox, "bbox", nil, "bounding box as west,south,east,north")
	flags.StringVar(&opts.polygonFile, "polygon-file", "", "vector file with the area of interest (GeoJSON, WKT, or coordinate list)")
	flags.StringVar(&opts.startDate, "start-date", "", "range start date, YYYY-MM-DD (required)")
	flags.StringVar(&opts.endDate, "end-date", "", "range end date, YYYY-MM-DD (required)")
	flags.StringVar(&opts.startTime, "start-time", "", "range start time of day, HH:MM:SS (default 00:00:00)")
	flags.StringVar(&opts.endTime, "end-time", "", "range end time of day, HH:MM:SS (default 23:59:59)")

	cmd.MarkPersistentFlagRequired("short-name")
	cmd.MarkPersistentFlagRequired("start-date")
	cmd.MarkPersistentFlagRequired("end-date")

	cmd.AddCommand(
		newSearchCmd(opts),
		newVarsCmd(opts),
		newOrderCmd(opts),
		newDownloadCmd(opts),
	)

	return cmd
}

// buildQuery assembles the workflow from environment configuration and
// the shared flags.
func buildQuery(opts *rootOptions) (*query.Query, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger, err := setupLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}

	spatial, err := buildSpatial(opts)
	if err != nil {
		return nil, nil, err
	}

	temporal, err := extent.NewTemporal(opts.startDate, opts.endDate, opts.startTime, opts.endTime)
	if err != nil {
		return nil, nil, err
	}

	clients := query.NewClients(cfg, logger)
	q := query.New(clients, opts.shortName, opts.version, spatial, temporal).WithLogger(logger)
	return q, logger, nil
}

func buildSpatial(opts *rootOptions) (*extent.Spatial, error) {
	switch {
	case opts.polygonFile != "":
		return extent.NewPolygonFromFile(opts.polygonFile)
	case len(opts.bbox) == 4:
		return extent.NewBoundingBox(opts.bbox[0], opts.bbox[1], opts.bbox[2], opts.bbox[3])
	case len(opts.bbox) != 0:
		return nil, fmt.Errorf("--bbox needs exactly 4 values (west,south,east,north), got %d", len(opts.bbox))
	default:
		return nil, fmt.Errorf("a spatial extent is required: pass --bbox or --polygon-file")
	}
}

// login reads credentials from the environment and opens a session.
func login(cmd *cobra.Command, q *query.Query) error {
	uid := os.Getenv("EARTHDATA_UID")
	password := os.Getenv("EARTHDATA_PASSWORD")
	if uid == "" || password == "" {
		return fmt.Errorf("EARTHDATA_UID and EARTHDATA_PASSWORD must be set")
	}
	return q.Sessions().Login(cmd.Context(), uid, password)
}

func setupLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
