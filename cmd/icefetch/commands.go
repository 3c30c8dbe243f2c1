package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/arcticdata/icefetch/internal/order"
	"github.com/arcticdata/icefetch/internal/subset"
)

func newSearchCmd(root *rootOptions) *cobra.Command {
	var showIDs bool

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Find granules matching the dataset and extent",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, _, err := buildQuery(root)
			if err != nil {
				return err
			}

			summary, err := q.Summary(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("%d granules, %.1f MB total\n", summary.Count, float64(summary.TotalBytes)/(1024*1024))
			for version, count := range summary.ByVersion {
				fmt.Printf("  version %s: %d\n", version, count)
			}

			if showIDs {
				ids, err := q.GranuleIDs(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Println(id)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showIDs, "ids", false, "list the matching granule IDs")
	return cmd
}

func newVarsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vars",
		Short: "List the subsettable variables of the dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, _, err := buildQuery(root)
			if err != nil {
				return err
			}

			vars, err := q.Vars(cmd.Context()).Avail(cmd.Context())
			if err != nil {
				return err
			}
			for _, v := range vars {
				fmt.Println(v.Path)
			}
			return nil
		},
	}
	return cmd
}

func newOrderCmd(root *rootOptions) *cobra.Command {
	var (
		mode     string
		pageSize int
		format   string
		coverage []string
		defaults bool
	)

	cmd := &cobra.Command{
		Use:   "order",
		Short: "Submit subsetting orders for the matching granules",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, logger, err := buildQuery(root)
			if err != nil {
				return err
			}
			if err := login(cmd, q); err != nil {
				return err
			}

			if defaults {
				added, err := q.Vars(cmd.Context()).Append(cmd.Context(), subset.Filter{Defaults: true})
				if err != nil {
					return err
				}
				logger.Info("selected default variables", slog.Int("count", len(added)))
			}

			opts := order.DefaultOptions()
			opts.Mode = order.Mode(mode)
			opts.PageSize = pageSize
			opts.Format = format
			opts.Coverage = coverage

			orders, err := q.Order(cmd.Context(), opts)
			for _, ord := range orders {
				fmt.Printf("order %s: %s (%d granules)\n", ord.ID, ord.Status, len(ord.GranuleIDs))
			}
			return err
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(order.ModeAsync), "request mode: async or stream")
	cmd.Flags().IntVar(&pageSize, "page-size", order.DefaultPageSize, "granules per order")
	cmd.Flags().StringVar(&format, "format", "", "server-side reformat target, e.g. NetCDF4-CF")
	cmd.Flags().StringSliceVar(&coverage, "coverage", nil, "variable paths to subset to")
	cmd.Flags().BoolVar(&defaults, "default-vars", false, "subset to the dataset's default variable set")
	return cmd
}

func newDownloadCmd(root *rootOptions) *cobra.Command {
	var (
		outDir   string
		resume   bool
		mode     string
		pageSize int
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Order the matching granules and download the output",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, _, err := buildQuery(root)
			if err != nil {
				return err
			}
			if err := login(cmd, q); err != nil {
				return err
			}

			opts := order.DefaultOptions()
			opts.Mode = order.Mode(mode)
			opts.PageSize = pageSize

			if _, err := q.Order(cmd.Context(), opts); err != nil {
				return err
			}

			report, err := q.Download(cmd.Context(), outDir, resume)
			if err != nil {
				return err
			}

			fmt.Printf("retrieved %d orders (%d files), skipped %d\n",
				len(report.Retrieved), report.Files, len(report.Skipped))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "target directory for downloaded files")
	cmd.Flags().BoolVar(&resume, "resume", false, "skip orders already recorded in the directory's manifest")
	cmd.Flags().StringVar(&mode, "mode", string(order.ModeAsync), "request mode: async or stream")
	cmd.Flags().IntVar(&pageSize, "page-size", order.DefaultPageSize, "granules per order")
	return cmd
}
