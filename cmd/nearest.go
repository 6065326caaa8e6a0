package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/placekit/placekit/internal/config"
	"github.com/placekit/placekit/internal/diagnostics"
	"github.com/placekit/placekit/internal/model"
	"github.com/placekit/placekit/internal/nearest"
	"github.com/placekit/placekit/internal/points"
	"github.com/placekit/placekit/internal/raster"
	"github.com/placekit/placekit/internal/store"
)

var nearestCmd = &cobra.Command{
	Use:   "nearest <points> <raster.tif> <out>",
	Short: "Append the k nearest accepted raster cells to each point",
	Long: `Reads point locations from CSV or XLSX, searches a window of the raster
around each one for cells whose value is in the accepted set, and writes the
table back with {prefix}_lat{i}, {prefix}_lon{i} and {prefix}_status columns.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pointsPath, rasterPath, outPath := args[0], args[1], args[2]

		search, err := searchConfig(cmd, cfg.Search)
		if err != nil {
			return err
		}
		if region, _ := cmd.Flags().GetString("region"); region != "" {
			code, err := cfg.RegionCRS(region)
			if err != nil {
				return err
			}
			search.CRS = code
		}

		rasterCRS, _ := cmd.Flags().GetString("raster-crs")
		src, err := raster.OpenGeoTIFF(rasterPath, raster.WithCRS(rasterCRS))
		if err != nil {
			return err
		}
		defer src.Close() //nolint:errcheck

		var opts []nearest.Option
		debug, _ := cmd.Flags().GetBool("debug")
		if debug || cfg.Diagnostics.Enabled {
			dir, _ := cmd.Flags().GetString("debug-dir")
			if dir == "" {
				dir = cfg.Diagnostics.Dir
			}
			obs, err := diagnostics.NewShapefileObserver(dir)
			if err != nil {
				return err
			}
			opts = append(opts, nearest.WithObserver(obs))
			zap.L().Info("nearest: writing diagnostics", zap.String("dir", dir))
		}
		finder := nearest.NewFinder(src, newReprojector(), opts...)

		table, err := points.Read(pointsPath)
		if err != nil {
			return err
		}
		locs, err := table.Locations()
		if err != nil {
			return err
		}

		filterSpec, _ := cmd.Flags().GetString("filter")
		filter, err := rowFilter(filterSpec, table, finder, search)
		if err != nil {
			return err
		}

		onError, _ := cmd.Flags().GetString("on-error")
		if !cmd.Flags().Changed("on-error") {
			onError = cfg.Search.OnError
		}
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if !cmd.Flags().Changed("concurrency") {
			concurrency = cfg.Search.Concurrency
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}
		run := startRun(ctx, st, store.NewRun{
			Command: "nearest",
			Input:   pointsPath,
			Raster:  rasterPath,
			Params:  search,
		})

		batch := &nearest.Batch{
			Finder:      finder,
			Config:      search,
			Concurrency: concurrency,
			OnError:     nearest.ErrorPolicy(onError),
			Filter:      filter,
		}
		outcomes, counts, err := batch.Run(ctx, locs)
		if err != nil {
			run.finish(ctx, nil, counts, err)
			return err
		}
		run.finish(ctx, runRows(outcomes), counts, nil)

		prefix, _ := cmd.Flags().GetString("prefix")
		if !cmd.Flags().Changed("prefix") {
			prefix = cfg.Search.Prefix
		}
		xy, _ := cmd.Flags().GetBool("xy")
		out, err := appendNeighbors(table, nearest.Columns{Prefix: prefix, K: search.K, Projected: xy}, outcomes)
		if err != nil {
			return err
		}
		if err := out.Write(outPath); err != nil {
			return err
		}

		printCounts(counts)
		return nil
	},
}

// searchConfig starts from the configured search and applies any flags the
// user set.
func searchConfig(cmd *cobra.Command, base config.SearchConfig) (nearest.SearchConfig, error) {
	fallback, err := nearest.ParseFallback(base.Fallback)
	if err != nil {
		return nearest.SearchConfig{}, err
	}
	sc := nearest.SearchConfig{
		K:                base.K,
		Accepted:         append([]float64(nil), base.Values...),
		Band:             base.Band,
		HalfSizeM:        base.HalfSizeM,
		CRS:              base.CRS,
		Fallback:         fallback,
		MaxFallbackSteps: base.MaxFallbackSteps,
		Decimals:         base.Decimals,
	}

	flags := cmd.Flags()
	if flags.Changed("k") {
		sc.K, _ = flags.GetInt("k")
	}
	if flags.Changed("value") {
		sc.Accepted, _ = flags.GetFloat64Slice("value")
	}
	if flags.Changed("band") {
		sc.Band, _ = flags.GetInt("band")
	}
	if flags.Changed("half-size") {
		sc.HalfSizeM, _ = flags.GetFloat64("half-size")
	}
	if flags.Changed("crs") {
		sc.CRS, _ = flags.GetString("crs")
	}
	if flags.Changed("query-crs") {
		sc.QueryCRS, _ = flags.GetString("query-crs")
	}
	if flags.Changed("fallback") {
		s, _ := flags.GetString("fallback")
		if sc.Fallback, err = nearest.ParseFallback(s); err != nil {
			return nearest.SearchConfig{}, err
		}
	}
	if flags.Changed("max-fallback-steps") {
		sc.MaxFallbackSteps, _ = flags.GetInt("max-fallback-steps")
	}
	if flags.Changed("decimals") {
		sc.Decimals, _ = flags.GetInt("decimals")
	}
	return sc, nil
}

// rowFilter parses --filter: "" for every row, "bbox" for rows inside the
// raster footprint, or "column:<name>" for rows whose boolean column is
// true.
func rowFilter(expr string, t *points.Table, f *nearest.Finder, sc nearest.SearchConfig) (nearest.RowFilter, error) {
	switch {
	case expr == "":
		return nil, nil
	case expr == "bbox":
		b, err := f.QueryBounds(sc)
		if err != nil {
			return nil, err
		}
		return nearest.InBounds(b), nil
	case strings.HasPrefix(expr, "column:"):
		col := strings.TrimPrefix(expr, "column:")
		if t.Index(col) < 0 {
			return nil, eris.Errorf("filter column %q not found", col)
		}
		keep, err := t.BoolColumn(col)
		if err != nil {
			return nil, err
		}
		return func(row int, _ model.Location) bool { return keep[row] }, nil
	default:
		return nil, eris.Errorf("unknown filter %q (want bbox or column:<name>)", expr)
	}
}

// appendNeighbors returns a copy of t with the neighbor columns set from
// outcomes, which must be in row order.
func appendNeighbors(t *points.Table, cols nearest.Columns, outcomes []nearest.RowOutcome) (*points.Table, error) {
	out := t.Clone()
	names := cols.Names()
	values := make([][]string, len(names))
	for i := range values {
		values[i] = make([]string, len(outcomes))
	}
	for r, o := range outcomes {
		for i, v := range cols.Values(o) {
			values[i][r] = v
		}
	}
	for i, name := range names {
		if err := out.SetColumn(name, values[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func printCounts(c model.RunCounts) {
	fmt.Fprintf(os.Stderr, "rows=%d ok=%d partial=%d empty=%d failed=%d skipped=%d\n",
		c.Total, c.OK, c.Partial, c.Empty, c.Failed, c.Skipped)
}

func init() {
	addNearestFlags(nearestCmd)
	rootCmd.AddCommand(nearestCmd)
}

func addNearestFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("k", 1, "number of neighbors per point")
	f.Float64Slice("value", []float64{0, 255}, "accepted cell value (repeatable)")
	f.Int("band", 1, "raster band, 1-based")
	f.Float64("half-size", nearest.DefaultHalfSizeM, "search window half-size in meters")
	f.String("crs", "EPSG:3338", "search CRS; must match the raster")
	f.String("region", "", "take the search CRS from this region's configuration")
	f.String("query-crs", "", "CRS of the point coordinates (default EPSG:4326)")
	f.String("raster-crs", "", "declare the raster CRS when the file carries none")
	f.String("fallback", "none", "fallback policy when a window is empty (none, shift, grow)")
	f.Int("max-fallback-steps", nearest.DefaultMaxFallbackSteps, "maximum fallback retries")
	f.Int("decimals", nearest.DefaultDecimals, "decimals kept in output coordinates")
	f.String("prefix", "nn", "output column prefix")
	f.String("filter", "", "process only some rows: bbox or column:<name>")
	f.String("on-error", "abort", "per-row failure policy (abort, mark)")
	f.Int("concurrency", 1, "rows searched in parallel")
	f.Bool("xy", false, "also write projected {prefix}_x{i}/{prefix}_y{i} columns")
	f.Bool("debug", false, "write per-query diagnostic rasters and shapefiles")
	f.String("debug-dir", "", "diagnostics directory (default from config)")
	cmd.MarkFlagsMutuallyExclusive("crs", "region")
}
