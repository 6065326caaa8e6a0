package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/placekit/placekit/internal/coastal"
	"github.com/placekit/placekit/internal/config"
	"github.com/placekit/placekit/internal/model"
	"github.com/placekit/placekit/internal/points"
	"github.com/placekit/placekit/internal/store"
)

// -- coastal --

var coastalCmd = &cobra.Command{
	Use:   "coastal <points>...",
	Short: "Fill km_distance_to_ocean and is_coastal from a coastline shapefile",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		flags := cmd.Flags()

		opts := coastal.Options{
			CRS:         cfg.Coastal.CRS,
			MinLat:      cfg.Coastal.MinLat,
			MaxLat:      cfg.Coastal.MaxLat,
			ThresholdKM: cfg.Coastal.ThresholdKM,
		}
		path := cfg.Coastal.CoastlinePath
		if flags.Changed("coastline") {
			path, _ = flags.GetString("coastline")
		}
		if flags.Changed("crs") {
			opts.CRS, _ = flags.GetString("crs")
		}
		if flags.Changed("threshold") {
			opts.ThresholdKM, _ = flags.GetFloat64("threshold")
		}

		coast, err := coastal.Load(path, newReprojector(), opts)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		backup, _ := flags.GetBool("backup")
		for _, p := range args {
			run := startRun(ctx, st, store.NewRun{Command: "coastal", Input: p, Params: opts})
			n, total, err := annotateFile(p, coast, opts.ThresholdKM, backup)
			counts := model.RunCounts{Total: total, OK: total}
			run.finish(ctx, nil, counts, err)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s: %d of %d rows coastal\n", p, n, total)
		}
		return nil
	},
}

func annotateFile(path string, coast *coastal.Coastline, thresholdKM float64, backup bool) (int, int, error) {
	t, err := points.Read(path)
	if err != nil {
		return 0, 0, err
	}
	n, err := coastal.Annotate(t, coast, thresholdKM)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "coastal: %s", path)
	}
	return n, len(t.Rows), writeTable(t, path, backup)
}

// writeTable replaces path with t, keeping the previous CSV as a backup
// when asked.
func writeTable(t *points.Table, path string, backup bool) error {
	if backup && strings.EqualFold(filepath.Ext(path), ".csv") {
		bak, err := points.WriteWithBackup(t, path)
		if err != nil {
			return err
		}
		if bak != "" {
			zap.L().Info("points: previous file kept", zap.String("backup", bak))
		}
		return nil
	}
	return t.Write(path)
}

// -- tag --

var tagCmd = &cobra.Command{
	Use:   "tag [points]...",
	Short: "Set the tags column from the region catalog",
	Long:  "Tags each point file with its region's configured tags. With no arguments every configured region file under points.dir is tagged.",
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := tagTargets(cfg, args)
		if err != nil {
			return err
		}
		for _, tt := range targets {
			t, err := points.Read(tt.path)
			if err != nil {
				return err
			}
			points.ApplyTags(t, tt.tags)
			if err := t.Write(tt.path); err != nil {
				return err
			}
			zap.L().Info("points: tagged",
				zap.String("path", tt.path),
				zap.Strings("tags", tt.tags),
				zap.Int("rows", len(t.Rows)),
			)
		}
		return nil
	},
}

type tagTarget struct {
	path string
	tags []string
}

// tagTargets resolves the files to tag and their tags. Files are matched to
// regions by base name.
func tagTargets(c *config.Config, args []string) ([]tagTarget, error) {
	if len(args) == 0 {
		codes := make([]string, 0, len(c.Regions))
		for code, r := range c.Regions {
			if r.File != "" {
				codes = append(codes, code)
			}
		}
		sort.Strings(codes)
		for _, code := range codes {
			args = append(args, filepath.Join(c.Points.Dir, c.Regions[code].File))
		}
	}

	out := make([]tagTarget, 0, len(args))
	for _, p := range args {
		code, ok := c.RegionByFile(filepath.Base(p))
		if !ok {
			return nil, eris.Errorf("no region configured for file %s", filepath.Base(p))
		}
		out = append(out, tagTarget{path: p, tags: c.Regions[code].Tags})
	}
	return out, nil
}

// -- add --

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a point location to a region file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		flags := cmd.Flags()
		code, _ := flags.GetString("region")
		region, err := cfg.Region(code)
		if err != nil {
			return err
		}

		rec := points.Record{Region: strings.ToUpper(code), RegionName: region.Name}
		rec.Name, _ = flags.GetString("name")
		rec.AltName, _ = flags.GetString("alt-name")
		rec.Latitude, _ = flags.GetFloat64("lat")
		rec.Longitude, _ = flags.GetFloat64("lon")
		rec.Country, _ = flags.GetString("country")
		if rec.Country == "" {
			rec.Country = defaultCountry(rec.Region)
		}

		path, _ := flags.GetString("file")
		if path == "" {
			path = regionFile(cfg, region)
		}

		before, err := points.Read(path)
		if err != nil {
			return err
		}
		after, id, err := points.AddRecord(before, rec)
		if err != nil {
			return err
		}
		if tags := region.Tags; len(tags) > 0 && after.Index(points.ColTags) >= 0 {
			for r := range after.Rows {
				if after.Get(r, points.ColID) == id {
					after.Set(r, points.ColTags, strings.Join(tags, ","))
				}
			}
		}

		for _, line := range points.Diff(before, after) {
			fmt.Fprintln(os.Stdout, line)
		}
		if dry, _ := flags.GetBool("dry-run"); dry {
			return nil
		}
		backup, _ := flags.GetBool("backup")
		return writeTable(after, path, backup)
	},
}

// regionFile is the configured point file of a region, or the file name
// derived from its long name.
func regionFile(c *config.Config, r config.RegionConfig) string {
	name := r.File
	if name == "" {
		name = points.RegionFileName(r.Name)
	}
	return filepath.Join(c.Points.Dir, name)
}

// defaultCountry is US for Alaska and CA for the Canadian jurisdictions.
func defaultCountry(region string) string {
	if strings.EqualFold(region, "AK") {
		return "US"
	}
	return "CA"
}

// -- specialchars --

var specialCharsCmd = &cobra.Command{
	Use:   "specialchars <points>...",
	Short: "List names holding non-ASCII characters with ASCII suggestions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cols, _ := cmd.Flags().GetStringSlice("columns")
		found := 0
		for _, p := range args {
			t, err := points.Read(p)
			if err != nil {
				return err
			}
			rows := points.FindSpecialCharacters(t, cols...)
			found += len(rows)
			formatSpecialRows(os.Stdout, p, rows)
		}
		if found == 0 {
			fmt.Fprintln(os.Stderr, "No special characters found.")
		}
		return nil
	},
}

func formatSpecialRows(out io.Writer, path string, rows []points.SpecialRow) {
	if len(rows) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "%s\n", path)
	_, _ = fmt.Fprintln(w, "ROW\tID\tCOLUMN\tVALUE\tSUGGESTION")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.Row+1, r.ID, r.Column, r.Value, r.Suggestion)
	}
	_ = w.Flush()
}

func init() {
	coastalCmd.Flags().String("coastline", "", "coastline shapefile (default from config)")
	coastalCmd.Flags().String("crs", "", "projected CRS distances are measured in (default from config)")
	coastalCmd.Flags().Float64("threshold", 100, "distance in km under which a point is coastal")
	coastalCmd.Flags().Bool("backup", false, "keep the previous CSV as *_DEPRECATED.csv")

	addCmd.Flags().String("region", "", "region postal code, e.g. AK")
	addCmd.Flags().String("name", "", "place name")
	addCmd.Flags().String("alt-name", "", "alternate name")
	addCmd.Flags().Float64("lat", 0, "latitude in degrees")
	addCmd.Flags().Float64("lon", 0, "longitude in degrees")
	addCmd.Flags().String("country", "", "US or CA (default from region)")
	addCmd.Flags().String("file", "", "point file (default from region config)")
	addCmd.Flags().Bool("dry-run", false, "print the change without writing")
	addCmd.Flags().Bool("backup", true, "keep the previous CSV as *_DEPRECATED.csv")
	_ = addCmd.MarkFlagRequired("region")
	_ = addCmd.MarkFlagRequired("name")
	_ = addCmd.MarkFlagRequired("lat")
	_ = addCmd.MarkFlagRequired("lon")

	specialCharsCmd.Flags().StringSlice("columns", nil, "columns to check (default name, alt_name)")

	rootCmd.AddCommand(coastalCmd, tagCmd, addCmd, specialCharsCmd)
}
