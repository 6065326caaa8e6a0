package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/placekit/placekit/internal/crs"
	"github.com/placekit/placekit/internal/points"
	"github.com/placekit/placekit/internal/shapes"
)

// defaultDropHUCs are watershed units outside the study domain.
var defaultDropHUCs = []string{"190208000003", "190505000000", "190301030000", "190501010000"}

// -- smallpolys --

var smallPolysCmd = &cobra.Command{
	Use:   "smallpolys <polygons.shp> <points>",
	Short: "Replace polygons under a size threshold with centroid points",
	Long: `Measures each polygon in the region's projected CRS. Polygons smaller than
--max-area square kilometers are added to the point file at their centroid
and removed from the shapefile.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		shpPath, pointsPath := args[0], args[1]
		flags := cmd.Flags()

		code, _ := flags.GetString("region")
		region, err := cfg.Region(code)
		if err != nil {
			return err
		}
		projCRS, err := cfg.RegionCRS(code)
		if err != nil {
			return err
		}

		layer, err := shapes.Read(shpPath)
		if err != nil {
			return err
		}
		layer.CRS, _ = flags.GetString("shp-crs")
		if layer.CRS == "" {
			layer.CRS = projCRS
		}

		maxArea, _ := flags.GetFloat64("max-area")
		small, large, err := shapes.SmallPolygonsToPoints(layer, newReprojector(), projCRS, maxArea)
		if err != nil {
			return err
		}

		t, err := points.Read(pointsPath)
		if err != nil {
			return err
		}
		tags, _ := flags.GetStringSlice("tags")
		country, _ := flags.GetString("country")
		if country == "" {
			country = defaultCountry(code)
		}
		updated, ids, err := shapes.AddCentroids(t, small, strings.ToUpper(code), region.Name, country, tags)
		if err != nil {
			return err
		}
		for _, line := range points.Diff(t, updated) {
			fmt.Fprintln(os.Stdout, line)
		}
		if dry, _ := flags.GetBool("dry-run"); dry {
			return nil
		}

		if err := writeTable(updated, pointsPath, true); err != nil {
			return err
		}
		out, _ := flags.GetString("out")
		if out == "" {
			out = shpPath
		}
		if err := shapes.Write(out, large); err != nil {
			return err
		}
		zap.L().Info("shapes: small polygons converted", zap.Strings("ids", ids), zap.String("remaining", out))
		return nil
	},
}

// -- shadow --

var shadowCmd = &cobra.Command{
	Use:   "shadow <in.shp> <out.shp>",
	Short: "Write the inverse of a polygon layer within its bounding box",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		layer, err := shapes.Read(args[0])
		if err != nil {
			return err
		}
		layer.CRS, _ = cmd.Flags().GetString("crs")
		id, _ := cmd.Flags().GetString("id")
		name, _ := cmd.Flags().GetString("name")
		mask, err := shapes.ShadowMask(layer, id, name)
		if err != nil {
			return err
		}
		return writeLayer(args[1], mask)
	},
}

// -- dropparts --

var dropPartsCmd = &cobra.Command{
	Use:   "dropparts <in.shp> <out.shp>",
	Short: "Drop polygon parts that extend east of a cutoff",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		layer, err := shapes.Read(args[0])
		if err != nil {
			return err
		}
		maxX, _ := cmd.Flags().GetFloat64("max-x")
		n := shapes.DropParts(layer, maxX)
		fmt.Fprintf(os.Stderr, "dropped %d parts\n", n)
		return shapes.Write(args[1], layer)
	},
}

// -- simplify --

var simplifyCmd = &cobra.Command{
	Use:   "simplify <in.shp> <out.shp>",
	Short: "Simplify line and polygon geometry with Douglas-Peucker",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		layer, err := shapes.Read(args[0])
		if err != nil {
			return err
		}
		var opts shapes.SimplifyOptions
		opts.Tolerance, _ = cmd.Flags().GetFloat64("tolerance")
		opts.RenameID, _ = cmd.Flags().GetString("rename-id")
		opts.DropIDs, _ = cmd.Flags().GetStringSlice("drop")
		opts.Keep, _ = cmd.Flags().GetStringSlice("keep")
		if err := shapes.Simplify(layer, opts); err != nil {
			return err
		}
		return writeLayer(args[1], layer)
	},
}

// -- export --

var exportCmd = &cobra.Command{
	Use:   "export <out.shp> <points>...",
	Short: "Combine point files into one community shapefile",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		var tables []*points.Table
		for _, p := range args[1:] {
			t, err := points.Read(p)
			if err != nil {
				return err
			}
			tables = append(tables, t)
		}

		var opts shapes.ExportOptions
		opts.Exclude, _ = flags.GetStringSlice("exclude")
		opts.Type, _ = flags.GetString("type")
		if clip, _ := flags.GetString("clip"); clip != "" {
			l, err := shapes.Read(clip)
			if err != nil {
				return err
			}
			opts.Clip = l
		}

		layer, err := shapes.ExportCommunities(tables, opts)
		if err != nil {
			return err
		}
		return writeLayer(args[0], layer)
	},
}

// -- merge --

var mergeCmd = &cobra.Command{
	Use:   "merge <out.shp>",
	Short: "Merge area shapefiles into one EPSG:4326 layer",
	Long: `Each --input is path:crs:type:area_type, for example
parks.shp:EPSG:3338:protected_area:National Park.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		specs, _ := cmd.Flags().GetStringArray("input")
		if len(specs) == 0 {
			return eris.New("at least one --input is required")
		}
		inputs := make([]shapes.AreaInput, 0, len(specs))
		for _, s := range specs {
			in, err := parseAreaInput(s)
			if err != nil {
				return err
			}
			inputs = append(inputs, in)
		}
		drop, _ := cmd.Flags().GetStringSlice("drop")
		layer, err := shapes.MergeAreas(inputs, newReprojector(), drop)
		if err != nil {
			return err
		}
		return writeLayer(args[0], layer)
	},
}

// parseAreaInput splits path:crs:type:area_type. The CRS may itself hold a
// colon, as in EPSG:3338.
func parseAreaInput(s string) (shapes.AreaInput, error) {
	parts := strings.Split(s, ":")
	if len(parts) == 5 {
		parts = []string{parts[0], parts[1] + ":" + parts[2], parts[3], parts[4]}
	}
	if len(parts) != 4 || parts[0] == "" {
		return shapes.AreaInput{}, eris.Errorf("bad --input %q (want path:crs:type:area_type)", s)
	}
	return shapes.AreaInput{
		Path:     parts[0],
		CRS:      crs.Normalize(parts[1]),
		Type:     parts[2],
		AreaType: parts[3],
	}, nil
}

// writeLayer writes a shapefile, or GeoJSON when the extension asks for it.
func writeLayer(path string, l *shapes.Layer) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return shapes.WriteGeoJSON(path, l)
	default:
		return shapes.Write(path, l)
	}
}

func init() {
	smallPolysCmd.Flags().String("region", "", "region postal code; selects the CRS areas are measured in")
	smallPolysCmd.Flags().String("shp-crs", "", "CRS of the shapefile (default the region CRS)")
	smallPolysCmd.Flags().Float64("max-area", 10, "largest area in km² converted to a point")
	smallPolysCmd.Flags().StringSlice("tags", []string{"ardac"}, "tags set on the new points")
	smallPolysCmd.Flags().String("country", "", "US or CA (default from region)")
	smallPolysCmd.Flags().String("out", "", "shapefile for the remaining polygons (default overwrite input)")
	smallPolysCmd.Flags().Bool("dry-run", false, "print the new points without writing")
	_ = smallPolysCmd.MarkFlagRequired("region")

	shadowCmd.Flags().String("id", "mask", "id attribute of the mask feature")
	shadowCmd.Flags().String("name", "", "name attribute of the mask feature")
	shadowCmd.Flags().String("crs", "", "CRS code recorded on the layer")

	dropPartsCmd.Flags().Float64("max-x", 2000000, "parts whose east edge exceeds this x are dropped")

	simplifyCmd.Flags().Float64("tolerance", 100, "Douglas-Peucker tolerance in layer units")
	simplifyCmd.Flags().String("rename-id", "huc12", "field renamed to id before filtering")
	simplifyCmd.Flags().StringSlice("drop", defaultDropHUCs, "feature ids removed")
	simplifyCmd.Flags().StringSlice("keep", []string{"id", "name", "states"}, "fields kept")

	exportCmd.Flags().StringSlice("exclude", []string{"Attu"}, "place names left out")
	exportCmd.Flags().String("type", "community", "value of the type attribute")
	exportCmd.Flags().String("clip", "", "keep only points inside this EPSG:4326 polygon shapefile")

	mergeCmd.Flags().StringArray("input", nil, "path:crs:type:area_type (repeatable)")
	mergeCmd.Flags().StringSlice("drop", shapes.DefaultMergeDrop, "columns removed from every input")

	rootCmd.AddCommand(smallPolysCmd, shadowCmd, dropPartsCmd, simplifyCmd, exportCmd, mergeCmd)
}
