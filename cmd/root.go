package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/placekit/placekit/internal/config"
	"github.com/placekit/placekit/internal/crs"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "placekit",
	Short: "Point-location maintenance and nearest raster cell search",
	Long:  "Finds, for each point location, the nearest raster cells holding accepted values, and maintains the point and boundary datasets those searches run on.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if path, _ := cmd.Flags().GetString("catalog"); path != "" {
			cat, err := config.LoadCatalog(path)
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}
			cfg.Merge(cat)
		}

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("catalog", "", "region catalog YAML overlaid on the configured regions")
}

// newReprojector builds a reprojector over the built-in CRS definitions
// plus any configured ones.
func newReprojector() *crs.Reprojector {
	return crs.NewReprojector(crs.NewRegistry(cfg.CRS))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
