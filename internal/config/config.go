package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log         LogConfig               `yaml:"log" mapstructure:"log"`
	Search      SearchConfig            `yaml:"search" mapstructure:"search"`
	Regions     map[string]RegionConfig `yaml:"regions" mapstructure:"regions"`
	CRS         map[string]string       `yaml:"crs" mapstructure:"crs"`
	Coastal     CoastalConfig           `yaml:"coastal" mapstructure:"coastal"`
	Points      PointsConfig            `yaml:"points" mapstructure:"points"`
	Store       StoreConfig             `yaml:"store" mapstructure:"store"`
	Diagnostics DiagnosticsConfig       `yaml:"diagnostics" mapstructure:"diagnostics"`
}

// SearchConfig configures the nearest raster cell search.
type SearchConfig struct {
	Band             int       `yaml:"band" mapstructure:"band"`
	Values           []float64 `yaml:"values" mapstructure:"values"`
	K                int       `yaml:"k" mapstructure:"k"`
	HalfSizeM        float64   `yaml:"half_size_m" mapstructure:"half_size_m"`
	CRS              string    `yaml:"crs" mapstructure:"crs"`
	Fallback         string    `yaml:"fallback" mapstructure:"fallback"`
	MaxFallbackSteps int       `yaml:"max_fallback_steps" mapstructure:"max_fallback_steps"`
	Decimals         int       `yaml:"decimals" mapstructure:"decimals"`
	Concurrency      int       `yaml:"concurrency" mapstructure:"concurrency"`
	OnError          string    `yaml:"on_error" mapstructure:"on_error"`
	Prefix           string    `yaml:"prefix" mapstructure:"prefix"`
}

// RegionConfig describes one jurisdiction of the point dataset.
type RegionConfig struct {
	Name string   `yaml:"name" mapstructure:"name"`
	CRS  string   `yaml:"crs" mapstructure:"crs"`
	File string   `yaml:"file" mapstructure:"file"`
	Tags []string `yaml:"tags" mapstructure:"tags"`
}

// CoastalConfig configures distance-to-coast computation.
type CoastalConfig struct {
	CoastlinePath string  `yaml:"coastline_path" mapstructure:"coastline_path"`
	CRS           string  `yaml:"crs" mapstructure:"crs"`
	MinLat        float64 `yaml:"min_lat" mapstructure:"min_lat"`
	MaxLat        float64 `yaml:"max_lat" mapstructure:"max_lat"`
	ThresholdKM   float64 `yaml:"threshold_km" mapstructure:"threshold_km"`
}

// PointsConfig locates the point-location CSVs.
type PointsConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// StoreConfig configures the run ledger. An empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// DiagnosticsConfig configures debug artifact output.
type DiagnosticsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// defaultRegions mirrors the jurisdictions the dataset currently ships.
var defaultRegions = map[string]any{
	"AK": map[string]any{"name": "Alaska", "crs": "EPSG:3338", "file": "alaska_point_locations.csv", "tags": []string{"ncr", "eds", "ardac"}},
	"AB": map[string]any{"name": "Alberta", "crs": "EPSG:3400", "file": "alberta_point_locations.csv", "tags": []string{}},
	"BC": map[string]any{"name": "British Columbia", "crs": "EPSG:3005", "file": "british_columbia_point_locations.csv", "tags": []string{"ncr"}},
	"MB": map[string]any{"name": "Manitoba", "crs": "EPSG:3347", "file": "manitoba_point_locations.csv", "tags": []string{}},
	"NT": map[string]any{"name": "Northwest Territories", "crs": "EPSG:3347", "file": "northwest_territories_point_locations.csv", "tags": []string{}},
	"SK": map[string]any{"name": "Saskatchewan", "crs": "EPSG:3347", "file": "saskatchewan_point_locations.csv", "tags": []string{}},
	"YT": map[string]any{"name": "Yukon", "crs": "EPSG:3578", "file": "yukon_point_locations.csv", "tags": []string{"ncr"}},
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PLACEKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("search.band", 1)
	v.SetDefault("search.values", []float64{0, 255})
	v.SetDefault("search.k", 1)
	v.SetDefault("search.half_size_m", 16384.0)
	v.SetDefault("search.crs", "EPSG:3338")
	v.SetDefault("search.fallback", "none")
	v.SetDefault("search.max_fallback_steps", 8)
	v.SetDefault("search.decimals", 4)
	v.SetDefault("search.concurrency", 1)
	v.SetDefault("search.on_error", "abort")
	v.SetDefault("search.prefix", "nn")
	v.SetDefault("regions", defaultRegions)
	v.SetDefault("coastal.coastline_path", "../vector_data/polygon/boundaries/natural_earth_global_coastlines/ne_10m_coastline.shp")
	v.SetDefault("coastal.crs", "EPSG:3338")
	v.SetDefault("coastal.min_lat", 40.0)
	v.SetDefault("coastal.max_lat", 84.0)
	v.SetDefault("coastal.threshold_km", 100.0)
	v.SetDefault("points.dir", "../vector_data/point")
	v.SetDefault("store.path", "")
	v.SetDefault("diagnostics.enabled", false)
	v.SetDefault("diagnostics.dir", "debug")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.normalize()

	return &cfg, nil
}

// normalize restores the casing viper folds away from map keys.
func (c *Config) normalize() {
	regions := make(map[string]RegionConfig, len(c.Regions))
	for code, r := range c.Regions {
		regions[strings.ToUpper(code)] = r
	}
	c.Regions = regions

	defs := make(map[string]string, len(c.CRS))
	for code, def := range c.CRS {
		defs[strings.ToUpper(code)] = def
	}
	c.CRS = defs
}

// Region returns the region registered under the given postal code.
func (c *Config) Region(code string) (RegionConfig, error) {
	r, ok := c.Regions[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return RegionConfig{}, eris.Errorf("config: unknown region %q", code)
	}
	return r, nil
}

// RegionCRS returns the projected CRS configured for a region.
func (c *Config) RegionCRS(code string) (string, error) {
	r, err := c.Region(code)
	if err != nil {
		return "", err
	}
	if r.CRS == "" {
		return "", eris.Errorf("config: region %q has no crs", code)
	}
	return r.CRS, nil
}

// RegionByFile returns the region code whose CSV file name matches name.
func (c *Config) RegionByFile(name string) (string, bool) {
	for code, r := range c.Regions {
		if r.File == name {
			return code, true
		}
	}
	return "", false
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
