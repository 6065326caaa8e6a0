package nearest

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/placekit/placekit/internal/crs"
)

// ErrInvalidConfiguration is returned before any raster read when a search
// configuration cannot produce a meaningful result.
var ErrInvalidConfiguration = eris.New("nearest: invalid configuration")

// FallbackPolicy selects what happens when a window holds no candidates.
type FallbackPolicy string

const (
	// FallbackNone returns an empty result.
	FallbackNone FallbackPolicy = "none"
	// FallbackShift moves the window along +x by its half-size and retries
	// while the window still overlaps the raster.
	FallbackShift FallbackPolicy = "shift"
	// FallbackGrow doubles the half-size and retries.
	FallbackGrow FallbackPolicy = "grow"
)

// Default search parameters.
const (
	DefaultHalfSizeM        = 16384.0
	DefaultDecimals         = 4
	DefaultMaxFallbackSteps = 8
)

// SearchConfig holds the parameters of a nearest-cell search. It is fixed
// for a batch.
type SearchConfig struct {
	K        int       `json:"k"`
	Accepted []float64 `json:"accepted"`
	Band     int       `json:"band"`
	// HalfSizeM is the distance from the query point to each window edge,
	// in projected units.
	HalfSizeM float64 `json:"half_size_m"`
	// CRS is the projected CRS distances are measured in. The raster must
	// be declared in it.
	CRS string `json:"crs"`
	// QueryCRS is the CRS of query and reported coordinates.
	QueryCRS         string         `json:"query_crs"`
	Fallback         FallbackPolicy `json:"fallback"`
	MaxFallbackSteps int            `json:"max_fallback_steps"`
	// Decimals rounds reported coordinates; negative disables rounding.
	Decimals int `json:"decimals"`
}

// DefaultSearchConfig returns the configuration used for the ocean-cell
// search on the Alaska grid.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		K:                1,
		Accepted:         []float64{0, 255},
		Band:             1,
		HalfSizeM:        DefaultHalfSizeM,
		CRS:              "EPSG:3338",
		QueryCRS:         crs.Geographic,
		Fallback:         FallbackNone,
		MaxFallbackSteps: DefaultMaxFallbackSteps,
		Decimals:         DefaultDecimals,
	}
}

// ParseFallback converts a configuration string to a FallbackPolicy.
func ParseFallback(s string) (FallbackPolicy, error) {
	switch p := FallbackPolicy(s); p {
	case FallbackNone, FallbackShift, FallbackGrow:
		return p, nil
	case "":
		return FallbackNone, nil
	default:
		return "", eris.Wrapf(ErrInvalidConfiguration, "nearest: unknown fallback policy %q", s)
	}
}

// Validate checks the configuration against a raster with bandCount bands.
func (c SearchConfig) Validate(bandCount int) error {
	switch {
	case c.K < 1:
		return eris.Wrapf(ErrInvalidConfiguration, "nearest: k must be >= 1, got %d", c.K)
	case len(c.Accepted) == 0:
		return eris.Wrap(ErrInvalidConfiguration, "nearest: accepted value set is empty")
	case c.Band < 1 || c.Band > bandCount:
		return eris.Wrapf(ErrInvalidConfiguration, "nearest: band %d out of range 1..%d", c.Band, bandCount)
	case !(c.HalfSizeM > 0) || math.IsInf(c.HalfSizeM, 0):
		return eris.Wrapf(ErrInvalidConfiguration, "nearest: half size must be positive, got %v", c.HalfSizeM)
	case c.CRS == "":
		return eris.Wrap(ErrInvalidConfiguration, "nearest: search crs is required")
	case c.MaxFallbackSteps < 0:
		return eris.Wrapf(ErrInvalidConfiguration, "nearest: max fallback steps must be >= 0, got %d", c.MaxFallbackSteps)
	}
	for _, v := range c.Accepted {
		if math.IsNaN(v) {
			return eris.Wrap(ErrInvalidConfiguration, "nearest: accepted values must not be NaN")
		}
	}
	if _, err := ParseFallback(string(c.Fallback)); err != nil {
		return err
	}
	return nil
}

func (c SearchConfig) queryCRS() string {
	if c.QueryCRS == "" {
		return crs.Geographic
	}
	return c.QueryCRS
}

func (c SearchConfig) accepts(v float64) bool {
	for _, a := range c.Accepted {
		if v == a {
			return true
		}
	}
	return false
}

func round(v float64, decimals int) float64 {
	if decimals < 0 {
		return v
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
