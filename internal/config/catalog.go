package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Catalog is a standalone region table kept next to the point data.
type Catalog struct {
	Regions map[string]RegionConfig `yaml:"regions"`
	CRS     map[string]string       `yaml:"crs"`
}

// LoadCatalog reads a region catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read catalog %s", path)
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, eris.Wrap(err, "config: parse catalog")
	}
	return &cat, nil
}

// Merge overlays catalog entries onto the config. Catalog fields that are
// empty leave the configured value in place.
func (c *Config) Merge(cat *Catalog) {
	if cat == nil {
		return
	}
	if c.Regions == nil {
		c.Regions = make(map[string]RegionConfig, len(cat.Regions))
	}
	for code, r := range cat.Regions {
		code = strings.ToUpper(code)
		cur := c.Regions[code]
		if r.Name != "" {
			cur.Name = r.Name
		}
		if r.CRS != "" {
			cur.CRS = r.CRS
		}
		if r.File != "" {
			cur.File = r.File
		}
		if r.Tags != nil {
			cur.Tags = r.Tags
		}
		c.Regions[code] = cur
	}

	if c.CRS == nil {
		c.CRS = make(map[string]string, len(cat.CRS))
	}
	for code, def := range cat.CRS {
		c.CRS[strings.ToUpper(code)] = def
	}
}
