package metrics

import "github.com/gridmesh/gridclear/config/encoding"

// Config represents the configuration of the metric package.
type Config struct {
	Enabled encoding.Bool `long:"enabled" choice:"true" choice:"false" description:"Enable the prometheus scrape endpoint"`
	Port    int           `long:"port"`
	Path    string        `long:"path"`
}

// NewDefaultConfig creates an instance of the package specific configuration.
func NewDefaultConfig() Config {
	return Config{
		Enabled: false,
		Port:    2112,
		Path:    "/metrics",
	}
}
