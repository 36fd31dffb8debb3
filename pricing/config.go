package pricing

import (
	"time"

	"github.com/gridmesh/gridclear/config/encoding"
	"github.com/gridmesh/gridclear/logging"
)

const namedLogger = "pricing"

// Config represents the configuration of the pricing oracle.
type Config struct {
	Level          encoding.LogLevel `long:"log-level"`
	UpdateInterval encoding.Duration `long:"update-interval" description:"How often the oracle recomputes the published price"`

	// Price bounds, in payment-asset units per energy unit. The invariant
	// MinPrice <= BasePrice <= MaxPrice is checked at engine construction
	// and on every bound update.
	BasePrice string `long:"base-price"`
	MinPrice  string `long:"min-price"`
	MaxPrice  string `long:"max-price"`

	// TimezoneOffsetHours shifts the simulated daily demand curve so a node
	// can be run against a grid in another timezone.
	TimezoneOffsetHours int `long:"timezone-offset-hours"`
}

// NewDefaultConfig creates an instance of the package specific configuration.
func NewDefaultConfig() Config {
	return Config{
		Level:               encoding.LogLevel{Level: logging.InfoLevel},
		UpdateInterval:      encoding.Duration{Duration: 15 * time.Second},
		BasePrice:           "50",
		MinPrice:            "10",
		MaxPrice:            "200",
		TimezoneOffsetHours: 0,
	}
}
