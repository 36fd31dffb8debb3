package auction

import (
	"time"

	"github.com/gridmesh/gridclear/config/encoding"
	"github.com/gridmesh/gridclear/logging"
)

const namedLogger = "auction"

// Config represents the configuration of the auction engine.
type Config struct {
	Level encoding.LogLevel `long:"log-level"`
	// BatchDuration is the submission window length of batches opened by the
	// scheduler.
	BatchDuration encoding.Duration `long:"batch-duration"`
}

// NewDefaultConfig creates an instance of the package specific configuration.
func NewDefaultConfig() Config {
	return Config{
		Level:         encoding.LogLevel{Level: logging.InfoLevel},
		BatchDuration: encoding.Duration{Duration: 15 * time.Minute},
	}
}
