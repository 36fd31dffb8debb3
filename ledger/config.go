package ledger

import (
	"github.com/gridmesh/gridclear/config/encoding"
	"github.com/gridmesh/gridclear/logging"
)

const namedLogger = "ledger"

// Config represents the configuration of the order ledger.
type Config struct {
	Level encoding.LogLevel `long:"log-level"`
}

// NewDefaultConfig creates an instance of the package specific configuration.
func NewDefaultConfig() Config {
	return Config{
		Level: encoding.LogLevel{Level: logging.InfoLevel},
	}
}
