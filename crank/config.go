package crank

import (
	"time"

	"github.com/gridmesh/gridclear/config/encoding"
	"github.com/gridmesh/gridclear/logging"
)

const namedLogger = "crank"

// Config represents the configuration of the scheduler.
type Config struct {
	Level        encoding.LogLevel `long:"log-level"`
	PollInterval encoding.Duration `long:"poll-interval" description:"Delay between scheduler cycles"`
	// MaxSettlementsPerCycle bounds how many matches one batch may settle in
	// a single cycle, so a deep batch cannot starve the others.
	MaxSettlementsPerCycle int `long:"max-settlements-per-cycle"`
	// RetryAttempts is how often a recoverable settlement failure is retried
	// within a cycle before being deferred to the next one.
	RetryAttempts uint64 `long:"retry-attempts"`
	// OpenBatches makes the scheduler open a fresh batch whenever none is
	// accepting orders.
	OpenBatches encoding.Bool `long:"open-batches" choice:"true" choice:"false"`
}

// NewDefaultConfig creates an instance of the package specific configuration.
func NewDefaultConfig() Config {
	return Config{
		Level:                  encoding.LogLevel{Level: logging.InfoLevel},
		PollInterval:           encoding.Duration{Duration: 5 * time.Second},
		MaxSettlementsPerCycle: 100,
		RetryAttempts:          2,
		OpenBatches:            true,
	}
}
