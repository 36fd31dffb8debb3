package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/gridmesh/gridclear/auction"
	"github.com/gridmesh/gridclear/collateral"
	"github.com/gridmesh/gridclear/crank"
	"github.com/gridmesh/gridclear/ledger"
	"github.com/gridmesh/gridclear/metrics"
	"github.com/gridmesh/gridclear/pricing"
	"github.com/gridmesh/gridclear/settlement"
)

const configFileName = "config.toml"

// Config ties together all other application configuration types.
type Config struct {
	Auction    auction.Config    `group:"Auction" namespace:"auction"`
	Ledger     ledger.Config     `group:"Ledger" namespace:"ledger"`
	Collateral collateral.Config `group:"Collateral" namespace:"collateral"`
	Settlement settlement.Config `group:"Settlement" namespace:"settlement"`
	Pricing    pricing.Config    `group:"Pricing" namespace:"pricing"`
	Crank      crank.Config      `group:"Crank" namespace:"crank"`
	Metrics    metrics.Config    `group:"Metrics" namespace:"metrics"`

	// Environment selects the log encoder, "dev" or "prod".
	Environment string `long:"environment" description:"dev or prod"`
}

// NewDefaultConfig returns a set of default configs for all packages, as
// specified at the per package config level.
func NewDefaultConfig() Config {
	return Config{
		Auction:     auction.NewDefaultConfig(),
		Ledger:      ledger.NewDefaultConfig(),
		Collateral:  collateral.NewDefaultConfig(),
		Settlement:  settlement.NewDefaultConfig(),
		Pricing:     pricing.NewDefaultConfig(),
		Crank:       crank.NewDefaultConfig(),
		Metrics:     metrics.NewDefaultConfig(),
		Environment: "prod",
	}
}

// Read loads the configuration from rootPath, on top of the defaults.
func Read(rootPath string) (*Config, error) {
	path := filepath.Join(rootPath, configFileName)
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := NewDefaultConfig()
	if _, err := toml.Decode(string(buf), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Write saves the configuration under rootPath, creating the directory when
// needed.
func Write(rootPath string, cfg Config) error {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(rootPath, configFileName))
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
