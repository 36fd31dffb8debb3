package main

import (
	"context"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/gridmesh/gridclear/auction"
	"github.com/gridmesh/gridclear/collateral"
	"github.com/gridmesh/gridclear/config"
	"github.com/gridmesh/gridclear/crank"
	"github.com/gridmesh/gridclear/ledger"
	"github.com/gridmesh/gridclear/logging"
	"github.com/gridmesh/gridclear/metrics"
	"github.com/gridmesh/gridclear/pricing"
	"github.com/gridmesh/gridclear/settlement"
)

type NodeCmd struct {
	ctx context.Context

	RootPath string `short:"r" long:"root-path" description:"Path of the root directory holding the configuration"`
}

var nodeCmd NodeCmd

// Node registers the node sub-command, running all engines plus the
// scheduler until interrupted.
func Node(ctx context.Context, parser *flags.Parser) error {
	nodeCmd = NodeCmd{
		ctx:      ctx,
		RootPath: defaultRootDir(),
	}
	_, err := parser.AddCommand("node", "Run a gridclear node", "Run the auction, pricing and settlement engines and the scheduler that cranks them", &nodeCmd)
	return err
}

type stdTime struct{}

func (stdTime) GetTimeNow() time.Time { return time.Now() }

func (opts *NodeCmd) Execute(_ []string) error {
	cfg, err := config.Read(opts.RootPath)
	if err != nil {
		return err
	}

	log := logging.NewLoggerFromEnv(cfg.Environment)
	defer log.AtExit()

	metrics.Start(cfg.Metrics)

	timeService := stdTime{}
	collateralEngine := collateral.New(log, cfg.Collateral)
	ledgerEngine := ledger.New(log, cfg.Ledger)
	pricingEngine, err := pricing.New(log, cfg.Pricing, pricing.NewSimulatedSource())
	if err != nil {
		return err
	}
	auctionEngine := auction.New(log, cfg.Auction, ledgerEngine, collateralEngine, pricingEngine, timeService)
	settlementEngine := settlement.New(log, cfg.Settlement, ledgerEngine, auctionEngine, collateralEngine)
	crankEngine := crank.New(log, cfg.Crank, auctionEngine, settlementEngine, timeService)

	watcher, err := config.NewFromFile(opts.ctx, log, opts.RootPath)
	if err != nil {
		return err
	}
	watcher.OnConfigUpdate(
		func(c config.Config) { collateralEngine.ReloadConf(c.Collateral) },
		func(c config.Config) { ledgerEngine.ReloadConf(c.Ledger) },
		func(c config.Config) { pricingEngine.ReloadConf(c.Pricing) },
		func(c config.Config) { auctionEngine.ReloadConf(c.Auction) },
		func(c config.Config) { settlementEngine.ReloadConf(c.Settlement) },
		func(c config.Config) { crankEngine.ReloadConf(c.Crank) },
	)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-opts.ctx.Done():
				return
			case now := <-ticker.C:
				watcher.OnTimeUpdate(opts.ctx, now)
			}
		}
	}()

	// the oracle runs its own cycle, decoupled from any batch
	go pricingEngine.Run(opts.ctx)

	crankEngine.Run(opts.ctx)
	return nil
}
