package pricing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gridmesh/gridclear/logging"
	"github.com/gridmesh/gridclear/metrics"
	"github.com/gridmesh/gridclear/types/num"
)

var (
	// ErrConfigCorrupted is returned when the configured price bounds are
	// inverted. The engine fails closed: the last valid published price is
	// retained and the update is discarded.
	ErrConfigCorrupted = errors.New("pricing configuration corrupted")
	// ErrBoundsViolated is returned when a bound update would break
	// min <= base <= max. The update is rejected wholesale, never applied
	// partially.
	ErrBoundsViolated = errors.New("price bounds violated")
	// ErrNegativeSample is returned for negative supply/demand/congestion
	// inputs.
	ErrNegativeSample = errors.New("negative oracle sample")
)

var (
	half    = num.MustDecimalFromString("0.5")
	hundred = num.DecimalFromInt64(100)
)

// SampleSource produces the supply/demand/congestion samples driving the
// oracle's update cycle.
type SampleSource interface {
	Sample(now time.Time) (supply, demand, congestion num.Decimal)
}

// Engine is the pricing oracle. It holds the bounded price configuration and
// recomputes a published price from periodic supply/demand/congestion
// samples. The published price always sits inside [min, max]; the clearing
// calculator consumes it as a sanity bound and a tie-break reference.
type Engine struct {
	Config
	log    *logging.Logger
	source SampleSource

	mu       sync.RWMutex
	base     num.Decimal
	min      num.Decimal
	max      num.Decimal
	tzOffset time.Duration

	published      num.Decimal
	lastSupply     num.Decimal
	lastDemand     num.Decimal
	lastCongestion num.Decimal
	lastUpdate     time.Time
}

// New returns a pricing engine with the configured bounds. The bound
// invariant is enforced here, so a running engine always starts valid.
func New(log *logging.Logger, conf Config, source SampleSource) (*Engine, error) {
	log = log.Named(namedLogger)
	log.SetLevel(conf.Level.Get())

	base, err := num.DecimalFromString(conf.BasePrice)
	if err != nil {
		return nil, err
	}
	min, err := num.DecimalFromString(conf.MinPrice)
	if err != nil {
		return nil, err
	}
	max, err := num.DecimalFromString(conf.MaxPrice)
	if err != nil {
		return nil, err
	}
	if min.GreaterThan(base) || base.GreaterThan(max) {
		return nil, ErrBoundsViolated
	}

	return &Engine{
		Config:    conf,
		log:       log,
		source:    source,
		base:      base,
		min:       min,
		max:       max,
		tzOffset:  time.Duration(conf.TimezoneOffsetHours) * time.Hour,
		published: base,
	}, nil
}

// ReloadConf updates the internal configuration of the pricing engine. Bound
// changes go through UpdateBounds so the invariant cannot be bypassed by a
// config file edit.
func (e *Engine) ReloadConf(cfg Config) {
	e.log.Info("reloading configuration")
	if e.log.GetLevel() != cfg.Level.Get() {
		e.log.Info("updating log level",
			logging.String("old", e.log.GetLevelString()),
			logging.String("new", cfg.Level.String()),
		)
		e.log.SetLevel(cfg.Level.Get())
	}
	e.Config = cfg
}

// UpdateBounds replaces base/min/max in one step. The update is rejected
// wholesale when min <= base <= max would not hold afterwards.
func (e *Engine) UpdateBounds(base, min, max num.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if min.GreaterThan(base) || base.GreaterThan(max) {
		return ErrBoundsViolated
	}
	e.base, e.min, e.max = base, min, max
	return nil
}

// Update recomputes the published price from one sample set.
//
// The curve is a scaled imbalance model: the base price is pushed up when
// demand exceeds supply and down when supply exceeds demand, then pushed up
// again with congestion. Whatever the inputs, the result is clamped to
// [min, max] before publication. If the bounds are found inverted at call
// time the update fails closed and the previous price stands.
func (e *Engine) Update(supply, demand, congestion num.Decimal) (num.Decimal, error) {
	if supply.IsNegative() || demand.IsNegative() || congestion.IsNegative() {
		return e.LastPrice(), ErrNegativeSample
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.min.GreaterThan(e.max) {
		e.log.Error("price bounds inverted, keeping last published price",
			logging.String("min", e.min.String()),
			logging.String("max", e.max.String()),
		)
		return e.published, ErrConfigCorrupted
	}

	// imbalance in [-1, 1]; zero activity keeps the price on its base
	imbalance := num.DecimalZero()
	if total := supply.Add(demand); total.IsPositive() {
		imbalance = demand.Sub(supply).Div(total)
	}
	load := num.DecimalOne().Add(imbalance)
	strain := num.DecimalOne().Add(num.MinD(congestion, hundred).Div(hundred).Mul(half))

	price := num.ClampD(e.base.Mul(load).Mul(strain), e.min, e.max)

	e.published = price
	e.lastSupply = supply
	e.lastDemand = demand
	e.lastCongestion = congestion
	e.lastUpdate = time.Now()

	f, _ := price.Float64()
	metrics.SetOraclePrice(f)

	if e.log.IsDebug() {
		e.log.Debug("price published",
			logging.String("price", price.String()),
			logging.String("supply", supply.String()),
			logging.String("demand", demand.String()),
			logging.String("congestion", congestion.String()),
		)
	}
	return price, nil
}

// LastPrice returns the most recently published price.
func (e *Engine) LastPrice() num.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.published
}

// LastUpdate returns the time of the last successful update.
func (e *Engine) LastUpdate() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastUpdate
}

// Band returns the admissible [min, max] clearing price band in ledger price
// units. Min is rounded up and max down so the integer band never widens the
// configured one.
func (e *Engine) Band() (*num.Uint, *num.Uint) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	min, _ := num.UintFromDecimal(e.min.Ceil())
	max, _ := num.UintFromDecimal(e.max.Floor())
	return min, max
}

// Run drives the oracle's own update cycle, independent of any batch, until
// the context is cancelled. Update failures are logged and retried on the
// next tick; they never stop the cycle.
func (e *Engine) Run(ctx context.Context) {
	interval := e.UpdateInterval.Get()
	e.log.Info("pricing cycle started",
		logging.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.log.Info("pricing cycle stopped")
			return
		case now := <-ticker.C:
			supply, demand, congestion := e.source.Sample(now.Add(e.tzOffset))
			if _, err := e.Update(supply, demand, congestion); err != nil {
				e.log.Error("pricing update failed", logging.Error(err))
			}
		}
	}
}
