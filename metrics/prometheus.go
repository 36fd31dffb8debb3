package metrics

import (
	"fmt"
	"log"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	Gauge instrument = iota
	Counter
)

var (
	ErrInstrumentNotSupported = errors.New("instrument type unsupported")
	ErrInstrumentTypeMismatch = errors.New("instrument is not of the expected type")
)

var (
	batchCounter      *prometheus.CounterVec
	settlementCounter prometheus.Counter
	failureCounter    *prometheus.CounterVec
	openBatchGauge    prometheus.Gauge
	oraclePriceGauge  prometheus.Gauge
)

// abstract prometheus types
type instrument int

// combine the prometheus options we use + way to differentiate between
// regular or vector type
type instrumentOpts struct {
	opts    prometheus.Opts
	vectors []string
}

type mi struct {
	gaugeV   *prometheus.GaugeVec
	gauge    prometheus.Gauge
	counterV *prometheus.CounterVec
	counter  prometheus.Counter
}

// InstrumentOption - vararg for instrument options setting
type InstrumentOption func(o *instrumentOpts)

// Vectors - configuration used to create a vector of a given interface, slice of label names
func Vectors(labels ...string) InstrumentOption {
	return func(o *instrumentOpts) {
		o.vectors = labels
	}
}

// Help - set the help field on instrument
func Help(help string) InstrumentOption {
	return func(o *instrumentOpts) {
		o.opts.Help = help
	}
}

// Namespace - set namespace
func Namespace(ns string) InstrumentOption {
	return func(o *instrumentOpts) {
		o.opts.Namespace = ns
	}
}

// AddInstrument, configure and register new metrics instrument.
func AddInstrument(t instrument, name string, opts ...InstrumentOption) (*mi, error) {
	var col prometheus.Collector
	ret := mi{}
	opt := instrumentOpts{
		opts: prometheus.Opts{
			Name: name,
		},
	}
	for _, o := range opts {
		o(&opt)
	}
	switch t {
	case Gauge:
		o := opt.gauge()
		if len(opt.vectors) == 0 {
			ret.gauge = prometheus.NewGauge(o)
			col = ret.gauge
		} else {
			ret.gaugeV = prometheus.NewGaugeVec(o, opt.vectors)
			col = ret.gaugeV
		}
	case Counter:
		o := opt.counter()
		if len(opt.vectors) == 0 {
			ret.counter = prometheus.NewCounter(o)
			col = ret.counter
		} else {
			ret.counterV = prometheus.NewCounterVec(o, opt.vectors)
			col = ret.counterV
		}
	default:
		return nil, ErrInstrumentNotSupported
	}
	if err := prometheus.Register(col); err != nil {
		return nil, err
	}
	return &ret, nil
}

// Start enable metrics (given config)
func Start(conf Config) {
	if !conf.Enabled {
		return
	}
	if err := setupMetrics(); err != nil {
		panic("could not set up metrics")
	}
	http.Handle(conf.Path, promhttp.Handler())
	go func() {
		log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", conf.Port), nil))
	}()
}

func (i instrumentOpts) gauge() prometheus.GaugeOpts {
	return prometheus.GaugeOpts(i.opts)
}

func (i instrumentOpts) counter() prometheus.CounterOpts {
	return prometheus.CounterOpts(i.opts)
}

func (m mi) Gauge() (prometheus.Gauge, error) {
	if m.gauge == nil {
		return nil, ErrInstrumentTypeMismatch
	}
	return m.gauge, nil
}

func (m mi) GaugeVec() (*prometheus.GaugeVec, error) {
	if m.gaugeV == nil {
		return nil, ErrInstrumentTypeMismatch
	}
	return m.gaugeV, nil
}

func (m mi) Counter() (prometheus.Counter, error) {
	if m.counter == nil {
		return nil, ErrInstrumentTypeMismatch
	}
	return m.counter, nil
}

func (m mi) CounterVec() (*prometheus.CounterVec, error) {
	if m.counterV == nil {
		return nil, ErrInstrumentTypeMismatch
	}
	return m.counterV, nil
}

func setupMetrics() error {
	h, err := AddInstrument(
		Counter,
		"batches_resolved_total",
		Namespace("gridclear"),
		Vectors("outcome"),
		Help("Number of batches resolved, by outcome"),
	)
	if err != nil {
		return err
	}
	bc, err := h.CounterVec()
	if err != nil {
		return err
	}
	batchCounter = bc

	h, err = AddInstrument(
		Counter,
		"settlements_total",
		Namespace("gridclear"),
		Help("Number of matches settled"),
	)
	if err != nil {
		return err
	}
	sc, err := h.Counter()
	if err != nil {
		return err
	}
	settlementCounter = sc

	h, err = AddInstrument(
		Counter,
		"scheduler_failures_total",
		Namespace("gridclear"),
		Vectors("kind"),
		Help("Per-item failures isolated by the scheduler, by kind"),
	)
	if err != nil {
		return err
	}
	fc, err := h.CounterVec()
	if err != nil {
		return err
	}
	failureCounter = fc

	h, err = AddInstrument(
		Gauge,
		"open_batches",
		Namespace("gridclear"),
		Help("Number of batches currently accepting orders"),
	)
	if err != nil {
		return err
	}
	og, err := h.Gauge()
	if err != nil {
		return err
	}
	openBatchGauge = og

	h, err = AddInstrument(
		Gauge,
		"oracle_price",
		Namespace("gridclear"),
		Help("Last published oracle price"),
	)
	if err != nil {
		return err
	}
	pg, err := h.Gauge()
	if err != nil {
		return err
	}
	oraclePriceGauge = pg

	return nil
}

// BatchResolved increments the resolution counter for the given outcome.
func BatchResolved(outcome string) {
	if batchCounter == nil {
		return
	}
	batchCounter.WithLabelValues(outcome).Inc()
}

// SettlementExecuted increments the settled-match counter.
func SettlementExecuted() {
	if settlementCounter == nil {
		return
	}
	settlementCounter.Inc()
}

// SchedulerFailure increments the isolated-failure counter for the given
// failure kind.
func SchedulerFailure(kind string) {
	if failureCounter == nil {
		return
	}
	failureCounter.WithLabelValues(kind).Inc()
}

// SetOpenBatches records the number of currently open batches.
func SetOpenBatches(n int) {
	if openBatchGauge == nil {
		return
	}
	openBatchGauge.Set(float64(n))
}

// SetOraclePrice records the last published oracle price.
func SetOraclePrice(p float64) {
	if oraclePriceGauge == nil {
		return
	}
	oraclePriceGauge.Set(p)
}
