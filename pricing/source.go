package pricing

import (
	"math"
	"time"

	"github.com/gridmesh/gridclear/types/num"
)

// SimulatedSource synthesises a plausible daily grid profile so a node can
// run the full oracle cycle without an external feed. Solar supply peaks at
// midday, demand peaks in the evening, congestion follows demand.
type SimulatedSource struct {
	// PeakSupply and PeakDemand are the curve amplitudes in energy units.
	PeakSupply num.Decimal
	PeakDemand num.Decimal
}

// NewSimulatedSource returns a source with default curve amplitudes.
func NewSimulatedSource() *SimulatedSource {
	return &SimulatedSource{
		PeakSupply: num.DecimalFromInt64(1000),
		PeakDemand: num.DecimalFromInt64(900),
	}
}

// Sample returns supply/demand/congestion for the given local time.
func (s *SimulatedSource) Sample(now time.Time) (num.Decimal, num.Decimal, num.Decimal) {
	dayFrac := float64(now.Hour()*3600+now.Minute()*60+now.Second()) / 86400.0

	// solar window centred on 12:00, zero outside daylight
	solar := math.Sin((dayFrac - 0.25) * 2 * math.Pi)
	if solar < 0 {
		solar = 0
	}
	// demand trough around 04:00, peak around 19:00
	demand := 0.55 + 0.45*math.Sin((dayFrac-0.45)*2*math.Pi)
	if demand < 0 {
		demand = 0
	}
	congestion := math.Min(demand*100, 100)

	return s.PeakSupply.Mul(num.DecimalFromFloat(solar)),
		s.PeakDemand.Mul(num.DecimalFromFloat(demand)),
		num.DecimalFromFloat(congestion)
}
