package monitor

import (
	"fmt"

	"TradeWatch/internal/domain/models"

	"github.com/shopspring/decimal"
)

// crossing is one threshold entered on an evaluation.
type crossing struct {
	kind      models.EventKind
	threshold string
	message   string
}

// evaluate classifies price against each configured threshold of inst and
// returns the new zone state plus the thresholds whose zone was entered.
// An unknown previous zone counts as outside, so the first evaluation of an
// instrument already past a threshold reports it once.
func evaluate(inst *models.MonitoredInstrument, price decimal.Decimal) (models.ZoneState, []crossing) {
	var (
		next models.ZoneState
		hits []crossing
	)

	if inst.StopLoss != nil {
		sl := *inst.StopLoss
		z, entered := step(inst.Zones.StopLoss, price.LessThanOrEqual(sl))
		next.StopLoss = z
		if entered {
			hits = append(hits, crossing{
				kind:      models.EventStopLoss,
				threshold: sl.String(),
				message:   fmt.Sprintf("stop loss hit: price %s <= %s", price, sl),
			})
		}
	}

	if inst.TakeProfit != nil {
		tp := *inst.TakeProfit
		z, entered := step(inst.Zones.TakeProfit, price.GreaterThanOrEqual(tp))
		next.TakeProfit = z
		if entered {
			hits = append(hits, crossing{
				kind:      models.EventTakeProfit,
				threshold: tp.String(),
				message:   fmt.Sprintf("take profit reached: price %s >= %s", price, tp),
			})
		}
	}

	if inst.EntryRange != nil {
		r := *inst.EntryRange
		z, entered := step(inst.Zones.Entry, r.Contains(price))
		next.Entry = z
		if entered {
			hits = append(hits, crossing{
				kind:      models.EventEntry,
				threshold: r.String(),
				message:   fmt.Sprintf("entered buy range: price %s in [%s, %s]", price, r.Min, r.Max),
			})
		}
	}

	return next, hits
}

func step(prev models.Zone, inside bool) (models.Zone, bool) {
	if !inside {
		return models.ZoneOutside, false
	}
	return models.ZoneInside, prev != models.ZoneInside
}
