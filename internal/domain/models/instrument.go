package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Zone is the last known position of the price relative to one threshold.
type Zone int8

const (
	ZoneUnknown Zone = iota
	ZoneOutside
	ZoneInside
)

func (z Zone) String() string {
	switch z {
	case ZoneOutside:
		return "outside"
	case ZoneInside:
		return "inside"
	default:
		return "unknown"
	}
}

// MarshalText keeps zones readable in API payloads.
func (z Zone) MarshalText() ([]byte, error) { return []byte(z.String()), nil }

func (z *Zone) UnmarshalText(b []byte) error {
	switch string(b) {
	case "unknown":
		*z = ZoneUnknown
	case "outside":
		*z = ZoneOutside
	case "inside":
		*z = ZoneInside
	default:
		return fmt.Errorf("unknown zone %q", b)
	}
	return nil
}

// ZoneState holds the edge-detection memory for every threshold of an instrument.
type ZoneState struct {
	Entry      Zone `json:"entry"`
	TakeProfit Zone `json:"take_profit"`
	StopLoss   Zone `json:"stop_loss"`
}

// PriceRange is an inclusive [Min, Max] band.
type PriceRange struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// Contains reports whether p lies inside the band, bounds included.
func (r PriceRange) Contains(p decimal.Decimal) bool {
	return p.GreaterThanOrEqual(r.Min) && p.LessThanOrEqual(r.Max)
}

func (r PriceRange) String() string {
	return r.Min.String() + "-" + r.Max.String()
}

// MonitoredInstrument is a symbol tracked against entry/take-profit/stop-loss levels.
type MonitoredInstrument struct {
	ID                   string           `json:"id"`
	Symbol               string           `json:"symbol"`
	Name                 string           `json:"name,omitempty"`
	Rating               string           `json:"rating,omitempty"`
	EntryRange           *PriceRange      `json:"entry_range,omitempty"`
	TakeProfit           *decimal.Decimal `json:"take_profit,omitempty"`
	StopLoss             *decimal.Decimal `json:"stop_loss,omitempty"`
	CheckInterval        time.Duration    `json:"check_interval"`
	NotificationsEnabled bool             `json:"notifications_enabled"`
	LastPrice            *decimal.Decimal `json:"last_price,omitempty"`
	LastCheckedAt        time.Time        `json:"last_checked_at,omitzero"`
	Zones                ZoneState        `json:"zones"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Due reports whether the instrument should be checked at now.
func (m *MonitoredInstrument) Due(now time.Time) bool {
	if m.LastCheckedAt.IsZero() {
		return true
	}
	return now.Sub(m.LastCheckedAt) >= m.CheckInterval
}

// InstrumentSpec carries the user-editable fields of an instrument.
type InstrumentSpec struct {
	Symbol               string
	Name                 string
	Rating               string
	EntryRange           *PriceRange
	TakeProfit           *decimal.Decimal
	StopLoss             *decimal.Decimal
	CheckInterval        time.Duration
	NotificationsEnabled bool
}

// Validate checks the spec. Entry range violations wrap ErrInvalidRange,
// everything else wraps ErrInvalidArgument.
func (s *InstrumentSpec) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidArgument)
	}
	if s.EntryRange != nil {
		if !s.EntryRange.Min.IsPositive() {
			return fmt.Errorf("%w: entry min must be positive, got %s", ErrInvalidRange, s.EntryRange.Min)
		}
		if !s.EntryRange.Min.LessThan(s.EntryRange.Max) {
			return fmt.Errorf("%w: entry min %s must be below max %s", ErrInvalidRange, s.EntryRange.Min, s.EntryRange.Max)
		}
	}
	if s.TakeProfit != nil && !s.TakeProfit.IsPositive() {
		return fmt.Errorf("%w: take profit must be positive", ErrInvalidArgument)
	}
	if s.StopLoss != nil && !s.StopLoss.IsPositive() {
		return fmt.Errorf("%w: stop loss must be positive", ErrInvalidArgument)
	}
	if s.CheckInterval < 0 {
		return fmt.Errorf("%w: check interval must not be negative", ErrInvalidArgument)
	}
	return nil
}
