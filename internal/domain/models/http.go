package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Requests for the HTTP API. Defaults and validation tags are applied by pkg/http.

type AnalysisRequest struct {
	Symbol         string   `json:"symbol" validate:"required"`
	Period         string   `json:"period" default:"1y" validate:"oneof=1mo 3mo 6mo 1y 2y 5y"`
	Analysts       []string `json:"analysts"`
	TimeoutSeconds int      `json:"timeout_seconds" default:"300" validate:"gte=1,lte=3600"`
}

type BatchRequest struct {
	Symbols        string   `json:"symbols" validate:"required"`
	Mode           string   `json:"mode" default:"parallel" validate:"oneof=sequential parallel"`
	MaxWorkers     int      `json:"max_workers" default:"3" validate:"gte=1,lte=10"`
	TimeoutSeconds int      `json:"timeout_seconds" default:"300" validate:"gte=1,lte=3600"`
	Period         string   `json:"period" default:"1y" validate:"oneof=1mo 3mo 6mo 1y 2y 5y"`
	Analysts       []string `json:"analysts"`
	SyncToMonitor  bool     `json:"sync_to_monitor"`
}

type IDRequest struct {
	ID string `param:"id" validate:"required"`
}

type InstrumentRequest struct {
	ID                   string           `param:"id"`
	Symbol               string           `json:"symbol" validate:"required"`
	Name                 string           `json:"name"`
	Rating               string           `json:"rating"`
	EntryMin             *decimal.Decimal `json:"entry_min"`
	EntryMax             *decimal.Decimal `json:"entry_max"`
	TakeProfit           *decimal.Decimal `json:"take_profit"`
	StopLoss             *decimal.Decimal `json:"stop_loss"`
	CheckIntervalMinutes int              `json:"check_interval_minutes" default:"30" validate:"gte=5,lte=120"`
	NotificationsEnabled *bool            `json:"notifications_enabled" default:"true"`
}

// ToSpec converts the request into a monitor spec. Entry bounds must come in pairs.
func (r *InstrumentRequest) ToSpec() (InstrumentSpec, error) {
	spec := InstrumentSpec{
		Symbol:        r.Symbol,
		Name:          r.Name,
		Rating:        r.Rating,
		TakeProfit:    r.TakeProfit,
		StopLoss:      r.StopLoss,
		CheckInterval: time.Duration(r.CheckIntervalMinutes) * time.Minute,
	}
	if r.NotificationsEnabled != nil {
		spec.NotificationsEnabled = *r.NotificationsEnabled
	}
	switch {
	case r.EntryMin != nil && r.EntryMax != nil:
		spec.EntryRange = &PriceRange{Min: *r.EntryMin, Max: *r.EntryMax}
	case r.EntryMin != nil || r.EntryMax != nil:
		return spec, fmt.Errorf("%w: entry_min and entry_max must be set together", ErrInvalidRange)
	}
	return spec, nil
}

type ToggleNotificationsRequest struct {
	ID      string `param:"id" validate:"required"`
	Enabled *bool  `json:"enabled" validate:"required"`
}

type EventsRequest struct {
	Pending bool `query:"pending"`
	Limit   int  `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type ResultsRequest struct {
	Symbol string `query:"symbol"`
	Since  string `query:"since"` // RFC3339 or unix seconds
	Limit  int    `query:"limit" default:"50" validate:"gte=1,lte=1000"`
}

// HistoryQuery selects persisted results or events, newest first. An empty
// Symbol and a zero Since match everything.
type HistoryQuery struct {
	Symbol string
	Since  time.Time
	Limit  int
}

type EnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type ScheduleRequest struct {
	Enabled           bool                       `json:"enabled"`
	Market            string                     `json:"market" default:"CN" validate:"oneof=CN US HK"`
	Timezone          string                     `json:"timezone"`
	TradingDays       []int                      `json:"trading_days" default:"[1,2,3,4,5]" validate:"omitempty,dive,gte=1,lte=7"`
	TradingHours      map[string][]TradingWindow `json:"trading_hours"`
	PreMarketMinutes  int                        `json:"pre_market_minutes" validate:"gte=0,lte=240"`
	PostMarketMinutes int                        `json:"post_market_minutes" validate:"gte=0,lte=240"`
	AutoStop          *bool                      `json:"auto_stop" default:"true"`
	Holidays          []string                   `json:"holidays" validate:"omitempty,dive,datetime=2006-01-02"`
}

// ToConfig converts the request into a schedule config.
func (r *ScheduleRequest) ToConfig() ScheduleConfig {
	return ScheduleConfig{
		Enabled:           r.Enabled,
		Market:            r.Market,
		Timezone:          r.Timezone,
		TradingDays:       r.TradingDays,
		TradingHours:      r.TradingHours,
		PreMarketMinutes:  r.PreMarketMinutes,
		PostMarketMinutes: r.PostMarketMinutes,
		AutoStop:          r.AutoStop == nil || *r.AutoStop,
		Holidays:          r.Holidays,
	}
}

type PortfolioScheduleRequest struct {
	Times []string `json:"times" validate:"required,min=1,dive,datetime=15:04"`
}
