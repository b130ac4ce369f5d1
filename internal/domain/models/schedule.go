package models

import "time"

// TradingWindow is a daily session in market-local "HH:MM" wall time.
type TradingWindow struct {
	Start string `json:"start" yaml:"start" validate:"required"`
	End   string `json:"end" yaml:"end" validate:"required"`
}

// ScheduleConfig drives automatic start/stop of the threshold monitor.
type ScheduleConfig struct {
	Enabled           bool                       `json:"enabled" yaml:"enabled"`
	Market            string                     `json:"market" yaml:"market"`
	Timezone          string                     `json:"timezone,omitempty" yaml:"timezone"`
	TradingDays       []int                      `json:"trading_days" yaml:"trading_days"`
	TradingHours      map[string][]TradingWindow `json:"trading_hours" yaml:"trading_hours"`
	PreMarketMinutes  int                        `json:"pre_market_minutes" yaml:"pre_market_minutes"`
	PostMarketMinutes int                        `json:"post_market_minutes" yaml:"post_market_minutes"`
	AutoStop          bool                       `json:"auto_stop" yaml:"auto_stop"`
	Holidays          []string                   `json:"holidays,omitempty" yaml:"holidays"`
}

// SchedulerState is the scheduler's view of the current session.
type SchedulerState string

const (
	SchedulerIdle      SchedulerState = "idle"
	SchedulerActive    SchedulerState = "active_window"
	SchedulerSuspended SchedulerState = "suspended"
)

// SchedulerStatus is returned by the scheduler's status query.
type SchedulerStatus struct {
	State            SchedulerState `json:"state"`
	Enabled          bool           `json:"scheduler_enabled"`
	Running          bool           `json:"scheduler_running"`
	Market           string         `json:"market"`
	MonitorRunning   bool           `json:"monitor_running"`
	TradingDay       bool           `json:"is_trading_day"`
	WithinHours      bool           `json:"is_within_hours"`
	Override         string         `json:"manual_override,omitempty"`
	ConfigError      string         `json:"config_error,omitempty"`
	LocalTime        time.Time      `json:"local_time"`
	NextSessionStart *time.Time     `json:"next_session_start,omitempty"`
	LastEvaluatedAt  time.Time      `json:"last_evaluated_at,omitzero"`
}

// MonitorStatus is returned by the monitor's status query.
type MonitorStatus struct {
	Running       bool      `json:"running"`
	Instruments   int       `json:"instruments"`
	PendingEvents int       `json:"pending_events"`
	LastTickAt    time.Time `json:"last_tick_at,omitzero"`
	TickInterval  string    `json:"tick_interval"`
}

// PortfolioStatus describes the portfolio re-analysis schedule.
type PortfolioStatus struct {
	Enabled     bool        `json:"enabled"`
	Times       []string    `json:"times"`
	Timezone    string      `json:"timezone"`
	Symbols     []string    `json:"symbols"`
	NextRuns    []time.Time `json:"next_runs,omitempty"`
	Running     bool        `json:"running"`
	LastRunAt   *time.Time  `json:"last_run_at,omitempty"`
	LastBatchID string      `json:"last_batch_id,omitempty"`
}
