package calendar

import (
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"TradeWatch/internal/domain/models"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"

	maxExtensionMinutes = 240
	// NextSessionStart gives up after this many days, enough to cross any holiday run.
	lookaheadDays = 31
)

// MarketTimezones maps supported markets to their exchange timezone.
var MarketTimezones = map[string]string{
	"CN": "Asia/Shanghai",
	"HK": "Asia/Hong_Kong",
	"US": "America/New_York",
}

// DefaultTradingHours are the regular sessions of each supported market in local time.
var DefaultTradingHours = map[string][]models.TradingWindow{
	"CN": {{Start: "09:30", End: "11:30"}, {Start: "13:00", End: "15:00"}},
	"HK": {{Start: "09:30", End: "12:00"}, {Start: "13:00", End: "16:00"}},
	"US": {{Start: "09:30", End: "16:00"}},
}

// DefaultConfig returns a disabled CN schedule trading Monday to Friday.
func DefaultConfig() models.ScheduleConfig {
	hours := make(map[string][]models.TradingWindow, len(DefaultTradingHours))
	for m, ws := range DefaultTradingHours {
		hours[m] = append([]models.TradingWindow(nil), ws...)
	}
	return models.ScheduleConfig{
		Market:            "CN",
		TradingDays:       []int{1, 2, 3, 4, 5},
		TradingHours:      hours,
		PreMarketMinutes:  5,
		PostMarketMinutes: 5,
		AutoStop:          true,
	}
}

// window is a session as minutes after local midnight.
type window struct {
	start, end int
}

// Calendar answers trading-time questions for one market. It is immutable.
type Calendar struct {
	market   string
	loc      *time.Location
	days     [8]bool
	windows  []window
	pre      time.Duration
	post     time.Duration
	holidays map[string]struct{}
}

// Compile validates cfg and builds a Calendar for cfg.Market.
// Every failure wraps models.ErrInvalidSchedule.
func Compile(cfg models.ScheduleConfig) (*Calendar, error) {
	market := strings.ToUpper(strings.TrimSpace(cfg.Market))
	if market == "" {
		return nil, invalid("market is required")
	}

	tz := cfg.Timezone
	if tz == "" {
		tz = MarketTimezones[market]
	}
	if tz == "" {
		return nil, invalid("unknown market %q without timezone", market)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, invalid("timezone %q: %v", tz, err)
	}

	c := &Calendar{market: market, loc: loc, holidays: make(map[string]struct{})}

	if len(cfg.TradingDays) == 0 {
		return nil, invalid("trading_days must not be empty")
	}
	for _, d := range cfg.TradingDays {
		if d < 1 || d > 7 {
			return nil, invalid("trading day %d out of range 1..7", d)
		}
		c.days[d] = true
	}

	raw, ok := cfg.TradingHours[market]
	if !ok {
		raw = DefaultTradingHours[market]
	}
	if len(raw) == 0 {
		return nil, invalid("no trading hours for market %s", market)
	}
	for i, w := range raw {
		start, err := parseClock(w.Start)
		if err != nil {
			return nil, invalid("window %d start: %v", i+1, err)
		}
		end, err := parseClock(w.End)
		if err != nil {
			return nil, invalid("window %d end: %v", i+1, err)
		}
		if start >= end {
			return nil, invalid("window %d: start %s must be before end %s", i+1, w.Start, w.End)
		}
		c.windows = append(c.windows, window{start: start, end: end})
	}
	sort.Slice(c.windows, func(i, j int) bool { return c.windows[i].start < c.windows[j].start })

	if cfg.PreMarketMinutes < 0 || cfg.PreMarketMinutes > maxExtensionMinutes {
		return nil, invalid("pre_market_minutes %d out of range 0..%d", cfg.PreMarketMinutes, maxExtensionMinutes)
	}
	if cfg.PostMarketMinutes < 0 || cfg.PostMarketMinutes > maxExtensionMinutes {
		return nil, invalid("post_market_minutes %d out of range 0..%d", cfg.PostMarketMinutes, maxExtensionMinutes)
	}
	c.pre = time.Duration(cfg.PreMarketMinutes) * time.Minute
	c.post = time.Duration(cfg.PostMarketMinutes) * time.Minute

	for _, h := range cfg.Holidays {
		d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(h), loc)
		if err != nil {
			return nil, invalid("holiday %q: %v", h, err)
		}
		c.holidays[d.Format(dateLayout)] = struct{}{}
	}
	return c, nil
}

// Market returns the upper-cased market code.
func (c *Calendar) Market() string { return c.market }

// Location returns the market timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// IsTradingDay reports whether the market-local date of t is a configured
// weekday that is not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	return c.tradingDate(t.In(c.loc))
}

// IsWithinHours reports whether t falls inside any extended window,
// regardless of the day of week.
func (c *Calendar) IsWithinHours(t time.Time) bool {
	local := t.In(c.loc)
	for _, day := range around(local) {
		if c.inSession(day, t) {
			return true
		}
	}
	return false
}

// IsTradingTime reports whether t is inside an extended window of a trading day.
// Windows extended past midnight belong to the day they were configured on.
func (c *Calendar) IsTradingTime(t time.Time) bool {
	local := t.In(c.loc)
	for _, day := range around(local) {
		if c.tradingDate(day) && c.inSession(day, t) {
			return true
		}
	}
	return false
}

// NextSessionStart returns the first extended session start strictly after t.
func (c *Calendar) NextSessionStart(t time.Time) (time.Time, bool) {
	local := t.In(c.loc)
	day := midnight(local)
	for i := 0; i <= lookaheadDays; i++ {
		d := day.AddDate(0, 0, i)
		if !c.tradingDate(d) {
			continue
		}
		for _, w := range c.windows {
			if s := at(d, w.start).Add(-c.pre); s.After(t) {
				return s, true
			}
		}
	}
	return time.Time{}, false
}

func (c *Calendar) tradingDate(local time.Time) bool {
	if !c.days[isoWeekday(local)] {
		return false
	}
	_, holiday := c.holidays[local.Format(dateLayout)]
	return !holiday
}

// inSession checks t against the windows configured for the local date of day.
// Windows are half-open: [start-pre, end+post).
func (c *Calendar) inSession(day, t time.Time) bool {
	for _, w := range c.windows {
		start := at(day, w.start).Add(-c.pre)
		end := at(day, w.end).Add(c.post)
		if !t.Before(start) && t.Before(end) {
			return true
		}
	}
	return false
}

// IsTradingDay evaluates cfg at t and fails closed on a malformed config.
func IsTradingDay(cfg models.ScheduleConfig, t time.Time) bool {
	c, err := Compile(cfg)
	if err != nil {
		return false
	}
	return c.IsTradingDay(t)
}

// IsWithinHours evaluates cfg at t and fails closed on a malformed config.
func IsWithinHours(cfg models.ScheduleConfig, t time.Time) bool {
	c, err := Compile(cfg)
	if err != nil {
		return false
	}
	return c.IsWithinHours(t)
}

// IsTradingTime evaluates cfg at t and fails closed on a malformed config.
func IsTradingTime(cfg models.ScheduleConfig, t time.Time) bool {
	c, err := Compile(cfg)
	if err != nil {
		return false
	}
	return c.IsTradingTime(t)
}

func parseClock(s string) (int, error) {
	t, err := time.Parse(clockLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrInvalidSchedule, fmt.Sprintf(format, args...))
}

func isoWeekday(t time.Time) int {
	if wd := t.Weekday(); wd != time.Sunday {
		return int(wd)
	}
	return 7
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// at builds the wall-clock time minutes after midnight on day's date.
func at(day time.Time, minutes int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, minutes/60, minutes%60, 0, 0, day.Location())
}

// around returns the previous, current and next local dates of t, since
// extended windows may spill across midnight.
func around(local time.Time) []time.Time {
	day := midnight(local)
	return []time.Time{day.AddDate(0, 0, -1), day, day.AddDate(0, 0, 1)}
}
