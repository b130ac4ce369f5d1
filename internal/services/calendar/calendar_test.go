package calendar

import (
	"errors"
	"testing"
	"time"

	"TradeWatch/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cnConfig() models.ScheduleConfig {
	return models.ScheduleConfig{
		Enabled:     true,
		Market:      "CN",
		TradingDays: []int{1, 2, 3, 4, 5},
		TradingHours: map[string][]models.TradingWindow{
			"CN": {{Start: "09:30", End: "11:30"}, {Start: "13:00", End: "15:00"}},
		},
	}
}

func shanghai(t *testing.T, value string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	ts, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	require.NoError(t, err)
	return ts
}

func TestIsTradingTime_CNSessions(t *testing.T) {
	cfg := cnConfig()
	tests := []struct {
		name string
		at   string
		want bool
	}{
		{"saturday morning", "2024-03-09 10:00", false},
		{"tuesday afternoon", "2024-03-05 14:00", true},
		{"tuesday lunch gap", "2024-03-05 12:00", false},
		{"morning open", "2024-03-05 09:30", true},
		{"morning close is exclusive", "2024-03-05 11:30", false},
		{"before open", "2024-03-05 09:29", false},
		{"sunday", "2024-03-10 14:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTradingTime(cfg, shanghai(t, tt.at)))
		})
	}
}

func TestIsTradingTime_UsesMarketTimezone(t *testing.T) {
	cfg := cnConfig()
	// 06:00 UTC is 14:00 in Shanghai
	at := time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC)
	assert.True(t, IsTradingTime(cfg, at))

	cfg.Timezone = "America/New_York"
	assert.False(t, IsTradingTime(cfg, at))
}

func TestIsWithinHours_PrePostExtension(t *testing.T) {
	cfg := cnConfig()
	cfg.PreMarketMinutes = 10
	cfg.PostMarketMinutes = 15
	cal, err := Compile(cfg)
	require.NoError(t, err)

	assert.True(t, cal.IsWithinHours(shanghai(t, "2024-03-05 09:20")))
	assert.False(t, cal.IsWithinHours(shanghai(t, "2024-03-05 09:19")))
	assert.True(t, cal.IsWithinHours(shanghai(t, "2024-03-05 15:14")))
	assert.False(t, cal.IsWithinHours(shanghai(t, "2024-03-05 15:15")))
	assert.True(t, cal.IsWithinHours(shanghai(t, "2024-03-05 11:40")))
	assert.False(t, cal.IsWithinHours(shanghai(t, "2024-03-05 12:30")))

	// hours ignore the weekday, trading time does not
	assert.True(t, cal.IsWithinHours(shanghai(t, "2024-03-09 10:00")))
	assert.False(t, cal.IsTradingTime(shanghai(t, "2024-03-09 10:00")))
}

func TestHolidays(t *testing.T) {
	cfg := cnConfig()
	cfg.Holidays = []string{"2024-04-04"}
	cal, err := Compile(cfg)
	require.NoError(t, err)

	assert.False(t, cal.IsTradingDay(shanghai(t, "2024-04-04 10:00")))
	assert.False(t, cal.IsTradingTime(shanghai(t, "2024-04-04 10:00")))
	assert.True(t, cal.IsTradingDay(shanghai(t, "2024-04-03 10:00")))
}

func TestCompile_DefaultsAndValidation(t *testing.T) {
	cal, err := Compile(models.ScheduleConfig{Market: "us", TradingDays: []int{1, 2, 3, 4, 5}})
	require.NoError(t, err)
	assert.Equal(t, "US", cal.Market())
	assert.Equal(t, "America/New_York", cal.Location().String())

	bad := []models.ScheduleConfig{
		{Market: "", TradingDays: []int{1}},
		{Market: "XX", TradingDays: []int{1}},
		{Market: "CN", TradingDays: nil},
		{Market: "CN", TradingDays: []int{0}},
		{Market: "CN", TradingDays: []int{8}},
		{Market: "CN", TradingDays: []int{1}, Timezone: "Mars/Olympus"},
		{Market: "CN", TradingDays: []int{1}, TradingHours: map[string][]models.TradingWindow{"CN": {{Start: "9h", End: "10:00"}}}},
		{Market: "CN", TradingDays: []int{1}, TradingHours: map[string][]models.TradingWindow{"CN": {{Start: "15:00", End: "13:00"}}}},
		{Market: "CN", TradingDays: []int{1}, TradingHours: map[string][]models.TradingWindow{"CN": {}}},
		{Market: "CN", TradingDays: []int{1}, PreMarketMinutes: -1},
		{Market: "CN", TradingDays: []int{1}, Holidays: []string{"04/04/2024"}},
	}
	for i, cfg := range bad {
		_, err := Compile(cfg)
		require.Error(t, err, "case %d", i)
		assert.True(t, errors.Is(err, models.ErrInvalidSchedule), "case %d", i)
	}
}

func TestMalformedConfigFailsClosed(t *testing.T) {
	cfg := cnConfig()
	cfg.TradingHours["CN"] = []models.TradingWindow{{Start: "25:00", End: "26:00"}}
	at := shanghai(t, "2024-03-05 10:00")

	assert.False(t, IsTradingTime(cfg, at))
	assert.False(t, IsWithinHours(cfg, at))
	assert.False(t, IsTradingDay(cfg, at))
}

func TestNextSessionStart(t *testing.T) {
	cfg := cnConfig()
	cfg.PreMarketMinutes = 5
	cfg.Holidays = []string{"2024-03-11"}
	cal, err := Compile(cfg)
	require.NoError(t, err)

	next, ok := cal.NextSessionStart(shanghai(t, "2024-03-05 12:00"))
	require.True(t, ok)
	assert.True(t, shanghai(t, "2024-03-05 12:55").Equal(next), "got %s", next)

	// Friday after close skips the weekend and the Monday holiday
	next, ok = cal.NextSessionStart(shanghai(t, "2024-03-08 16:00"))
	require.True(t, ok)
	assert.True(t, shanghai(t, "2024-03-12 09:25").Equal(next), "got %s", next)
}

func TestExtendedWindowSpillsPastMidnight(t *testing.T) {
	cfg := models.ScheduleConfig{
		Market:            "US",
		TradingDays:       []int{5},
		TradingHours:      map[string][]models.TradingWindow{"US": {{Start: "22:00", End: "23:50"}}},
		PostMarketMinutes: 30,
	}
	cal, err := Compile(cfg)
	require.NoError(t, err)

	loc := cal.Location()
	// Friday session spills into Saturday 00:20
	assert.True(t, cal.IsTradingTime(time.Date(2024, 3, 9, 0, 10, 0, 0, loc)))
	assert.False(t, cal.IsTradingTime(time.Date(2024, 3, 9, 0, 20, 0, 0, loc)))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.True(t, cfg.AutoStop)
	_, err := Compile(cfg)
	require.NoError(t, err)

	cfg.TradingHours["CN"][0].Start = "08:00"
	assert.Equal(t, "09:30", DefaultTradingHours["CN"][0].Start)
}
