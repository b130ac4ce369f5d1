package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 15*time.Second, c.Server.ShutdownTimeout)
	assert.Equal(t, "sqlite", c.Storage.Type)
	assert.Equal(t, "data/tradewatch.db", c.SQLite.Path)
	assert.Equal(t, []string{"localhost:9092"}, c.Kafka.Brokers)
	assert.Equal(t, 3, c.Analysis.DefaultConcurrency)
	assert.Equal(t, 300*time.Second, c.Analysis.DefaultTimeout)
	assert.Equal(t, 5*time.Second, c.Monitor.TickInterval)
	assert.Equal(t, 30*time.Second, c.Scheduler.Interval)
	assert.Equal(t, "CN", c.Scheduler.Market)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, c.Scheduler.TradingDays)
	assert.True(t, c.Scheduler.AutoStop)
	assert.Equal(t, 5, c.Scheduler.PreMarketMinutes)
	assert.Equal(t, []string{"09:35", "15:05"}, c.Portfolio.Times)
	assert.True(t, c.Metrics.Enabled)
	assert.True(t, c.Notifications.Log)
	assert.Equal(t, "generic", c.Notifications.Webhook.Type)
}

func TestParse_FileOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
environment: production
metrics:
  enabled: false
storage:
  type: clickhouse
monitor:
  tick_interval: 2s
scheduler:
  interval: 10s
  enabled: true
  market: US
  timezone: America/New_York
  pre_market_minutes: 15
  post_market_minutes: 0
  auto_stop: false
  trading_days: [1, 2, 3]
  trading_hours:
    US:
      - {start: "09:30", end: "16:00"}
notifications:
  log: false
  webhook:
    url: https://hooks.example.com/x
    type: dingtalk
    keyword: alert
`))
	require.NoError(t, err)

	assert.False(t, c.Metrics.Enabled)
	assert.False(t, c.Notifications.Log)
	assert.Equal(t, "clickhouse", c.Storage.Type)
	assert.Equal(t, 2*time.Second, c.Monitor.TickInterval)
	assert.Equal(t, 10*time.Second, c.Scheduler.Interval)
	assert.True(t, c.Scheduler.Enabled)
	assert.Equal(t, "US", c.Scheduler.Market)
	assert.Equal(t, "America/New_York", c.Scheduler.Timezone)
	assert.Equal(t, 15, c.Scheduler.PreMarketMinutes)
	assert.Equal(t, []int{1, 2, 3}, c.Scheduler.TradingDays)

	sc := c.Scheduler.Schedule()
	assert.Equal(t, 0, sc.PostMarketMinutes)
	assert.False(t, sc.AutoStop)
	assert.Equal(t, "16:00", sc.TradingHours["US"][0].End)
	assert.Equal(t, "dingtalk", c.Notifications.Webhook.Type)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"storage type":       "storage:\n  type: postgres\n",
		"log level":          "logging:\n  level: loud\n",
		"port":               "server:\n  port: 70000\n",
		"concurrency":        "analysis:\n  default_concurrency: 12\n  max_concurrency: 4\n",
		"webhook type":       "notifications:\n  webhook:\n    type: slack\n",
		"kafka sink":         "notifications:\n  kafka: true\n",
		"finnhub key":        "finnhub:\n  enabled: true\n",
		"pre market minutes": "scheduler:\n  pre_market_minutes: 300\n",
		"trading day":        "scheduler:\n  trading_days: [0, 1]\n",
		"yaml":               "server: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnv_Overrides(t *testing.T) {
	path := writeFile(t, "config.yaml", `
environment: development
server:
  port: 9000
finnhub:
  symbols: [AAPL]
`)
	envFile := writeFile(t, ".env", "TRADEWATCH_LOG_LEVEL=debug\nTRADEWATCH_SERVER_PORT=9100\n")
	t.Cleanup(func() { _ = os.Unsetenv("TRADEWATCH_LOG_LEVEL") })

	t.Setenv("TRADEWATCH_SERVER_PORT", "9200")
	t.Setenv("TRADEWATCH_SYMBOLS", "MSFT,NVDA")
	t.Setenv("FINNHUB_API_KEY", "secret")
	t.Setenv("TRADEWATCH_FINNHUB_ENABLED", "true")

	c, err := LoadWithEnv(path, envFile)
	require.NoError(t, err)

	// process env wins over the .env file
	assert.Equal(t, 9200, c.Server.Port)
	assert.Equal(t, "debug", c.Logging.Level)
	assert.Equal(t, []string{"MSFT", "NVDA"}, c.Finnhub.Symbols)
	assert.Equal(t, "secret", c.Finnhub.APIKey)
	assert.True(t, c.Finnhub.Enabled)
	// untouched file values survive
	assert.Equal(t, "development", c.Environment)
}

func TestLoadWithEnv_Errors(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeFile(t, "config.yaml", "environment: test\n")
	_, err = LoadWithEnv(path, filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)

	t.Setenv("TRADEWATCH_SERVER_PORT", "not-a-port")
	_, err = LoadWithEnv(path, writeFile(t, ".env", ""))
	assert.Error(t, err)
}
