package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu      sync.Mutex
	batches [][]AggregatedLogEntry
	err     error
}

func (c *capture) PublishMessage(_ context.Context, _ string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, payload.([]AggregatedLogEntry))
	return c.err
}

func (c *capture) all() [][]AggregatedLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]AggregatedLogEntry(nil), c.batches...)
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := FromWriter(&buf, zerolog.InfoLevel).With(String("component", "monitor"))

	l.Debug("hidden")
	l.Info("price updated",
		String("symbol", "AAPL"),
		Int("zones", 3),
		Float64("price", 171.25),
		Duration("elapsed", 1500*time.Millisecond),
		Bool("armed", true),
		Error(errors.New("stale")))

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "monitor", got["component"])
	assert.Equal(t, "AAPL", got["symbol"])
	assert.EqualValues(t, 3, got["zones"])
	assert.EqualValues(t, 1500, got["elapsed"])
	assert.Equal(t, true, got["armed"])
	assert.Equal(t, "stale", got["error"])
	assert.Equal(t, "price updated", got["message"])
}

func TestLogCollector_AggregatesAndFlushesOnClose(t *testing.T) {
	pub := &capture{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "logs", Publisher: pub})
	child := l.With(String("env", "test"))

	for i := 0; i < 3; i++ {
		child.Error("quote fetch failed", String("symbol", "AAPL"))
	}
	child.Error("quote fetch failed", String("symbol", "MSFT"))
	child.Warn("not collected")
	assert.Equal(t, 2, l.collector.Pending())

	l.RemoveCollector()
	batches := pub.all()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	counts := map[interface{}]int{}
	for _, e := range batches[0] {
		counts[e.Fields["symbol"]] = e.Count
		assert.Contains(t, e.Caller, "logger/logger_test.go:")
	}
	assert.Equal(t, map[interface{}]int{"AAPL": 3, "MSFT": 1}, counts)

	// the child still points at the closed collector
	child.Error("after close")
	assert.Len(t, pub.all(), 1)
}

func TestLogCollector_ThresholdFlush(t *testing.T) {
	pub := &capture{err: errors.New("broker down")}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})
	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")
	c.Close()
	require.Len(t, pub.all(), 1)
	assert.Len(t, pub.all()[0], 2)
	assert.Zero(t, c.Pending())
}

func TestEntryKey(t *testing.T) {
	a := entryKey("error", "m", map[string]interface{}{"x": 1, "y": "z"}, "f.go:1")
	b := entryKey("error", "m", map[string]interface{}{"y": "z", "x": 1}, "f.go:1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, entryKey("error", "m", nil, "f.go:2"))
}

func TestNew(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)

	l, err := New(&Config{Level: "warn", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	assert.NotNil(t, l)
}
