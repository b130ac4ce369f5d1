package models

import (
	"testing"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleRequest_Defaults(t *testing.T) {
	req := &ScheduleRequest{Market: "US"}
	require.NoError(t, defaults.Set(req))

	cfg := req.ToConfig()
	assert.Equal(t, "US", cfg.Market)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, cfg.TradingDays)
	assert.True(t, cfg.AutoStop)

	req = &ScheduleRequest{TradingDays: []int{6}}
	require.NoError(t, defaults.Set(req))
	assert.Equal(t, []int{6}, req.ToConfig().TradingDays)
	assert.Equal(t, "CN", req.Market)
}
