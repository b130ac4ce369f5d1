package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZone_TextRoundTrip(t *testing.T) {
	in := MonitoredInstrument{
		ID:     "i1",
		Symbol: "AAPL",
		Zones:  ZoneState{Entry: ZoneInside, TakeProfit: ZoneOutside},
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"zones":{"entry":"inside","take_profit":"outside","stop_loss":"unknown"}`)
	assert.NotContains(t, string(raw), "last_checked_at")

	var out MonitoredInstrument
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in.Zones, out.Zones)

	var z Zone
	assert.Error(t, z.UnmarshalText([]byte("sideways")))
	assert.Error(t, json.Unmarshal([]byte(`{"entry":"INSIDE"}`), &ZoneState{}))
}
