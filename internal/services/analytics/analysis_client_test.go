package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"TradeWatch/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalysisClient_Analyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		var req analyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		if req.Symbol == "BAD" {
			_, _ = w.Write([]byte(`{"success":false,"error":"no data for BAD"}`))
			return
		}
		assert.Equal(t, "1y", req.Period)
		_, _ = w.Write([]byte(`{
			"success": true,
			"stock_info": {"symbol": "600519", "name": "贵州茅台"},
			"final_decision": {
				"rating": "买入",
				"entry_range": "1650-1700元",
				"take_profit": "1880元",
				"stop_loss": "1580元",
				"confidence_level": "8/10",
				"operation_advice": "逢低分批建仓"
			},
			"agents_results": {"technical": {"agent_name": "技术分析师", "analysis": "趋势向上"}}
		}`))
	}))
	defer srv.Close()

	c := NewAnalysisClient(srv.URL, time.Second, 1, nil)
	res, err := c.Analyze(context.Background(), "600519", models.AnalysisParams{Period: "1y"})
	require.NoError(t, err)
	assert.Equal(t, "600519", res.Symbol)
	assert.Equal(t, "贵州茅台", res.Name)
	assert.Equal(t, "买入", res.Decision.Rating)
	assert.Equal(t, "1650-1700元", res.Decision.EntryRange)
	assert.Equal(t, 8.0, res.Decision.Confidence)
	assert.Equal(t, "逢低分批建仓", res.Summary)
	assert.Equal(t, "趋势向上", res.Reports["technical"])

	_, err = c.Analyze(context.Background(), "BAD", models.AnalysisParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data for BAD")
}

func TestAnalysisClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"final_decision":{"rating":"hold"}}`))
	}))
	defer srv.Close()

	c := NewAnalysisClient(srv.URL, time.Second, 2, nil)
	res, err := c.Analyze(context.Background(), "AAPL", models.AnalysisParams{})
	require.NoError(t, err)
	assert.Equal(t, "AAPL", res.Symbol)
	assert.Equal(t, int32(2), calls.Load())
}

func TestParseConfidence(t *testing.T) {
	for raw, want := range map[string]float64{
		`7`:      7,
		`"7"`:    7,
		`"8/10"`: 8,
		`"70%"`:  7,
		`"high"`: 0,
		``:       0,
	} {
		assert.Equal(t, want, parseConfidence(json.RawMessage(raw)), raw)
	}
}
