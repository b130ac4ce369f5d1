package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"TradeWatch/internal/domain/models"
	domsvc "TradeWatch/internal/domain/service"
	"TradeWatch/pkg/logger"
)

// AnalysisClient calls the multi-agent analysis service over HTTP.
type AnalysisClient struct {
	base     *HTTPServiceBase
	attempts int
	logger   *logger.Logger
}

func NewAnalysisClient(baseURL string, timeout time.Duration, attempts int, l *logger.Logger) *AnalysisClient {
	if l == nil {
		l = logger.Nop()
	}
	return &AnalysisClient{base: NewHTTPServiceBase(baseURL, timeout), attempts: attempts, logger: l}
}

type analyzeRequest struct {
	Symbol   string   `json:"symbol"`
	Period   string   `json:"period,omitempty"`
	Analysts []string `json:"analysts,omitempty"`
	Model    string   `json:"model,omitempty"`
}

type analyzeResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	StockInfo struct {
		Symbol string `json:"symbol"`
		Name   string `json:"name"`
	} `json:"stock_info"`
	FinalDecision struct {
		Rating          string          `json:"rating"`
		EntryRange      string          `json:"entry_range"`
		TakeProfit      string          `json:"take_profit"`
		StopLoss        string          `json:"stop_loss"`
		TargetPrice     string          `json:"target_price"`
		ConfidenceLevel json.RawMessage `json:"confidence_level"`
		OperationAdvice string          `json:"operation_advice"`
	} `json:"final_decision"`
	Summary       string                 `json:"summary"`
	AgentsResults map[string]agentResult `json:"agents_results"`
}

type agentResult struct {
	AgentName string `json:"agent_name"`
	Analysis  string `json:"analysis"`
}

// Analyze runs the analysis of one symbol. A response with success=false is an error.
func (c *AnalysisClient) Analyze(ctx context.Context, symbol string, params models.AnalysisParams) (*models.AnalysisResult, error) {
	start := time.Now()
	var resp analyzeResponse
	req := analyzeRequest{Symbol: symbol, Period: params.Period, Analysts: params.Analysts, Model: params.Model}
	if err := c.base.PostJSONWithRetry(ctx, "/analyze", req, &resp, c.attempts); err != nil {
		return nil, fmt.Errorf("analyze %s: %w", symbol, err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "service reported failure"
		}
		return nil, fmt.Errorf("analyze %s: %s", symbol, msg)
	}

	out := toResult(symbol, &resp)
	c.logger.Debug("analysis received",
		logger.String("symbol", out.Symbol),
		logger.String("rating", out.Decision.Rating),
		logger.Duration("elapsed", time.Since(start)))
	return out, nil
}

func toResult(symbol string, resp *analyzeResponse) *models.AnalysisResult {
	fd := resp.FinalDecision
	res := &models.AnalysisResult{
		Symbol: resp.StockInfo.Symbol,
		Name:   resp.StockInfo.Name,
		Decision: models.Decision{
			Rating:      fd.Rating,
			EntryRange:  fd.EntryRange,
			TakeProfit:  fd.TakeProfit,
			StopLoss:    fd.StopLoss,
			TargetPrice: fd.TargetPrice,
			Confidence:  parseConfidence(fd.ConfidenceLevel),
			Reasoning:   fd.OperationAdvice,
		},
		Summary:    resp.Summary,
		AnalyzedAt: time.Now().UTC(),
	}
	if res.Symbol == "" {
		res.Symbol = symbol
	}
	if res.Summary == "" {
		res.Summary = fd.OperationAdvice
	}
	if len(resp.AgentsResults) > 0 {
		res.Reports = make(map[string]string, len(resp.AgentsResults))
		for k, a := range resp.AgentsResults {
			res.Reports[k] = a.Analysis
		}
	}
	return res
}

// parseConfidence accepts 7, 0.7, "7", "7/10" or "70%" and returns 0..10.
func parseConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	s = strings.TrimSpace(s)
	div := 1.0
	switch {
	case strings.HasSuffix(s, "%"):
		s = strings.TrimSuffix(s, "%")
		div = 10
	case strings.Contains(s, "/"):
		s = s[:strings.Index(s, "/")]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v / div
}

var _ domsvc.AnalysisService = (*AnalysisClient)(nil)
