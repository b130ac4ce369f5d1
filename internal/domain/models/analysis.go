package models

import "time"

// Decision is the trading opinion extracted from an AI analysis.
// Price fields are free text as produced by the analysis service, e.g. "10.5-11.2元".
type Decision struct {
	Rating      string  `json:"rating"`
	EntryRange  string  `json:"entry_range,omitempty"`
	TakeProfit  string  `json:"take_profit,omitempty"`
	StopLoss    string  `json:"stop_loss,omitempty"`
	TargetPrice string  `json:"target_price,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Reasoning   string  `json:"reasoning,omitempty"`
}

// AnalysisResult is what the analysis service returns for one symbol.
type AnalysisResult struct {
	Symbol     string                 `json:"symbol"`
	Name       string                 `json:"name,omitempty"`
	Decision   Decision               `json:"decision"`
	Summary    string                 `json:"summary,omitempty"`
	Reports    map[string]string      `json:"reports,omitempty"`
	Raw        map[string]interface{} `json:"raw,omitempty"`
	AnalyzedAt time.Time              `json:"analyzed_at"`
}

// AnalysisRecord is the persisted form of a successful job.
type AnalysisRecord struct {
	ID        string
	BatchID   string
	JobID     string
	Symbol    string
	Name      string
	Rating    string
	Summary   string
	Payload   string // JSON encoded AnalysisResult
	CreatedAt time.Time
}

// BatchSummary is the short aggregate used in completion notifications.
type BatchSummary struct {
	BatchID   string        `json:"batch_id"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	TimedOut  int           `json:"timed_out"`
	Elapsed   time.Duration `json:"elapsed"`
	Synced    int           `json:"synced"`
	Failures  []string      `json:"failures,omitempty"`
}
