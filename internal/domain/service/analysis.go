package service

import (
	"context"

	"TradeWatch/internal/domain/models"
)

// AnalysisService runs the (possibly minutes long) AI analysis of one symbol.
type AnalysisService interface {
	Analyze(ctx context.Context, symbol string, params models.AnalysisParams) (*models.AnalysisResult, error)
}
