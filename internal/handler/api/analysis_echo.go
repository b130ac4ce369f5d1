package api

import (
	models "TradeWatch/internal/domain/models"
	domrepo "TradeWatch/internal/domain/repository"
	"TradeWatch/internal/usecase"
	xhttp "TradeWatch/pkg/http"
	xlogger "TradeWatch/pkg/logger"

	"github.com/labstack/echo/v4"
)

// AnalysisEchoHandler serves single and batch analysis endpoints.
type AnalysisEchoHandler struct {
	logger   *xlogger.Logger
	analysis *usecase.AnalysisUsecase
	results  domrepo.ResultReader
}

// NewAnalysisEchoHandler wires the handler. results may be nil when no sink supports reads.
func NewAnalysisEchoHandler(logger *xlogger.Logger, analysis *usecase.AnalysisUsecase, results domrepo.ResultReader) *AnalysisEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &AnalysisEchoHandler{logger: logger, analysis: analysis, results: results}
}

func (h *AnalysisEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/analysis", h.Analyze)
	g.POST("/batches", h.StartBatch)
	g.GET("/batches", h.ListBatches)
	g.GET("/batches/:id", h.GetBatch)
	g.GET("/results", h.Results)
	g.GET("/events/history", h.EventHistory)
}

// Analyze runs one analysis and blocks until it finishes or times out.
func (h *AnalysisEchoHandler) Analyze(c echo.Context) error {
	req := &models.AnalysisRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rec, err := h.analysis.AnalyzeSingle(c.Request().Context(), *req)
	if err != nil {
		return errorResponse(c, h.logger, "analysis", err)
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *AnalysisEchoHandler) StartBatch(c echo.Context) error {
	req := &models.BatchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	spec, err := h.analysis.SpecFromRequest(*req)
	if err != nil {
		return errorResponse(c, h.logger, "batch", err)
	}
	id, err := h.analysis.StartBatch(c.Request().Context(), spec)
	if err != nil {
		return errorResponse(c, h.logger, "batch", err)
	}
	return xhttp.CreatedResponse(c, map[string]interface{}{
		"batch_id": id,
		"symbols":  spec.Symbols,
	})
}

func (h *AnalysisEchoHandler) ListBatches(c echo.Context) error {
	list := h.analysis.Batches()
	return xhttp.ListResponse(c, list, int64(len(list)))
}

func (h *AnalysisEchoHandler) GetBatch(c echo.Context) error {
	req := &models.IDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, err := h.analysis.BatchStatus(req.ID)
	if err != nil {
		return errorResponse(c, h.logger, "batch status", err)
	}
	return xhttp.SuccessResponse(c, st)
}

// Results lists persisted analysis results, newest first.
func (h *AnalysisEchoHandler) Results(c echo.Context) error {
	if h.results == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("result storage is not readable"))
	}
	req := &models.ResultsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.results.RecentResults(c.Request().Context(), historyQuery(req))
	if err != nil {
		return errorResponse(c, h.logger, "results", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// EventHistory lists persisted threshold events, newest first.
func (h *AnalysisEchoHandler) EventHistory(c echo.Context) error {
	if h.results == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("result storage is not readable"))
	}
	req := &models.ResultsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.results.RecentEvents(c.Request().Context(), historyQuery(req))
	if err != nil {
		return errorResponse(c, h.logger, "event history", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// historyQuery ignores an unparsable since rather than rejecting the request.
func historyQuery(req *models.ResultsRequest) models.HistoryQuery {
	q := models.HistoryQuery{Symbol: req.Symbol, Limit: req.Limit}
	if since, ok := xhttp.ParseTime(req.Since); ok {
		q.Since = since
	}
	return q
}
