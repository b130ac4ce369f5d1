package api

import (
	models "TradeWatch/internal/domain/models"
	"TradeWatch/internal/services/calendar"
	"TradeWatch/internal/services/monitor"
	"TradeWatch/internal/usecase"
	xhttp "TradeWatch/pkg/http"
	xlogger "TradeWatch/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SchedulerEchoHandler controls the monitor loop, the trading-calendar
// scheduler and the portfolio re-analysis schedule.
type SchedulerEchoHandler struct {
	logger    *xlogger.Logger
	scheduler *calendar.Scheduler
	monitor   *monitor.Service
	portfolio *usecase.PortfolioScheduler
}

func NewSchedulerEchoHandler(logger *xlogger.Logger, s *calendar.Scheduler, m *monitor.Service, p *usecase.PortfolioScheduler) *SchedulerEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &SchedulerEchoHandler{logger: logger, scheduler: s, monitor: m, portfolio: p}
}

func (h *SchedulerEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/monitor", h.MonitorStatus)
	g.POST("/monitor/start", h.StartMonitor)
	g.POST("/monitor/stop", h.StopMonitor)

	g.GET("/scheduler", h.SchedulerStatus)
	g.PUT("/scheduler", h.UpdateSchedule)
	g.PUT("/scheduler/enabled", h.SetEnabled)

	g.GET("/portfolio/schedule", h.PortfolioStatus)
	g.PUT("/portfolio/schedule", h.UpdatePortfolioTimes)
	g.POST("/portfolio/run", h.RunPortfolio)
}

func (h *SchedulerEchoHandler) MonitorStatus(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.monitor.Status())
}

// StartMonitor starts the loop and holds it running until the session state next flips.
func (h *SchedulerEchoHandler) StartMonitor(c echo.Context) error {
	if err := h.scheduler.ManualStart(); err != nil {
		return errorResponse(c, h.logger, "start monitor", err)
	}
	return xhttp.SuccessResponse(c, h.monitor.Status())
}

// StopMonitor stops the loop and holds it stopped until the session state next flips.
func (h *SchedulerEchoHandler) StopMonitor(c echo.Context) error {
	h.scheduler.ManualStop()
	return xhttp.SuccessResponse(c, h.monitor.Status())
}

func (h *SchedulerEchoHandler) SchedulerStatus(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status": h.scheduler.Status(),
		"config": h.scheduler.Config(),
	})
}

// UpdateSchedule replaces the schedule config. Invalid configs are rejected
// and the previous one stays active.
func (h *SchedulerEchoHandler) UpdateSchedule(c echo.Context) error {
	req := &models.ScheduleRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, err := h.scheduler.UpdateConfig(req.ToConfig())
	if err != nil {
		return errorResponse(c, h.logger, "update schedule", err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *SchedulerEchoHandler) SetEnabled(c echo.Context) error {
	req := &models.EnabledRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, h.scheduler.SetEnabled(*req.Enabled))
}

func (h *SchedulerEchoHandler) PortfolioStatus(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.portfolio.Status())
}

func (h *SchedulerEchoHandler) UpdatePortfolioTimes(c echo.Context) error {
	req := &models.PortfolioScheduleRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, err := h.portfolio.UpdateTimes(req.Times)
	if err != nil {
		return errorResponse(c, h.logger, "update portfolio schedule", err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *SchedulerEchoHandler) RunPortfolio(c echo.Context) error {
	id, err := h.portfolio.RunNow(c.Request().Context())
	if err != nil {
		return errorResponse(c, h.logger, "run portfolio", err)
	}
	return xhttp.CreatedResponse(c, map[string]string{"batch_id": id})
}
