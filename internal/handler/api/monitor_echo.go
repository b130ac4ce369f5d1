package api

import (
	"fmt"

	models "TradeWatch/internal/domain/models"
	"TradeWatch/internal/service/ratelimit"
	"TradeWatch/internal/services/monitor"
	xhttp "TradeWatch/pkg/http"
	xlogger "TradeWatch/pkg/logger"

	"github.com/labstack/echo/v4"
)

// MonitorEchoHandler exposes the threshold monitor's instruments and events.
type MonitorEchoHandler struct {
	logger  *xlogger.Logger
	monitor *monitor.Service
	refresh *ratelimit.Limiter
}

func NewMonitorEchoHandler(logger *xlogger.Logger, m *monitor.Service, refresh *ratelimit.Limiter) *MonitorEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &MonitorEchoHandler{logger: logger, monitor: m, refresh: refresh}
}

func (h *MonitorEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/instruments", h.List)
	g.POST("/instruments", h.Add)
	g.GET("/instruments/:id", h.Get)
	g.PUT("/instruments/:id", h.Update)
	g.DELETE("/instruments/:id", h.Remove)
	g.POST("/instruments/:id/refresh", h.Refresh)
	g.PUT("/instruments/:id/notifications", h.ToggleNotifications)
	g.POST("/instruments/:id/reset", h.Reset)

	g.GET("/events", h.Events)
	g.POST("/events/mark-sent", h.MarkSent)
	g.DELETE("/events", h.ClearEvents)
}

func (h *MonitorEchoHandler) List(c echo.Context) error {
	list := h.monitor.Instruments()
	return xhttp.ListResponse(c, list, int64(len(list)))
}

func (h *MonitorEchoHandler) Add(c echo.Context) error {
	req := &models.InstrumentRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	spec, err := req.ToSpec()
	if err != nil {
		return errorResponse(c, h.logger, "add instrument", err)
	}
	id, err := h.monitor.AddInstrument(spec)
	if err != nil {
		return errorResponse(c, h.logger, "add instrument", err)
	}
	inst, err := h.monitor.Instrument(id)
	if err != nil {
		return errorResponse(c, h.logger, "add instrument", err)
	}
	return xhttp.CreatedResponse(c, inst)
}

func (h *MonitorEchoHandler) Get(c echo.Context) error {
	req := &models.IDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	inst, err := h.monitor.Instrument(req.ID)
	if err != nil {
		return errorResponse(c, h.logger, "get instrument", err)
	}
	return xhttp.SuccessResponse(c, inst)
}

// Update replaces thresholds and re-arms crossing detection.
func (h *MonitorEchoHandler) Update(c echo.Context) error {
	req := &models.InstrumentRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	spec, err := req.ToSpec()
	if err != nil {
		return errorResponse(c, h.logger, "update instrument", err)
	}
	inst, err := h.monitor.UpdateInstrument(req.ID, spec)
	if err != nil {
		return errorResponse(c, h.logger, "update instrument", err)
	}
	return xhttp.SuccessResponse(c, inst)
}

func (h *MonitorEchoHandler) Remove(c echo.Context) error {
	req := &models.IDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.monitor.RemoveInstrument(req.ID); err != nil {
		return errorResponse(c, h.logger, "remove instrument", err)
	}
	if h.refresh != nil {
		h.refresh.Forget(req.ID)
	}
	return xhttp.NoContentResponse(c)
}

// Refresh fetches the price now, evaluates thresholds and returns any events.
func (h *MonitorEchoHandler) Refresh(c echo.Context) error {
	req := &models.IDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.refresh != nil && !h.refresh.Allow(req.ID) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError(fmt.Sprintf("refresh of %s is rate limited", req.ID)))
	}
	inst, events, err := h.monitor.ManualUpdate(c.Request().Context(), req.ID)
	if err != nil {
		return errorResponse(c, h.logger, "refresh instrument", err)
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"instrument": inst,
		"events":     events,
	})
}

func (h *MonitorEchoHandler) ToggleNotifications(c echo.Context) error {
	req := &models.ToggleNotificationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.monitor.ToggleNotifications(req.ID, *req.Enabled); err != nil {
		return errorResponse(c, h.logger, "toggle notifications", err)
	}
	inst, err := h.monitor.Instrument(req.ID)
	if err != nil {
		return errorResponse(c, h.logger, "toggle notifications", err)
	}
	return xhttp.SuccessResponse(c, inst)
}

func (h *MonitorEchoHandler) Reset(c echo.Context) error {
	req := &models.IDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.monitor.ResetCrossingState(req.ID); err != nil {
		return errorResponse(c, h.logger, "reset instrument", err)
	}
	inst, err := h.monitor.Instrument(req.ID)
	if err != nil {
		return errorResponse(c, h.logger, "reset instrument", err)
	}
	return xhttp.SuccessResponse(c, inst)
}

func (h *MonitorEchoHandler) Events(c echo.Context) error {
	req := &models.EventsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	var list []*models.ThresholdEvent
	if req.Pending {
		list = h.monitor.PendingEvents()
		if len(list) > req.Limit {
			list = list[:req.Limit]
		}
	} else {
		list = h.monitor.Events(req.Limit)
	}
	return xhttp.ListResponse(c, list, int64(len(list)))
}

func (h *MonitorEchoHandler) MarkSent(c echo.Context) error {
	n := h.monitor.MarkAllSent()
	return xhttp.SuccessResponse(c, map[string]int{"marked": n})
}

func (h *MonitorEchoHandler) ClearEvents(c echo.Context) error {
	n := h.monitor.ClearEvents()
	return xhttp.SuccessResponse(c, map[string]int{"cleared": n})
}
