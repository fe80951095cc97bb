package handler

import (
	"strconv"
	"time"

	app_errors "stayflow/internal/errors"
	"stayflow/internal/response"

	"github.com/gin-gonic/gin"
)

// RunAutoCheckout triggers one auto-checkout cycle out-of-band.
// POST /api/scheduler/auto-checkout/run
func (s *Server) RunAutoCheckout(c *gin.Context) {
	result := s.AutoCheckout.ProcessAutoCheckout(c.Request.Context())
	response.Success(c, result)
}

// GetUpcomingCheckouts lists check-ins expiring within the requested horizon.
// GET /api/scheduler/auto-checkout/upcoming?minutes=30
func (s *Server) GetUpcomingCheckouts(c *gin.Context) {
	minutes := 30
	if raw := c.Query("minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.Error(c, app_errors.NewAPIError(app_errors.ErrBadRequest, "minutes must be a positive integer"))
			return
		}
		minutes = parsed
	}

	upcoming, err := s.AutoCheckout.GetUpcomingExpiredCheckins(c.Request.Context(), minutes)
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	response.Success(c, upcoming)
}

// SimulateAutoCheckout applies the auto-checkout steps to one check-in.
// POST /api/scheduler/auto-checkout/simulate/:checkinID
func (s *Server) SimulateAutoCheckout(c *gin.Context) {
	checkinID, err := strconv.ParseUint(c.Param("checkinID"), 10, 32)
	if err != nil || checkinID == 0 {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrBadRequest, "invalid check-in ID"))
		return
	}

	result, err := s.AutoCheckout.SimulateAutoCheckout(c.Request.Context(), uint(checkinID))
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	response.Success(c, result)
}

// GetAutoCheckoutStatistics aggregates auto-checkout activity per business
// date. GET /api/scheduler/auto-checkout/statistics?from=...&to=...
func (s *Server) GetAutoCheckoutStatistics(c *gin.Context) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -7)
	to := now

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, app_errors.NewAPIError(app_errors.ErrBadRequest, "from must be an RFC3339 timestamp"))
			return
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, app_errors.NewAPIError(app_errors.ErrBadRequest, "to must be an RFC3339 timestamp"))
			return
		}
		to = parsed
	}
	if to.Before(from) {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrBadRequest, "to must not be before from"))
		return
	}

	stats, err := s.AutoCheckout.GetAutoCheckoutStatistics(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	response.Success(c, stats)
}

// RunNotifications triggers one notification dispatch cycle out-of-band.
// POST /api/scheduler/notifications/run
func (s *Server) RunNotifications(c *gin.Context) {
	result := s.Notifications.ProcessScheduledNotifications(c.Request.Context())
	response.Success(c, result)
}

// GetSchedulerStatus returns the snapshot of the most recent scheduler runs.
// GET /api/scheduler/status
func (s *Server) GetSchedulerStatus(c *gin.Context) {
	response.Success(c, gin.H{
		"auto_checkout": s.AutoCheckout.GetStatus(),
	})
}

// GetBusinessDay resolves the business date and window for a given instant.
// GET /api/businessday?at=RFC3339 (defaults to now)
func (s *Server) GetBusinessDay(c *gin.Context) {
	at := time.Now()
	if raw := c.Query("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, app_errors.NewAPIError(app_errors.ErrBadRequest, "at must be an RFC3339 timestamp"))
			return
		}
		at = parsed
	}

	window := s.Calendar.Window(at)
	response.Success(c, gin.H{
		"business_date": window.Date.Format("2006-01-02"),
		"window_start":  window.Start.Format(time.RFC3339),
		"window_end":    window.End.Format(time.RFC3339),
	})
}
