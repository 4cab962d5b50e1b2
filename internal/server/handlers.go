package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/intelbrief/intelbrief/internal/pipeline"
	"github.com/intelbrief/intelbrief/internal/scheduler"
	"github.com/intelbrief/intelbrief/internal/source"
	"github.com/intelbrief/intelbrief/models"
)

// runExclusive executes fn under the scheduler's single-flight lock for
// kind, so manual triggers cannot overlap scheduled runs. Without a
// scheduler (one-shot wiring, tests) fn runs directly.
func (s *Server) runExclusive(ctx context.Context, kind string, fn func(context.Context) error) error {
	if s.sched == nil {
		return fn(ctx)
	}
	err := s.sched.Do(ctx, kind, fn)
	if errors.Is(err, scheduler.ErrUnknownJob) {
		return fn(ctx)
	}
	return err
}

func (s *Server) handleCollect(c echo.Context) error {
	sourceID := c.Param("source")
	var report source.CollectReport
	err := s.runExclusive(c.Request().Context(), "collect:"+sourceID, func(ctx context.Context) error {
		var rerr error
		report, rerr = s.collector.CollectSource(ctx, sourceID)
		return rerr
	})
	switch {
	case err == nil:
	case errors.Is(err, scheduler.ErrJobRunning):
		return echo.NewHTTPError(http.StatusConflict, "collection already running for "+sourceID)
	case errors.Is(err, source.ErrUnknownSource):
		return echo.NewHTTPError(http.StatusNotFound, "unknown source "+sourceID)
	default:
		var cerr *source.CollectionError
		if errors.As(err, &cerr) {
			return echo.NewHTTPError(http.StatusBadGateway, cerr.Error())
		}
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleCollectAll(c echo.Context) error {
	reports := s.collector.CollectAll(c.Request().Context())
	total := 0
	for _, r := range reports {
		total += r.NewItems
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"new_item_count": total,
		"sources":        reports,
	})
}

func (s *Server) handleProcess(c echo.Context) error {
	var report pipeline.CycleReport
	err := s.runExclusive(c.Request().Context(), "process", func(ctx context.Context) error {
		var rerr error
		report, rerr = s.orch.RunCycle(ctx)
		return rerr
	})
	if errors.Is(err, scheduler.ErrJobRunning) {
		return echo.NewHTTPError(http.StatusConflict, "processing cycle already running")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"processed_count": report.Processed(),
		"fallback_count":  report.FallbackCount,
		"report":          report,
	})
}

func (s *Server) handlePerformance(c echo.Context) error {
	resp := map[string]interface{}{
		"agents": s.ledger.Snapshots(),
	}
	if s.circuits != nil {
		resp["circuits"] = s.circuits()
	}
	return c.JSON(http.StatusOK, resp)
}

type sourceHealthView struct {
	models.SourceHealth
	Status models.SourceStatus `json:"status"`
}

func (s *Server) handleSourceHealth(c echo.Context) error {
	records, err := s.store.ListSourceHealth(c.Request().Context())
	if err != nil {
		return err
	}
	views := make([]sourceHealthView, 0, len(records))
	for _, h := range records {
		views = append(views, sourceHealthView{SourceHealth: h, Status: h.Status()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sources": views})
}

func (s *Server) handleAlerts(c echo.Context) error {
	window := 24 * time.Hour
	if raw := c.QueryParam("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid window: "+raw)
		}
		window = d
	}
	alerts, err := s.store.ListRecentAlerts(c.Request().Context(), window, 100)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"alerts": alerts})
}

func (s *Server) handleStats(c echo.Context) error {
	ctx := c.Request().Context()
	stats, err := s.store.ProcessingStats(ctx)
	if err != nil {
		return err
	}
	var total int64
	for _, n := range stats {
		total += n
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"total_items": total,
		"by_status":   stats,
	})
}
