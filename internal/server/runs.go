package server

import (
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/datatales/storyteller/internal/history"
)

// RunsHandler exposes recorded search runs: the run index, full snapshot
// history, and the live in-progress snapshot when Redis is available.
type RunsHandler struct {
	store  *history.Store
	live   *history.RedisRecorder
	logger *log.Logger
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/snapshots", h.snapshots)
	g.GET("/:id/live", h.liveSnapshot)
}

func (h *RunsHandler) list(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	runs, err := h.store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []history.RunRecord{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *RunsHandler) get(c echo.Context) error {
	id := c.Param("id")
	snap, ok, err := h.store.GetLatest(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *RunsHandler) snapshots(c echo.Context) error {
	id := c.Param("id")
	snaps, err := h.store.GetSnapshots(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if len(snaps) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, snaps)
}

// liveSnapshot prefers the Redis copy so running searches are visible before
// their Postgres rows settle, and falls back to the store.
func (h *RunsHandler) liveSnapshot(c echo.Context) error {
	id := c.Param("id")
	if h.live != nil {
		snap, ok, err := h.live.Latest(c.Request().Context(), id)
		if err != nil {
			h.logger.Printf("redis lookup for run %s failed: %v", id, err)
		} else if ok {
			return c.JSON(http.StatusOK, snap)
		}
	}
	snap, ok, err := h.store.GetLatest(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, snap)
}
