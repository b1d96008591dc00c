package engine

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/drummonds/pagextract/database"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

// GetRun retrieves a run by ID
// @Summary Get run by ID
// @Description Retrieve the status and page counters of a run
// @Tags Runs
// @Accept json
// @Produce json
// @Param id path string true "Run ID (ULID)"
// @Success 200 {object} database.Run "Run details"
// @Failure 400 {object} map[string]interface{} "Invalid run ID"
// @Failure 404 {object} map[string]interface{} "Run not found"
// @Router /runs/{id} [get]
func (serverHandler *ServerHandler) GetRun(c echo.Context) error {
	runID, err := ulid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid run ID format",
		})
	}

	run, err := serverHandler.DB.GetRun(runID)
	if err != nil {
		if !errors.Is(err, database.ErrRunNotFound) {
			Logger.Error("Failed to get run", "runID", runID, "error", err)
		}
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "Run not found",
		})
	}

	return c.JSON(http.StatusOK, run)
}

// GetRunPages retrieves the per page outcomes of a run
// @Summary Get page outcomes
// @Description Retrieve every recorded page outcome of a run in page order
// @Tags Runs
// @Produce json
// @Param id path string true "Run ID (ULID)"
// @Success 200 {array} database.PageOutcome "Page outcomes"
// @Failure 400 {object} map[string]interface{} "Invalid run ID"
// @Failure 404 {object} map[string]interface{} "Run not found"
// @Router /runs/{id}/pages [get]
func (serverHandler *ServerHandler) GetRunPages(c echo.Context) error {
	runID, err := ulid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid run ID format",
		})
	}
	if _, err := serverHandler.DB.GetRun(runID); err != nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "Run not found",
		})
	}

	pages, err := serverHandler.DB.GetPageOutcomes(runID)
	if err != nil {
		Logger.Error("Failed to get page outcomes", "runID", runID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to retrieve page outcomes",
		})
	}
	if pages == nil {
		pages = []database.PageOutcome{}
	}
	return c.JSON(http.StatusOK, pages)
}

// GetRecentRuns retrieves recent runs with pagination
// @Summary Get recent runs
// @Description Retrieve a list of recent runs with pagination
// @Tags Runs
// @Accept json
// @Produce json
// @Param limit query int false "Number of runs to return (default: 20)"
// @Param offset query int false "Offset for pagination (default: 0)"
// @Success 200 {array} database.Run "List of runs"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /runs [get]
func (serverHandler *ServerHandler) GetRecentRuns(c echo.Context) error {
	limit := 20
	offset := 0

	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := c.QueryParam("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	runs, err := serverHandler.DB.GetRecentRuns(limit, offset)
	if err != nil {
		Logger.Error("Failed to get recent runs", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to retrieve runs",
		})
	}

	if runs == nil {
		runs = []database.Run{}
	}

	return c.JSON(http.StatusOK, runs)
}

// GetActiveRuns retrieves the runs executing in this process
// @Summary Get active runs
// @Description Retrieve every run currently executing, with its live scheduler state
// @Tags Runs
// @Produce json
// @Success 200 {array} LiveRun "Active runs"
// @Router /runs/active [get]
func (serverHandler *ServerHandler) GetActiveRuns(c echo.Context) error {
	runs := serverHandler.Runs.Active()
	if runs == nil {
		runs = []LiveRun{}
	}
	return c.JSON(http.StatusOK, runs)
}

// PauseRun stops a run from scheduling further pages
// @Summary Pause a run
// @Description Pages already rendering finish; no new pages start until resumed
// @Tags Runs
// @Produce json
// @Param id path string true "Run ID (ULID)"
// @Success 202 {object} map[string]interface{} "Pause requested"
// @Failure 404 {object} map[string]interface{} "Run not executing"
// @Failure 409 {object} map[string]interface{} "Run already finished"
// @Router /runs/{id}/pause [post]
func (serverHandler *ServerHandler) PauseRun(c echo.Context) error {
	return serverHandler.controlRun(c, "pause", serverHandler.Runs.Pause)
}

// ResumeRun continues a paused run
// @Summary Resume a run
// @Tags Runs
// @Produce json
// @Param id path string true "Run ID (ULID)"
// @Success 202 {object} map[string]interface{} "Resume requested"
// @Failure 404 {object} map[string]interface{} "Run not executing"
// @Failure 409 {object} map[string]interface{} "Run already finished"
// @Router /runs/{id}/resume [post]
func (serverHandler *ServerHandler) ResumeRun(c echo.Context) error {
	return serverHandler.controlRun(c, "resume", serverHandler.Runs.Resume)
}

// StopRun aborts a run
// @Summary Stop a run
// @Description The run stops scheduling pages and is recorded as cancelled
// @Tags Runs
// @Produce json
// @Param id path string true "Run ID (ULID)"
// @Success 202 {object} map[string]interface{} "Stop requested"
// @Failure 404 {object} map[string]interface{} "Run not executing"
// @Failure 409 {object} map[string]interface{} "Run already finished"
// @Router /runs/{id}/stop [post]
func (serverHandler *ServerHandler) StopRun(c echo.Context) error {
	return serverHandler.controlRun(c, "stop", serverHandler.Runs.Stop)
}

func (serverHandler *ServerHandler) controlRun(c echo.Context, action string, send func(ulid.ULID) error) error {
	runID, err := ulid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid run ID format",
		})
	}

	if err := send(runID); err != nil {
		if errors.Is(err, ErrRunNotLive) {
			if run, dbErr := serverHandler.DB.GetRun(runID); dbErr == nil && run.Status.Terminal() {
				return c.JSON(http.StatusConflict, map[string]interface{}{
					"error":  "Run already finished",
					"status": run.Status,
				})
			}
		}
		return controlError(c, err)
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "Run " + action + " requested",
		"runId":   runID.String(),
	})
}
