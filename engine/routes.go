package engine

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/drummonds/pagextract/config"
	"github.com/drummonds/pagextract/database"
	"github.com/drummonds/pagextract/engine/extractor"
	"github.com/drummonds/pagextract/internal/build"
	"github.com/labstack/echo/v4"
)

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	DB           database.Repository
	Echo         *echo.Echo
	ServerConfig config.ServerConfig
	Runs         *RunManager

	ingesting atomic.Bool
}

// AddRoutes registers the API on the handler's echo instance
func (serverHandler *ServerHandler) AddRoutes() {
	api := serverHandler.Echo.Group("/api")
	api.GET("/health", serverHandler.Health)
	api.GET("/about", serverHandler.GetAboutInfo)
	api.POST("/ingest", serverHandler.RunIngestNow)

	api.POST("/runs", serverHandler.StartRun)
	api.GET("/runs", serverHandler.GetRecentRuns)
	api.GET("/runs/active", serverHandler.GetActiveRuns)
	api.GET("/runs/:id", serverHandler.GetRun)
	api.GET("/runs/:id/pages", serverHandler.GetRunPages)
	api.POST("/runs/:id/pause", serverHandler.PauseRun)
	api.POST("/runs/:id/resume", serverHandler.ResumeRun)
	api.POST("/runs/:id/stop", serverHandler.StopRun)
}

type startRunRequest struct {
	Path string `json:"path"`
}

// StartRun begins rendering a document
// @Summary Start an extraction run
// @Description Opens a PDF and renders every page in the background. Relative paths are resolved against the ingress folder.
// @Tags Runs
// @Accept json
// @Produce json
// @Param request body startRunRequest true "Document to render"
// @Success 202 {object} database.Run "Run accepted"
// @Failure 400 {object} map[string]interface{} "Missing or unreadable document"
// @Failure 422 {object} map[string]interface{} "Document could not be opened"
// @Failure 503 {object} map[string]interface{} "Every run slot is taken"
// @Router /runs [post]
func (serverHandler *ServerHandler) StartRun(c echo.Context) error {
	var request startRunRequest
	if err := c.Bind(&request); err != nil || request.Path == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "A document path is required",
		})
	}

	path := request.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(serverHandler.ServerConfig.IngressPath, path)
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Document not found",
			"path":  path,
		})
	}

	run, err := serverHandler.Runs.Start(path)
	if err != nil {
		if errors.Is(err, ErrTooManyRuns) {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"error": err.Error(),
			})
		}
		if run != nil {
			return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
				"error": err.Error(),
				"run":   run,
			})
		}
		Logger.Error("Failed to start run", "path", path, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to start run",
		})
	}
	return c.JSON(http.StatusAccepted, run)
}

// Health reports that the server is up
// @Summary Health check
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string "Service healthy"
// @Router /health [get]
func (serverHandler *ServerHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "pagextract",
	})
}

// GetAboutInfo returns information about the running server
// @Summary Get server information
// @Description Version, render backend and database details
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{} "Server information"
// @Router /about [get]
func (serverHandler *ServerHandler) GetAboutInfo(c echo.Context) error {
	capacity := serverHandler.ServerConfig.MaxConcurrency
	if capacity <= 0 {
		capacity = extractor.HostCapacity()
	}

	aboutInfo := map[string]interface{}{
		"version":        build.Version,
		"renderBackend":  serverHandler.Runs.Backend().Name(),
		"renderDPI":      serverHandler.ServerConfig.RenderDPI,
		"maxConcurrency": capacity,
		"maxRuns":        maxRuns(serverHandler.ServerConfig),
		"databaseType":   serverHandler.ServerConfig.DatabaseType,
		"databaseHost":   serverHandler.ServerConfig.DatabaseHost,
		"databasePort":   serverHandler.ServerConfig.DatabasePort,
		"databaseName":   serverHandler.ServerConfig.DatabaseDbname,
		"ingressPath":    serverHandler.ServerConfig.IngressPath,
		"outputPath":     serverHandler.ServerConfig.OutputPath,
	}

	return c.JSON(http.StatusOK, aboutInfo)
}

// RunIngestNow triggers an ingress scan straight away
// @Summary Run ingestion now
// @Description Scans the ingress folder and starts a run for every PDF found
// @Tags System
// @Produce json
// @Success 202 {object} map[string]interface{} "Ingestion started"
// @Failure 409 {object} map[string]interface{} "Ingestion already running"
// @Router /ingest [post]
func (serverHandler *ServerHandler) RunIngestNow(c echo.Context) error {
	Logger.Info("Manual ingestion triggered via API")
	if serverHandler.ingesting.Load() {
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error": "Ingestion already running",
		})
	}

	// Run ingestion in a goroutine so we can return immediately
	go serverHandler.ingressJobFunc(serverHandler.ServerConfig)

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "Ingestion started",
	})
}

// controlError maps a run control failure onto a response
func controlError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrRunNotLive):
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "Run is not executing",
		})
	case errors.Is(err, ErrControlTimeout):
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error": "Run did not accept the request",
		})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
	}
}
