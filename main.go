package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	config "github.com/drummonds/pagextract/config"
	database "github.com/drummonds/pagextract/database"
	engine "github.com/drummonds/pagextract/engine"
	"github.com/drummonds/pagextract/engine/extractor"
	"github.com/drummonds/pagextract/engine/pdfrenderer"
	"github.com/drummonds/pagextract/internal/telemetry"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	database.Logger = Logger
	config.Logger = Logger
	engine.Logger = Logger
	extractor.Logger = Logger
	pdfrenderer.Logger = Logger
	telemetry.Logger = Logger
}

func main() {
	serverConfig, logger := config.SetupServer()
	injectGlobals(logger) //inject the logger into all of the packages

	shutdownTracing, err := telemetry.Setup(serverConfig.TraceExporter, "pagextract", os.Stdout)
	if err != nil {
		Logger.Error("Failed to set up tracing", "error", err)
		os.Exit(1)
	}

	// Show info banner if using ephemeral database
	if serverConfig.DatabaseType == "ephemeral" {
		fmt.Println("\n" + strings.Repeat("=", 50))
		fmt.Println("🚀  EPHEMERAL DATABASE MODE")
		fmt.Println(strings.Repeat("=", 50))
		fmt.Println("• Run history will be destroyed on exit")
		fmt.Println("• Perfect for testing and development")
		fmt.Println(strings.Repeat("=", 50) + "\n")
	}

	// Setup database (handles ephemeral, postgres, cockroachdb, sqlite)
	Logger.Info("Setting up database", "type", serverConfig.DatabaseType)
	db, err := database.NewRepository(serverConfig)
	if err != nil {
		Logger.Error("Failed to set up database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	Logger.Info("Database setup complete")
	database.WriteConfigToDB(serverConfig, db) //writing the config to the database
	Logger.Info("Config written to DB")

	backend, err := pdfrenderer.NewBackend(serverConfig.RenderBackend, pdfrenderer.Config{
		DPI:          serverConfig.RenderDPI,
		MaxInstances: engine.RenderInstances(serverConfig),
	})
	if err != nil {
		Logger.Error("Failed to create render backend", "backend", serverConfig.RenderBackend, "error", err)
		os.Exit(1)
	}
	defer backend.Close()
	runs := engine.NewRunManager(db, backend, serverConfig)

	e := newEcho()
	Logger.Info("Echo created")

	serverHandler := &engine.ServerHandler{DB: db, Echo: e, ServerConfig: serverConfig, Runs: runs} //injecting the database into the handler for routes
	Logger.Info("Running startup checks")
	if err := serverHandler.StartupChecks(); err != nil {
		Logger.Error("Startup checks failed", "error", err)
		os.Exit(1)
	}
	Logger.Info("Startup checks complete, about to initialize schedules")
	scheduler := serverHandler.InitializeSchedules() //initialize all the cron jobs
	e.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))

	//Start the API routes - all under /api/* prefix for clarity
	serverHandler.AddRoutes()

	// Rendered pages are served straight from the output folder
	e.Static("/output", serverConfig.OutputPath)

	if serverConfig.ListenAddrIP == "" {
		Logger.Info("No Ip Addr set, binding on ALL addresses")
		if ip, err := config.GetPreferredOutboundIP(); err == nil {
			Logger.Info("Reachable on", "url", fmt.Sprintf("http://%s:%s", ip, serverConfig.ListenAddrPort))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	Logger.Info("Starting HTTP server")
	go startServer(e, serverConfig)

	<-ctx.Done()
	Logger.Info("Shutting down")
	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		Logger.Error("HTTP server shutdown failed", "error", err)
	}
	if err := runs.Shutdown(shutdownCtx); err != nil {
		Logger.Error("Runs did not finish before shutdown deadline", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		Logger.Error("Failed to flush traces", "error", err)
	}
}

// newEcho creates the echo instance with JSON 404s for the API
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Custom 404 handler
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}

		if code == http.StatusNotFound && strings.HasPrefix(c.Request().URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, map[string]string{
				"error":   "Not Found",
				"message": "The requested API endpoint does not exist",
				"path":    c.Request().URL.Path,
			})
			return
		}

		// For other errors, use default handler
		e.DefaultHTTPErrorHandler(err, c)
	}
	return e
}

// startServer tries to start the server, moving to the next port if the
// configured one is in use
func startServer(e *echo.Echo, serverConfig config.ServerConfig) {
	maxRetries := 5
	startPort := serverConfig.ListenAddrPort
	var startErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		addr := fmt.Sprintf("%s:%s", serverConfig.ListenAddrIP, serverConfig.ListenAddrPort)
		Logger.Info("Attempting to start server", "address", addr, "attempt", attempt+1)

		startErr = e.Start(addr)

		// Check if error is "address already in use"
		if startErr != nil && isAddressInUse(startErr) {
			Logger.Warn("Port already in use, trying next port",
				"port", serverConfig.ListenAddrPort,
				"attempt", attempt+1,
				"max_attempts", maxRetries)

			// Increment port for next attempt
			portNum := 0
			fmt.Sscanf(serverConfig.ListenAddrPort, "%d", &portNum)
			portNum++
			serverConfig.ListenAddrPort = fmt.Sprintf("%d", portNum)

			if attempt == maxRetries-1 {
				Logger.Error("Failed to find available port after maximum retries",
					"start_port", startPort,
					"end_port", serverConfig.ListenAddrPort,
					"max_retries", maxRetries)
				os.Exit(1)
			}
			continue
		}
		if startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
			Logger.Error("Failed to start server", "error", startErr)
			os.Exit(1)
		}
		break
	}

	if serverConfig.ListenAddrPort != startPort {
		Logger.Warn("Server started on alternative port due to conflicts",
			"requested_port", startPort,
			"actual_port", serverConfig.ListenAddrPort)
	}
}

// isAddressInUse checks if the error is due to address already in use
func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "address already in use")
}
