package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ServerConfig contains all of the server settings
type ServerConfig struct {
	ListenAddrIP     string
	ListenAddrPort   string
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string `json:"-"`
	DatabaseDbname   string
	DatabaseSslmode  string
	IngressPath      string
	IngressDelete    bool
	IngressInterval  int    // minutes between ingress scans
	OutputPath       string // rendered pages go under OutputPath/<run id>
	RenderBackend    string // fitz | pdfium
	RenderDPI        float64
	MaxConcurrency   int // 0 sizes the pool from the host
	MaxRuns          int // runs rendering at once, each needs MaxConcurrency+1 render instances
	ResultBuffer     int
	OutputWidth      int    // 0 keeps the rendered width
	TraceExporter    string // none | stdout
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil || floatVal <= 0 {
		return defaultValue
	}
	return floatVal
}

func absPath(key, defaultValue string, logger *slog.Logger) string {
	rel := filepath.ToSlash(getEnv(key, defaultValue))
	abs, err := filepath.Abs(rel)
	if err != nil {
		logger.Error("Failed creating absolute path", "key", key, "path", rel, "error", err)
		return rel
	}
	return abs
}

// SetupServer loads configuration and returns ServerConfig and Logger
func SetupServer() (ServerConfig, *slog.Logger) {
	serverConfigLive := ServerConfig{}

	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	// Server configuration
	serverConfigLive.ListenAddrPort = getEnv("SERVER_PORT", "8000")
	serverConfigLive.ListenAddrIP = getEnv("SERVER_ADDR", "")

	// Database configuration
	serverConfigLive.DatabaseType = getEnv("DATABASE_TYPE", "sqlite")
	serverConfigLive.DatabaseHost = getEnv("DATABASE_HOST", "localhost")
	serverConfigLive.DatabasePort = getEnv("DATABASE_PORT", "5432")
	serverConfigLive.DatabaseUser = getEnv("DATABASE_USER", "pagextract")
	serverConfigLive.DatabasePassword = getEnv("DATABASE_PASSWORD", "")
	serverConfigLive.DatabaseDbname = getEnv("DATABASE_NAME", "databases/pagextract.db")
	serverConfigLive.DatabaseSslmode = getEnv("DATABASE_SSLMODE", "disable")

	logger.Info("Database configuration loaded", "type", serverConfigLive.DatabaseType)

	// Ingress configuration
	serverConfigLive.IngressPath = absPath("INGRESS_PATH", "ingress", logger)
	serverConfigLive.IngressInterval = getEnvInt("INGRESS_INTERVAL", 10)
	serverConfigLive.IngressDelete = getEnvBool("INGRESS_DELETE", false)

	// Render configuration
	serverConfigLive.OutputPath = absPath("OUTPUT_PATH", "output", logger)
	serverConfigLive.RenderBackend = getEnv("RENDER_BACKEND", "pdfium")
	serverConfigLive.RenderDPI = getEnvFloat("RENDER_DPI", 432)
	serverConfigLive.MaxConcurrency = getEnvInt("MAX_CONCURRENCY", 0)
	serverConfigLive.MaxRuns = getEnvInt("MAX_RUNS", 2)
	serverConfigLive.ResultBuffer = getEnvInt("RESULT_BUFFER", 100)
	serverConfigLive.OutputWidth = getEnvInt("OUTPUT_WIDTH", 0)
	serverConfigLive.TraceExporter = getEnv("TRACE_EXPORTER", "none")

	if err := checkWritableDir(serverConfigLive.OutputPath, logger); err != nil {
		logger.Warn("Output directory is not usable yet, startup checks will retry", "path", serverConfigLive.OutputPath, "error", err)
	}

	fmt.Println("Ingress Interval: ", serverConfigLive.IngressInterval)
	fmt.Println("\n========================================")
	fmt.Println("   pagextract - PDF Page Extraction Service")
	fmt.Println("========================================")
	fmt.Printf("Server will start on: %s:%s\n", serverConfigLive.ListenAddrIP, serverConfigLive.ListenAddrPort)
	if serverConfigLive.ListenAddrIP == "" {
		fmt.Println("(Listening on all network interfaces)")
	}
	fmt.Printf("Render backend: %s at %.0f DPI\n", serverConfigLive.RenderBackend, serverConfigLive.RenderDPI)
	fmt.Printf("Detailed logs: %s\n", getEnv("LOG_FILE", "pagextract.log"))
	fmt.Println("Initializing...")

	logger.Info("Render configuration loaded",
		"backend", serverConfigLive.RenderBackend,
		"dpi", serverConfigLive.RenderDPI,
		"maxConcurrency", serverConfigLive.MaxConcurrency,
		"maxRuns", serverConfigLive.MaxRuns,
		"resultBuffer", serverConfigLive.ResultBuffer)
	logger.Info("About to setup database", "type", serverConfigLive.DatabaseType)

	return serverConfigLive, logger
}

// SetupCLI loads the render settings for a one-shot extraction. Logging goes
// to stdout unless LOG_OUTPUT says otherwise.
func SetupCLI() (ServerConfig, *slog.Logger) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	if os.Getenv("LOG_OUTPUT") == "" {
		os.Setenv("LOG_OUTPUT", "stdout")
	}
	if os.Getenv("LOG_LEVEL") == "" {
		os.Setenv("LOG_LEVEL", "info")
	}
	logger := setupLogging()
	Logger = logger

	cfg := ServerConfig{
		OutputPath:     absPath("OUTPUT_PATH", "output", logger),
		RenderBackend:  getEnv("RENDER_BACKEND", "pdfium"),
		RenderDPI:      getEnvFloat("RENDER_DPI", 432),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 0),
		MaxRuns:        1,
		ResultBuffer:   getEnvInt("RESULT_BUFFER", 100),
		OutputWidth:    getEnvInt("OUTPUT_WIDTH", 0),
		TraceExporter:  getEnv("TRACE_EXPORTER", "none"),
	}
	return cfg, logger
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "debug")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelDebug
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", "file")
	var logWriter io.Writer

	if logOutput == "stdout" {
		logWriter = os.Stdout
	} else {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "pagextract.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}

// GetPreferredOutboundIP gets preferred outbound IP of this machine
func GetPreferredOutboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP, nil
}

// checkWritableDir verifies that path is a directory we can create files in,
// creating it if it is missing
func checkWritableDir(path string, logger *slog.Logger) error {
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		logger.Error("Cannot create directory", "path", path, "error", err)
		return err
	}
	check, err := os.CreateTemp(path, ".writecheck-*")
	if err != nil {
		logger.Error("Directory is not writable", "path", path, "error", err)
		return err
	}
	name := check.Name()
	check.Close()
	os.Remove(name)
	logger.Debug("Directory is writable", "path", path)
	return nil
}
