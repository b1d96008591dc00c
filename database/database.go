package database

import (
	"log/slog"
	"math/rand"
	"time"

	"github.com/drummonds/pagextract/config"
	"github.com/oklog/ulid/v2"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// Repository defines database operations
type Repository interface {
	Close() error
	SaveConfig(config *config.ServerConfig) error
	GetConfig() (*config.ServerConfig, error)
	// Run tracking methods
	CreateRun(path, backend string, pageCount int) (*Run, error)
	MarkRunStatus(runID ulid.ULID, status RunStatus) error
	RecordPageOutcome(outcome *PageOutcome) error
	CompleteRun(runID ulid.ULID, status RunStatus) error
	FailRun(runID ulid.ULID, errorMsg string) error
	GetRun(runID ulid.ULID) (*Run, error)
	GetRecentRuns(limit, offset int) ([]Run, error)
	GetActiveRuns() ([]Run, error)
	GetPageOutcomes(runID ulid.ULID) ([]PageOutcome, error)
	DeleteOldRuns(olderThan time.Duration) (int, error)
}

// FetchConfigFromDB pulls the stored server config, falling back to fallback
// when nothing has been saved yet
func FetchConfigFromDB(db Repository, fallback config.ServerConfig) config.ServerConfig {
	serverConfig, err := db.GetConfig()
	if err != nil || serverConfig == nil {
		Logger.Debug("No stored server config, using environment", "error", err)
		return fallback
	}
	return *serverConfig
}

// WriteConfigToDB stores the server config
func WriteConfigToDB(serverConfig config.ServerConfig, db Repository) {
	if err := db.SaveConfig(&serverConfig); err != nil {
		Logger.Error("Unable to write server config to database", "error", err)
	}
}

// CalculateUUID creates a time ordered id
func CalculateUUID(time time.Time) (ulid.ULID, error) {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.UnixNano())), 0)
	newULID, err := ulid.New(ulid.Timestamp(time), entropy)
	if err != nil {
		return newULID, err
	}
	return newULID, nil
}
