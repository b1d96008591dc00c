package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/drummonds/pagextract/database"
	"github.com/robfig/cron/v3"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// runRetention is how long finished runs stay in the database
const runRetention = 30 * 24 * time.Hour

// InitializeSchedules starts the ingress and cleanup cron jobs
func (serverHandler *ServerHandler) InitializeSchedules() *cron.Cron {
	serverConfig := database.FetchConfigFromDB(serverHandler.DB, serverHandler.ServerConfig)

	// Run ingress job immediately at startup in a goroutine
	Logger.Info("Running ingress job at startup")
	go serverHandler.ingressJobFunc(serverConfig)

	c := cron.New()
	var ingressJob cron.Job
	ingressJob = cron.FuncJob(func() { serverHandler.ingressJobFunc(serverConfig) })
	ingressJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(ingressJob) //ensure we don't kick off another if old one is still running
	if _, err := c.AddJob(fmt.Sprintf("@every %dm", max(serverConfig.IngressInterval, 1)), ingressJob); err != nil {
		Logger.Error("Unable to schedule ingress job", "error", err)
	}
	Logger.Info("Adding Ingress Job scheduler", "interval_minutes", serverConfig.IngressInterval)

	if _, err := c.AddFunc("@daily", serverHandler.cleanupJobFunc); err != nil {
		Logger.Error("Unable to schedule cleanup job", "error", err)
	}
	c.Start()
	return c
}

// cleanupJobFunc drops finished runs past their retention
func (serverHandler *ServerHandler) cleanupJobFunc() {
	deleted, err := serverHandler.DB.DeleteOldRuns(runRetention)
	if err != nil {
		Logger.Error("Failed to delete old runs", "error", err)
		return
	}
	Logger.Info("Old runs removed", "deleted", deleted)
}
