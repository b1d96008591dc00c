package engine

import (
	"fmt"
	"os"
)

// StartupChecks performs all the checks to make sure everything works
func (serverHandler *ServerHandler) StartupChecks() error {
	serverConfig := serverHandler.ServerConfig
	if err := directoryChecks("ingress", serverConfig.IngressPath); err != nil {
		return err
	}
	if err := directoryChecks("output", serverConfig.OutputPath); err != nil {
		return err
	}
	Logger.Info("Render backend ready", "backend", serverHandler.Runs.Backend().Name(), "dpi", serverConfig.RenderDPI)
	return nil
}

// directoryChecks ensures a configured directory exists, creating it if needed
func directoryChecks(name, path string) error {
	if path == "" {
		Logger.Warn("Path not configured", "directory", name)
		return nil
	}

	// Check if directory exists
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			Logger.Info("Creating directory", "directory", name, "path", path)
			if err := os.MkdirAll(path, 0755); err != nil {
				Logger.Error("Failed to create directory", "directory", name, "path", path, "error", err)
				return err
			}
			return nil
		}
		Logger.Error("Error checking directory", "directory", name, "path", path, "error", err)
		return err
	}

	// Check if it's actually a directory
	if !info.IsDir() {
		Logger.Error("Path exists but is not a directory", "directory", name, "path", path)
		return fmt.Errorf("%s path is not a directory: %s", name, path)
	}

	Logger.Info("Directory exists", "directory", name, "path", path)
	return nil
}
