package main

import (
	"fmt"
	"os"

	"cdnbox/internal/config"
)

// loadConfig reads cdnbox.yaml, when one is found, and applies CDNBOX_*
// overrides. It returns the path that was loaded, or "" for none.
func loadConfig() (*config.Config, string, error) {
	path := config.Find(configFile)

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, path, fmt.Errorf("failed to load configuration from %s: %w", path, err)
		}
		cfg = loaded
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, path, err
	}

	return cfg, path, nil
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
