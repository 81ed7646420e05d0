// Package config loads service settings from the environment, with an
// optional .env file for local-first development.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Settings holds everything the server needs at startup.
type Settings struct {
	DatabasePath     string
	LiveDatabasePath string
	Host             string
	Port             int
	CORSOrigins      []string
	MaxNonces        uint64
	ScanTimeoutMs    int
	IngestToken      string // empty disables the ingest token check
}

// Load reads settings from the environment. A missing .env file is fine.
func Load() Settings {
	_ = godotenv.Load()

	return Settings{
		DatabasePath:     getEnv("DATABASE_PATH", "pump.db"),
		LiveDatabasePath: getEnv("LIVE_DATABASE_PATH", "pump_live.db"),
		Host:             getEnv("API_HOST", "127.0.0.1"),
		Port:             getEnvInt("API_PORT", 8000),
		CORSOrigins:      splitCSV(getEnv("API_CORS_ORIGINS", "http://localhost:5173")),
		MaxNonces:        uint64(getEnvInt("MAX_NONCES", 500_000)),
		ScanTimeoutMs:    getEnvInt("SCAN_TIMEOUT_MS", 60_000),
		IngestToken:      os.Getenv("INGEST_TOKEN"),
	}
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(name string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(name))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
