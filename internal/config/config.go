package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// GeminiConfig holds the external model settings. An empty APIKey disables Gemini and the local
// keyword-hash embedder is used alone.
type GeminiConfig struct {
	APIKey           string
	EmbeddingModel   string
	ClassifierModel  string
	Dimension        int
	EnableClassifier bool
}

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Gemini              GeminiConfig
	DataPath            string
	StoreBackend        string
	DBPath              string
	SnapshotPath        string
	TuningFile          string
	DefaultStandard     string
	MatchWorkers        int
	FileWorkers         int
	CommitTimeout       time.Duration
	NotifyWebhookURL    string
	EnableMermaidCharts bool
}

// Load loads the configuration from .env files and environment variables.
func Load() (*AppConfig, error) {
	// 1. Try to load from the executable's directory (highest priority for MCP servers)
	exePath, err := os.Executable()
	exeDir := ""
	if err == nil {
		exeDir = filepath.Dir(exePath)
		envPath := filepath.Join(exeDir, ".env")
		if err := godotenv.Load(envPath); err == nil {
			log.Debug().Str("path", envPath).Msg("Loaded configuration from binary directory")
		}
	}

	// 2. Fallback to current working directory (useful for development/go run)
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found in working directory, relying on environment variables or binary-relative .env")
	}

	// 3. Resolve Data Paths
	dataPath := os.Getenv("DATA_PATH")
	if dataPath == "" {
		if exeDir != "" {
			dataPath = exeDir
		} else {
			dataPath = "."
		}
	}

	backend := strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite))
	if backend != BackendSQLite && backend != BackendMemory {
		log.Warn().Str("backend", backend).Msg("Unknown STORE_BACKEND, using sqlite")
		backend = BackendSQLite
	}

	cfg := &AppConfig{
		Gemini: GeminiConfig{
			APIKey:           getEnv("GEMINI_API_KEY", ""),
			EmbeddingModel:   getEnv("GEMINI_EMBEDDING_MODEL", "gemini-embedding-001"),
			ClassifierModel:  getEnv("GEMINI_CLASSIFIER_MODEL", "gemini-2.0-flash"),
			Dimension:        getEnvInt("EMBEDDING_DIMENSION", 768),
			EnableClassifier: getEnvBool("ENABLE_CLASSIFIER", true),
		},
		DataPath:            dataPath,
		StoreBackend:        backend,
		DBPath:              getEnv("DB_PATH", filepath.Join(dataPath, "esg.db")),
		SnapshotPath:        getEnv("SNAPSHOT_PATH", filepath.Join(dataPath, "esg-state.json")),
		TuningFile:          getEnv("ESG_TUNING_FILE", filepath.Join(dataPath, "tuning.yaml")),
		DefaultStandard:     strings.ToUpper(getEnv("DEFAULT_STANDARD", "ISSB")),
		MatchWorkers:        getEnvInt("MATCH_WORKERS", 4),
		FileWorkers:         getEnvInt("FILE_WORKERS", 2),
		CommitTimeout:       time.Duration(getEnvInt("COMMIT_TIMEOUT_SECONDS", 10)) * time.Second,
		NotifyWebhookURL:    getEnv("NOTIFY_WEBHOOK_URL", ""),
		EnableMermaidCharts: getEnvBool("ENABLE_MERMAID_CHARTS", false),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && n > 0 {
			return n
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Ignoring invalid integer setting")
	}
	return fallback
}
