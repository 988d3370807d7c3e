package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Port    string
	SealKey string
	Backend BackendConfig
	Browser BrowserConfig
	Cache   CacheConfig
	AI      AIConfig
}

// BackendConfig holds the Odoo backend connection settings. The RPC
// credentials are optional; without them post-sync verification is off.
type BackendConfig struct {
	URL         string
	Token       string
	Database    string
	RPCUser     string
	RPCPassword string
	FetchDays   int
	BatchSize   int
}

// BrowserConfig holds the DevTools attachment settings
type BrowserConfig struct {
	DevToolsURL  string
	FetchTimeout time.Duration
}

// CacheConfig holds the local cache settings
type CacheConfig struct {
	Path string
}

// AIConfig holds the optional Gemini classifier settings
type AIConfig struct {
	GeminiAPIKey string
	GeminiModel  string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:    getEnv("PORT", "3080"),
		SealKey: getEnv("SEAL_KEY", ""),
		Backend: BackendConfig{
			URL:         os.Getenv("ODOO_URL"),
			Token:       os.Getenv("ODOO_EXTENSION_TOKEN"),
			Database:    os.Getenv("ODOO_DB"),
			RPCUser:     os.Getenv("ODOO_RPC_USER"),
			RPCPassword: os.Getenv("ODOO_RPC_PASSWORD"),
			FetchDays:   getEnvInt("FETCH_DAYS", 30),
			BatchSize:   getEnvInt("SYNC_BATCH_SIZE", 5),
		},
		Browser: BrowserConfig{
			DevToolsURL:  getEnv("DEVTOOLS_URL", "http://127.0.0.1:9222"),
			FetchTimeout: time.Duration(getEnvInt("FETCH_TIMEOUT_SEC", 600)) * time.Second,
		},
		Cache: CacheConfig{
			Path: getEnv("CACHE_PATH", "./collector.db"),
		},
		AI: AIConfig{
			GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
			GeminiModel:  getEnv("GEMINI_MODEL", "gemini-3-flash-preview"),
		},
	}, nil
}

// getEnv gets an environment variable with a fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a fallback default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
