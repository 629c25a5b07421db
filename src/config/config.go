package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"cross-matching-engine/src/engine"
)

type Config struct {
	HTTPAddr       string
	ActiveBookFile string
	HistoryDir     string
	// LogFile is empty when logs go to stdout only.
	LogFile     string
	BookDepth   int
	CORSOrigins []string
}

func Default() Config {
	return Config{
		HTTPAddr:       ":8080",
		ActiveBookFile: "data/active_book.json",
		HistoryDir:     "data/history",
		BookDepth:      engine.DefaultBookDepth,
		CORSOrigins:    []string{"http://localhost:3000"},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("ACTIVE_BOOK_FILE"); v != "" {
		cfg.ActiveBookFile = v
	}
	if v := os.Getenv("HISTORY_DIR"); v != "" {
		cfg.HistoryDir = v
	}
	cfg.LogFile = os.Getenv("LOG_FILE")

	if v := os.Getenv("BOOK_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BookDepth = n
		}
	}

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORSOrigins = origins
	}

	return cfg
}
