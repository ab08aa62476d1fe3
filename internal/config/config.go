package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Extraction（外部AI抽出パイプライン）
	ExtractorURL      string
	ExtractionTimeout time.Duration

	// Dispatch
	DispatchInterval      time.Duration
	DispatchMaxConcurrent int
	DeliveryTimeout       time.Duration
	ReminderMaxItems      int

	// Push (VAPID)
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	// Push subscription
	MaxSubscriptionsPerUser int

	// Rate Limit
	RateLimitGeneral  int
	RateLimitRegister int

	// Cleanup
	FailedExtractionRetentionDays int

	// Server
	ServerPort        string
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.ExtractorURL = os.Getenv("EXTRACTOR_URL")
	if cfg.ExtractorURL == "" {
		missing = append(missing, "EXTRACTOR_URL")
	}

	cfg.VAPIDPublicKey = os.Getenv("VAPID_PUBLIC_KEY")
	if cfg.VAPIDPublicKey == "" {
		missing = append(missing, "VAPID_PUBLIC_KEY")
	}

	cfg.VAPIDPrivateKey = os.Getenv("VAPID_PRIVATE_KEY")
	if cfg.VAPIDPrivateKey == "" {
		missing = append(missing, "VAPID_PRIVATE_KEY")
	}

	cfg.VAPIDSubject = os.Getenv("VAPID_SUBJECT")
	if cfg.VAPIDSubject == "" {
		missing = append(missing, "VAPID_SUBJECT")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ExtractionTimeout = getEnvDuration("EXTRACTION_TIMEOUT", 120*time.Second)
	cfg.DispatchInterval = getEnvDuration("DISPATCH_INTERVAL", 15*time.Minute)
	cfg.DispatchMaxConcurrent = getEnvInt("DISPATCH_MAX_CONCURRENT", 10)
	cfg.DeliveryTimeout = getEnvDuration("DELIVERY_TIMEOUT", 10*time.Second)
	cfg.ReminderMaxItems = getEnvInt("REMINDER_MAX_ITEMS", 5)
	cfg.MaxSubscriptionsPerUser = getEnvInt("MAX_SUBSCRIPTIONS_PER_USER", 10)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitRegister = getEnvInt("RATE_LIMIT_REGISTER", 10)
	cfg.FailedExtractionRetentionDays = getEnvInt("FAILED_EXTRACTION_RETENTION_DAYS", 7)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
