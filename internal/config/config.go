package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port          int
	DatabaseURL   string
	RedisURL      string // optional; billing-check cache is disabled when empty
	APISecret     string // commerce-platform shared secret (proxy signatures, session tokens, webhooks)
	EncryptionKey string // 32 bytes, AES-GCM for platform tokens at rest
	CORSOrigins   []string

	// Vendor (image generation)
	VendorBaseURL string
	VendorAPIKey  string

	// Commerce-platform admin API (usage billing)
	PlatformBaseURL string

	// Object storage
	S3Bucket    string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string // optional, for S3-compatible services
	S3BaseURL   string // optional public URL base

	// Try-on job parameters
	CreditCost      int           // credits reserved per try-on job
	TrialCredits    int           // granted on first store upsert
	PollInterval    time.Duration // spacing between vendor polls
	MaxPollAttempts int           // poll budget before timing out a job
	UploadMaxBytes  int64         // per-part multipart limit
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	port, _ := strconv.Atoi(getEnv("PORT", "4001"))

	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	apiSecret := getEnv("PLATFORM_API_SECRET", "")
	if apiSecret == "" {
		return nil, fmt.Errorf("PLATFORM_API_SECRET is required")
	}

	encKey := getEnv("ENCRYPTION_KEY", "")
	if encKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required (must be exactly 32 bytes)")
	}
	if len(encKey) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(encKey))
	}

	vendorKey := getEnv("VENDOR_API_KEY", "")
	if vendorKey == "" {
		return nil, fmt.Errorf("VENDOR_API_KEY is required")
	}

	bucket := getEnv("S3_BUCKET", "")
	if bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required")
	}

	origins := strings.Split(getEnv("CORS_ORIGINS", "*"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	creditCost, _ := strconv.Atoi(getEnv("CREDIT_COST", "1"))
	if creditCost <= 0 {
		return nil, fmt.Errorf("CREDIT_COST must be a positive integer")
	}
	trialCredits, _ := strconv.Atoi(getEnv("TRIAL_CREDITS", "15"))
	pollIntervalSec, _ := strconv.Atoi(getEnv("POLL_INTERVAL_SECONDS", "6"))
	maxAttempts, _ := strconv.Atoi(getEnv("MAX_POLL_ATTEMPTS", "40"))
	uploadMax, _ := strconv.ParseInt(getEnv("UPLOAD_MAX_BYTES", "10000000"), 10, 64)

	return &Config{
		Port:            port,
		DatabaseURL:     dbURL,
		RedisURL:        getEnv("REDIS_URL", ""),
		APISecret:       apiSecret,
		EncryptionKey:   encKey,
		CORSOrigins:     origins,
		VendorBaseURL:   getEnv("VENDOR_BASE_URL", "https://api.sellerpic.ai/v1/api"),
		VendorAPIKey:    vendorKey,
		PlatformBaseURL: getEnv("PLATFORM_BASE_URL", ""),
		S3Bucket:        bucket,
		S3Region:        getEnv("AWS_REGION", "us-east-1"),
		S3AccessKey:     getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:     getEnv("AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3BaseURL:       getEnv("S3_BASE_URL", ""),
		CreditCost:      creditCost,
		TrialCredits:    trialCredits,
		PollInterval:    time.Duration(pollIntervalSec) * time.Second,
		MaxPollAttempts: maxAttempts,
		UploadMaxBytes:  uploadMax,
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
