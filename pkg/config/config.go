// Copyright 2025 Ceramic Network
//
// Config holds environment-derived configuration for the anchor worker.
// YAML policy overrides for the anchoring pipeline's duration/threshold
// constants live in anchor_config.go; this file covers connection and
// deployment settings that are naturally per-environment secrets/endpoints.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all environment-derived configuration for the anchor worker.
type Config struct {
	// Blockchain
	EthereumURL           string
	EthChainID            int64
	EthPrivateKey         string
	AnchorContractAddress string
	UseSmartContractAnchors bool
	TransactionTimeoutSecs int
	OverrideGasConfig      bool
	GasLimit               uint64
	MaxFeeBumpAttempts     int
	FeeBumpPercent         float64

	// Database (Postgres via lib/pq)
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int // seconds
	DatabaseMaxLifetime int // seconds

	// Blob store backend selection: "memory", "kv", or "s3".
	MerkleBlobBackend  string
	WitnessBlobBackend string
	S3Bucket           string
	S3Region           string

	// Queue Consumer (C11): SQS queue URL; empty means DB-mode polling only.
	QueueURL string
	AWSRegion string

	// Scheduler (C12)
	SchedulerIntervalMS int

	// Batch Readiness (C8) policy thresholds, in milliseconds.
	MaxAnchoringDelayMS  int
	ProcessingTimeoutMS  int
	ReadyTimeoutMS       int
	FailureRetryWindowMS int
	GarbageCollectExpiryMS int

	// Candidate Selector / Merkle Tree Builder
	MaxStreamLimit   int
	MinStreamLimit   int
	MerkleDepthLimit int
	CandidateLimit   int

	// Observability SLO alarm threshold.
	AlertOnLongAnchorMs int

	LogLevel string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		EthereumURL:             getEnv("ETHEREUM_URL", ""),
		EthChainID:              getEnvInt64("ETH_CHAIN_ID", 1),
		EthPrivateKey:           getEnv("ETH_PRIVATE_KEY", ""),
		AnchorContractAddress:   getEnv("ANCHOR_CONTRACT_ADDRESS", ""),
		UseSmartContractAnchors: getEnvBool("USE_SMART_CONTRACT_ANCHORS", true),
		TransactionTimeoutSecs:  getEnvInt("TRANSACTION_TIMEOUT_SECS", 300),
		OverrideGasConfig:       getEnvBool("OVERRIDE_GAS_CONFIG", false),
		GasLimit:                uint64(getEnvInt64("GAS_LIMIT", 200_000)),
		MaxFeeBumpAttempts:      getEnvInt("MAX_FEE_BUMP_ATTEMPTS", 5),
		FeeBumpPercent:          getEnvFloat("FEE_BUMP_PERCENT", 0.2),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvInt("DATABASE_MAX_IDLE_TIME", 300),
		DatabaseMaxLifetime: getEnvInt("DATABASE_MAX_LIFETIME", 3600),

		MerkleBlobBackend:  getEnv("MERKLE_BLOB_BACKEND", "memory"),
		WitnessBlobBackend: getEnv("WITNESS_BLOB_BACKEND", "memory"),
		S3Bucket:           getEnv("S3_BUCKET", ""),
		S3Region:           getEnv("S3_REGION", "us-east-1"),

		QueueURL:  getEnv("QUEUE_URL", ""),
		AWSRegion: getEnv("AWS_REGION", "us-east-1"),

		SchedulerIntervalMS: getEnvInt("SCHEDULER_INTERVAL_MS", 10_000),

		MaxAnchoringDelayMS:    getEnvInt("MAX_ANCHORING_DELAY_MS", 300_000),
		ProcessingTimeoutMS:    getEnvInt("PROCESSING_TIMEOUT_MS", 120_000),
		ReadyTimeoutMS:         getEnvInt("READY_TIMEOUT_MS", 600_000),
		FailureRetryWindowMS:   getEnvInt("FAILURE_RETRY_WINDOW_MS", 86_400_000),
		GarbageCollectExpiryMS: getEnvInt("GARBAGE_COLLECT_EXPIRY_MS", 604_800_000),

		MaxStreamLimit:   getEnvInt("MAX_STREAM_LIMIT", 1024),
		MinStreamLimit:   getEnvInt("MIN_STREAM_LIMIT", 1),
		MerkleDepthLimit: getEnvInt("MERKLE_DEPTH_LIMIT", 16),
		CandidateLimit:   getEnvInt("CANDIDATE_LIMIT", 0),

		AlertOnLongAnchorMs: getEnvInt("ALERT_ON_LONG_ANCHOR_MS", 600_000),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	var errs []string

	if c.EthereumURL == "" {
		errs = append(errs, "ETHEREUM_URL is required but not set")
	}
	if c.EthPrivateKey == "" {
		errs = append(errs, "ETH_PRIVATE_KEY is required but not set")
	}
	if c.UseSmartContractAnchors && c.AnchorContractAddress == "" {
		errs = append(errs, "ANCHOR_CONTRACT_ADDRESS is required when USE_SMART_CONTRACT_ANCHORS is true")
	}
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	}
	if c.MinStreamLimit > c.MaxStreamLimit {
		errs = append(errs, "MIN_STREAM_LIMIT must not exceed MAX_STREAM_LIMIT")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
