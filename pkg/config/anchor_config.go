// Copyright 2025 Ceramic Network
//
// Anchor Policy Loader
//
// Optional YAML layer over the duration/threshold constants that govern
// batch readiness, gas, and blob storage. Config.Load() (config.go) reads
// the required connection/secret settings from the environment; this file
// lets operators additionally supply a YAML policy file for the numeric
// knobs that are easier to review as a single document than as scattered
// env vars. ${VAR_NAME} references in the file are substituted from the
// environment before parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// AnchorPolicy holds the tunable thresholds for one anchor-worker deployment.
type AnchorPolicy struct {
	Environment string `yaml:"environment"`

	Batch     BatchPolicy     `yaml:"batch"`
	Gas       GasPolicy       `yaml:"gas"`
	Scheduler SchedulerPolicy `yaml:"scheduler"`
	BlobStore BlobStorePolicy `yaml:"blobStore"`
}

// BatchPolicy mirrors the Batch Readiness (C8) constants of spec.md §4.1/§4.8.
type BatchPolicy struct {
	MaxAnchoringDelay  Duration `yaml:"maxAnchoringDelay"`
	ProcessingTimeout  Duration `yaml:"processingTimeout"`
	ReadyTimeout       Duration `yaml:"readyTimeout"`
	FailureRetryWindow Duration `yaml:"failureRetryWindow"`
	GarbageCollectExpiry Duration `yaml:"garbageCollectExpiry"`
	MaxStreamLimit     int      `yaml:"maxStreamLimit"`
	MinStreamLimit     int      `yaml:"minStreamLimit"`
	MerkleDepthLimit   int      `yaml:"merkleDepthLimit"`
	CandidateLimit     int      `yaml:"candidateLimit"`
}

// GasPolicy mirrors the Blockchain Client (C9) fee-bumping configuration.
type GasPolicy struct {
	OverrideGasConfig  bool    `yaml:"overrideGasConfig"`
	GasLimit           uint64  `yaml:"gasLimit"`
	MaxFeeBumpAttempts int     `yaml:"maxFeeBumpAttempts"`
	FeeBumpPercent     float64 `yaml:"feeBumpPercent"`
	TransactionTimeout Duration `yaml:"transactionTimeout"`
}

// SchedulerPolicy mirrors the Scheduler (C12) tick interval and the
// alertOnLongAnchorMs SLO alarm.
type SchedulerPolicy struct {
	Interval            Duration `yaml:"interval"`
	AlertOnLongAnchor   Duration `yaml:"alertOnLongAnchor"`
}

// BlobStorePolicy selects backends for the Merkle and witness CAR stores.
type BlobStorePolicy struct {
	MerkleBackend  string `yaml:"merkleBackend"`  // "memory" | "kv" | "s3"
	WitnessBackend string `yaml:"witnessBackend"` // "memory" | "kv" | "s3"
	S3Bucket       string `yaml:"s3Bucket"`
	S3Region       string `yaml:"s3Region"`
}

// Duration wraps time.Duration for YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// LoadAnchorPolicy loads policy configuration from a YAML file.
func LoadAnchorPolicy(path string) (*AnchorPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	var policy AnchorPolicy
	if err := yaml.Unmarshal([]byte(expanded), &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	policy.applyDefaults()
	return &policy, nil
}

func (p *AnchorPolicy) applyDefaults() {
	if p.Batch.MaxAnchoringDelay == 0 {
		p.Batch.MaxAnchoringDelay = Duration(5 * time.Minute)
	}
	if p.Batch.ProcessingTimeout == 0 {
		p.Batch.ProcessingTimeout = Duration(2 * time.Minute)
	}
	if p.Batch.ReadyTimeout == 0 {
		p.Batch.ReadyTimeout = Duration(10 * time.Minute)
	}
	if p.Batch.FailureRetryWindow == 0 {
		p.Batch.FailureRetryWindow = Duration(24 * time.Hour)
	}
	if p.Batch.GarbageCollectExpiry == 0 {
		p.Batch.GarbageCollectExpiry = Duration(7 * 24 * time.Hour)
	}
	if p.Batch.MaxStreamLimit == 0 {
		p.Batch.MaxStreamLimit = 1024
	}
	if p.Batch.MerkleDepthLimit == 0 {
		p.Batch.MerkleDepthLimit = 16
	}
	if p.Gas.GasLimit == 0 {
		p.Gas.GasLimit = 200_000
	}
	if p.Gas.MaxFeeBumpAttempts == 0 {
		p.Gas.MaxFeeBumpAttempts = 5
	}
	if p.Gas.FeeBumpPercent == 0 {
		p.Gas.FeeBumpPercent = 0.2
	}
	if p.Gas.TransactionTimeout == 0 {
		p.Gas.TransactionTimeout = Duration(5 * time.Minute)
	}
	if p.Scheduler.Interval == 0 {
		p.Scheduler.Interval = Duration(10 * time.Second)
	}
	if p.Scheduler.AlertOnLongAnchor == 0 {
		p.Scheduler.AlertOnLongAnchor = Duration(10 * time.Minute)
	}
	if p.BlobStore.MerkleBackend == "" {
		p.BlobStore.MerkleBackend = "memory"
	}
	if p.BlobStore.WitnessBackend == "" {
		p.BlobStore.WitnessBackend = "memory"
	}
}

// ApplyTo overrides the relevant fields of cfg with any non-zero value this
// policy carries, so a YAML policy file can refine an env-loaded Config.
func (p *AnchorPolicy) ApplyTo(cfg *Config) {
	cfg.MaxAnchoringDelayMS = int(p.Batch.MaxAnchoringDelay.Duration().Milliseconds())
	cfg.ProcessingTimeoutMS = int(p.Batch.ProcessingTimeout.Duration().Milliseconds())
	cfg.ReadyTimeoutMS = int(p.Batch.ReadyTimeout.Duration().Milliseconds())
	cfg.FailureRetryWindowMS = int(p.Batch.FailureRetryWindow.Duration().Milliseconds())
	cfg.GarbageCollectExpiryMS = int(p.Batch.GarbageCollectExpiry.Duration().Milliseconds())
	if p.Batch.MaxStreamLimit > 0 {
		cfg.MaxStreamLimit = p.Batch.MaxStreamLimit
	}
	if p.Batch.MinStreamLimit > 0 {
		cfg.MinStreamLimit = p.Batch.MinStreamLimit
	}
	if p.Batch.MerkleDepthLimit > 0 {
		cfg.MerkleDepthLimit = p.Batch.MerkleDepthLimit
	}
	if p.Batch.CandidateLimit > 0 {
		cfg.CandidateLimit = p.Batch.CandidateLimit
	}

	if p.Gas.OverrideGasConfig {
		cfg.OverrideGasConfig = true
	}
	if p.Gas.GasLimit > 0 {
		cfg.GasLimit = p.Gas.GasLimit
	}
	if p.Gas.MaxFeeBumpAttempts > 0 {
		cfg.MaxFeeBumpAttempts = p.Gas.MaxFeeBumpAttempts
	}
	if p.Gas.FeeBumpPercent > 0 {
		cfg.FeeBumpPercent = p.Gas.FeeBumpPercent
	}
	cfg.TransactionTimeoutSecs = int(p.Gas.TransactionTimeout.Duration().Seconds())

	cfg.SchedulerIntervalMS = int(p.Scheduler.Interval.Duration().Milliseconds())
	cfg.AlertOnLongAnchorMs = int(p.Scheduler.AlertOnLongAnchor.Duration().Milliseconds())

	if p.BlobStore.MerkleBackend != "" {
		cfg.MerkleBlobBackend = p.BlobStore.MerkleBackend
	}
	if p.BlobStore.WitnessBackend != "" {
		cfg.WitnessBlobBackend = p.BlobStore.WitnessBackend
	}
	if p.BlobStore.S3Bucket != "" {
		cfg.S3Bucket = p.BlobStore.S3Bucket
	}
	if p.BlobStore.S3Region != "" {
		cfg.S3Region = p.BlobStore.S3Region
	}
}
