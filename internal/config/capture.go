package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CaptureConfig is the root configuration for the capture pipeline. The
// schema matches the /api/config endpoint so the same JSON can be used for
// startup configuration and runtime inspection. All fields are pointers:
// fields omitted from the JSON file keep their defaults, so partial configs
// are safe.
type CaptureConfig struct {
	// Sampling params
	CaptureEvery    *int     `json:"capture_every,omitempty"`
	VictimThreshold *float64 `json:"victim_threshold,omitempty"`

	// Batching params
	BatchSize  *int `json:"batch_size,omitempty"`
	QueueDepth *int `json:"queue_depth,omitempty"`

	// Output params
	OutputDir       *string `json:"output_dir,omitempty"`
	TimestampSubdir *bool   `json:"timestamp_subdir,omitempty"`

	// Split selection probabilities. Must sum to 1 when all three are set.
	TrainRatio *float64 `json:"train_ratio,omitempty"`
	ValRatio   *float64 `json:"val_ratio,omitempty"`
	TestRatio  *float64 `json:"test_ratio,omitempty"`

	// Shutdown params
	ShutdownTimeout *string `json:"shutdown_timeout,omitempty"` // duration string like "10s"

	Verbose *bool `json:"verbose,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyCaptureConfig returns a CaptureConfig with all fields set to nil.
func EmptyCaptureConfig() *CaptureConfig {
	return &CaptureConfig{}
}

// LoadCaptureConfig loads a CaptureConfig from a JSON file. The file is
// validated to ensure it has a .json extension and is under the max file
// size.
func LoadCaptureConfig(path string) (*CaptureConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCaptureConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *CaptureConfig) Validate() error {
	if c.CaptureEvery != nil && *c.CaptureEvery < 1 {
		return fmt.Errorf("capture_every must be at least 1, got %d", *c.CaptureEvery)
	}

	if c.BatchSize != nil && *c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", *c.BatchSize)
	}

	if c.QueueDepth != nil && *c.QueueDepth < 1 {
		return fmt.Errorf("queue_depth must be at least 1, got %d", *c.QueueDepth)
	}

	if c.VictimThreshold != nil && *c.VictimThreshold < 0 {
		return fmt.Errorf("victim_threshold must be non-negative, got %f", *c.VictimThreshold)
	}

	for name, r := range map[string]*float64{
		"train_ratio": c.TrainRatio,
		"val_ratio":   c.ValRatio,
		"test_ratio":  c.TestRatio,
	} {
		if r != nil && (*r < 0 || *r > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *r)
		}
	}
	if c.TrainRatio != nil && c.ValRatio != nil && c.TestRatio != nil {
		sum := *c.TrainRatio + *c.ValRatio + *c.TestRatio
		if sum < 0.999 || sum > 1.001 {
			return fmt.Errorf("split ratios must sum to 1, got %f", sum)
		}
	}

	if c.ShutdownTimeout != nil && *c.ShutdownTimeout != "" {
		if _, err := time.ParseDuration(*c.ShutdownTimeout); err != nil {
			return fmt.Errorf("invalid shutdown_timeout '%s': %w", *c.ShutdownTimeout, err)
		}
	}

	return nil
}

// GetCaptureEvery returns the capture_every value or the default.
func (c *CaptureConfig) GetCaptureEvery() int {
	if c.CaptureEvery == nil {
		return 10 // default
	}
	return *c.CaptureEvery
}

// GetVictimThreshold returns the victim_threshold value or the default.
func (c *CaptureConfig) GetVictimThreshold() float64 {
	if c.VictimThreshold == nil {
		return 2.0 // default
	}
	return *c.VictimThreshold
}

// GetBatchSize returns the batch_size value or the default.
func (c *CaptureConfig) GetBatchSize() int {
	if c.BatchSize == nil {
		return 500 // default
	}
	return *c.BatchSize
}

// GetQueueDepth returns the queue_depth value or the default.
func (c *CaptureConfig) GetQueueDepth() int {
	if c.QueueDepth == nil {
		return 8 // default
	}
	return *c.QueueDepth
}

// GetOutputDir returns the output_dir value or the default.
func (c *CaptureConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return "depth_dataset" // default
	}
	return *c.OutputDir
}

// GetTimestampSubdir returns the timestamp_subdir value or the default.
func (c *CaptureConfig) GetTimestampSubdir() bool {
	if c.TimestampSubdir == nil {
		return true // default: each session gets its own subdirectory
	}
	return *c.TimestampSubdir
}

// GetSplitRatios returns the train/val/test selection probabilities, falling
// back to 0.98/0.01/0.01 for any ratio not set.
func (c *CaptureConfig) GetSplitRatios() [3]float64 {
	out := [3]float64{0.98, 0.01, 0.01}
	if c.TrainRatio != nil {
		out[0] = *c.TrainRatio
	}
	if c.ValRatio != nil {
		out[1] = *c.ValRatio
	}
	if c.TestRatio != nil {
		out[2] = *c.TestRatio
	}
	return out
}

// GetShutdownTimeout parses and returns the ShutdownTimeout as a
// time.Duration.
func (c *CaptureConfig) GetShutdownTimeout() time.Duration {
	if c.ShutdownTimeout == nil || *c.ShutdownTimeout == "" {
		return 10 * time.Second // default
	}
	d, err := time.ParseDuration(*c.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second // default on parse error
	}
	return d
}

// GetVerbose returns the verbose value or the default.
func (c *CaptureConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}
