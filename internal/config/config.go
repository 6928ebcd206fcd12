package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for ardrive-sync.
type Config struct {
	Profile  string         `toml:"profile"`
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Database DatabaseConfig `toml:"database"`
	Sync     SyncConfig     `toml:"sync"`
	Drives   []DriveConfig  `toml:"drives"`
}

// GatewayConfig selects the remote storage backend.
// This uses a tagged union pattern - the Type field determines which other
// fields are relevant.
type GatewayConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", or "s3"

	// Filesystem-specific field (only used when Type == "filesystem")
	FSGatewayRoot string `toml:"fs_gateway_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`

	// Static credentials. When empty the SDK's default chain is used
	// (environment, shared config, instance role).
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// DatabaseConfig represents configuration for the sync state database.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// SyncConfig holds engine tunables. Zero values fall back to the engine
// defaults, so an empty [sync] section is valid.
type SyncConfig struct {
	// StabilityAttempts and StabilityInterval control how long the engine
	// waits for a file to stop changing before uploading it.
	StabilityAttempts int      `toml:"stability_attempts"`
	StabilityInterval duration `toml:"stability_interval"`

	// DetectionWindow is how long a removed folder stays pending before it
	// is confirmed as a delete. SweepInterval is the cadence of the
	// background sweep that force-confirms deletes left pending past twice
	// the window.
	DetectionWindow duration `toml:"detection_window"`
	SweepInterval   duration `toml:"sweep_interval"`

	// QueueInterval is the upload queue's processing cadence.
	QueueInterval duration `toml:"queue_interval"`

	MaxRetries        int      `toml:"max_retries"`
	InitialDelay      duration `toml:"initial_delay"`
	MaxDelay          duration `toml:"max_delay"`
	BackoffMultiplier float64  `toml:"backoff_multiplier"`

	ExcludePatterns []string `toml:"exclude_patterns"`
	MaxFileSize     int64    `toml:"max_file_size"`
}

// DriveConfig declares a drive mapping to register at startup.
type DriveConfig struct {
	RemoteDriveID   string `toml:"remote_drive_id"`
	DriveName       string `toml:"drive_name"`
	Privacy         string `toml:"privacy"`
	LocalFolderPath string `toml:"local_folder_path"`
	Direction       string `toml:"direction"`
	UploadPriority  int    `toml:"upload_priority"`
}

// duration wraps time.Duration so TOML values can be written as "30s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration.
func (d duration) Duration() time.Duration {
	return time.Duration(d)
}

// NewConfig creates a Config with the provided values and sensible defaults.
func NewConfig(profile, baseDir string) *Config {
	return &Config{
		Profile: profile,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Gateway: GatewayConfig{
			Type:          "filesystem",
			FSGatewayRoot: filepath.Join(baseDir, "gateway"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the
// provided Config. Fails if a config file already exists there.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
