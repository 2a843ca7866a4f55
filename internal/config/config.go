package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for ndr.
type Config struct {
	ArchiveID     string           `toml:"archive_id"`
	BaseDir       string           `toml:"base_dir"`
	LogDir        string           `toml:"log_dir"`
	InventoryPath string           `toml:"inventory_path"`
	Vaults        []VaultConfig    `toml:"vaults"`
	Encryption    EncryptionConfig `toml:"encryption"`
	Database      DatabaseConfig   `toml:"database"`
	Transport     TransportConfig  `toml:"transport"`
	Policy        PolicyConfig     `toml:"policy"`
	Notify        NotifyConfig     `toml:"notify"`
	Metrics       MetricsConfig    `toml:"metrics"`
}

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// EncryptionConfig holds the age key pair used to encrypt archived
// configurations at rest.
type EncryptionConfig struct {
	Enabled        bool   `toml:"enabled"`
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // for S3-compatible stores such as MinIO

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig represents configuration for the archive index.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// TransportConfig describes how to reach devices over SSH.
// Credentials are never stored here, only the names of the environment
// variables that hold them.
type TransportConfig struct {
	Port                  int                      `toml:"port"`
	UsernameEnv           string                   `toml:"username_env"`
	PasswordEnv           string                   `toml:"password_env"`
	KnownHostsPath        string                   `toml:"known_hosts_path,omitempty"`
	InsecureIgnoreHostKey bool                     `toml:"insecure_ignore_host_key"`
	CommandTimeout        Duration                 `toml:"command_timeout"`
	ApplyTimeout          Duration                 `toml:"apply_timeout"`
	Profiles              map[string]ProfileConfig `toml:"profiles,omitempty"`
}

// ProfileConfig overrides the commands used for one device kind.
// Empty fields keep the built-in defaults for that kind.
type ProfileConfig struct {
	CaptureCommand string `toml:"capture_command,omitempty"`
	FileSystem     string `toml:"file_system,omitempty"`
	CandidateName  string `toml:"candidate_name,omitempty"`
	ApplyCommand   string `toml:"apply_command,omitempty"`
}

// PolicyConfig tunes change detection, candidate selection and remediation.
type PolicyConfig struct {
	Dwell            Duration `toml:"dwell"`
	Volatility       Duration `toml:"volatility"`
	Window           int      `toml:"window"`
	Workers          int      `toml:"workers"`
	VolatilePatterns []string `toml:"volatile_patterns,omitempty"`
	RollbackMarkers  []string `toml:"rollback_markers,omitempty"`
}

// NotifyConfig configures Telegram alerts. Notifications are skipped when
// the token or chat ID environment variable is empty.
type NotifyConfig struct {
	Enabled        bool   `toml:"enabled"`
	TokenEnv       string `toml:"token_env"`
	ChatIDEnv      string `toml:"chat_id_env"`
	APIURL         string `toml:"api_url,omitempty"`
	RatePerMinute  int    `toml:"rate_per_minute"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// MetricsConfig configures the Prometheus textfile written after each run.
type MetricsConfig struct {
	TextfilePath string `toml:"textfile_path,omitempty"`
}

// NewConfig creates a new Config with the provided values and defaults
// matching a small Cisco IOS fleet.
func NewConfig(archiveID, baseDir string) *Config {
	return &Config{
		ArchiveID:     archiveID,
		BaseDir:       baseDir,
		LogDir:        filepath.Join(baseDir, "log"),
		InventoryPath: filepath.Join(baseDir, "inventory.yaml"),
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "ndr.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "ndr.key"),
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "vault")},
		},
		Transport: TransportConfig{
			Port:           22,
			UsernameEnv:    "ROUTER_USERNAME",
			PasswordEnv:    "ROUTER_PASSWORD",
			CommandTimeout: Duration{15 * time.Second},
			ApplyTimeout:   Duration{90 * time.Second},
		},
		Policy: PolicyConfig{
			Dwell:      Duration{24 * time.Hour},
			Volatility: Duration{60 * time.Minute},
			Window:     10,
			Workers:    4,
		},
		Notify: NotifyConfig{
			TokenEnv:       "TELEGRAM_TOKEN",
			ChatIDEnv:      "TELEGRAM_CHAT_ID",
			RatePerMinute:  20,
			TimeoutSeconds: 5,
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

// writeToFile writes a Config to the specified file path, creating parent
// directories as needed.
func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
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

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
