package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// validRegions is the provider's fixed regional cluster set. An empty
// region means "accept whichever region the token was issued from".
var validRegions = map[string]bool{
	"": true, "us": true, "eu": true, "as": true, "cn": true,
}

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Security SecurityConfig `json:"security"`
	EWeLink  EWeLinkConfig  `json:"ewelink"`
	Blink    BlinkConfig    `json:"blink"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	APIKey string `json:"api_key"`
}

// EWeLinkConfig contains the eWeLink Cloud API settings. Credentials
// are provisioned once in the developer console and injected here;
// nothing reads them from ambient global state.
type EWeLinkConfig struct {
	AppID       string `json:"app_id"`
	AppSecret   string `json:"app_secret"`
	RedirectURL string `json:"redirect_url"`
	// Region optionally pins the client to one regional cluster. Left
	// empty, the token's issuing region is used.
	Region string `json:"region"`
	// BaseURLs overrides regional cluster addresses (used in tests and
	// for provider endpoint changes).
	BaseURLs map[string]string `json:"base_urls"`
}

// BlinkConfig contains the alert blink sequence settings
type BlinkConfig struct {
	// AlertDeviceID is the device blinked when an alert fires.
	AlertDeviceID string `json:"alert_device_id"`
	// StepDelayMS is the mandatory wall-clock delay between sequence
	// steps, in milliseconds.
	StepDelayMS int `json:"step_delay_ms"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port", ErrInvalidConfig)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("%w: database path is required", ErrInvalidConfig)
	}

	if c.Security.APIKey == "" {
		return fmt.Errorf("%w: API key is required", ErrInvalidConfig)
	}

	if c.EWeLink.AppID == "" || c.EWeLink.AppSecret == "" {
		return fmt.Errorf("%w: eWeLink app credentials are required", ErrInvalidConfig)
	}

	if !validRegions[c.EWeLink.Region] {
		return fmt.Errorf("%w: unknown eWeLink region %q", ErrInvalidConfig, c.EWeLink.Region)
	}

	if c.Blink.AlertDeviceID == "" {
		return fmt.Errorf("%w: alert device ID is required", ErrInvalidConfig)
	}

	if c.Blink.StepDelayMS <= 0 {
		c.Blink.StepDelayMS = 500 // default
	}

	return nil
}

// Load loads configuration from a JSON file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromEnv loads configuration from environment variables
// This is useful for containerized deployments
func LoadFromEnv() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host: getEnv("BEACON_HOST", "0.0.0.0"),
			Port: getEnvInt("BEACON_PORT", 8080),
		},
		Database: DatabaseConfig{
			Path: getEnv("BEACON_DB_PATH", "./beacon.db"),
		},
		Security: SecurityConfig{
			APIKey: getEnv("BEACON_API_KEY", ""),
		},
		EWeLink: EWeLinkConfig{
			AppID:       getEnv("BEACON_EWELINK_APP_ID", ""),
			AppSecret:   getEnv("BEACON_EWELINK_APP_SECRET", ""),
			RedirectURL: getEnv("BEACON_EWELINK_REDIRECT_URL", ""),
			Region:      getEnv("BEACON_EWELINK_REGION", ""),
		},
		Blink: BlinkConfig{
			AlertDeviceID: getEnv("BEACON_ALERT_DEVICE_ID", ""),
			StepDelayMS:   getEnvInt("BEACON_BLINK_STEP_DELAY_MS", 500),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		fmt.Sscanf(value, "%d", &intVal)
		return intVal
	}
	return defaultValue
}
