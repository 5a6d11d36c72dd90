// Package config provides XML-based configuration management for air-gapped deployment.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"DocPreview"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// Viewer resolution configuration
	Viewers ViewersConfig `xml:"Viewers"`

	// Security configuration
	Security SecurityConfig `xml:"Security"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port          int    `xml:"Port"`
	BindAddress   string `xml:"BindAddress"`
	PublicBaseURL string `xml:"PublicBaseURL"`
	EnableCORS    bool   `xml:"EnableCORS"`
	AllowOrigins  string `xml:"AllowOrigins"`
	ReadTimeout   int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout  int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout   int    `xml:"IdleTimeoutSeconds"`
	BodyLimit     string `xml:"BodyLimit"`
	RatePerSecond int    `xml:"RequestsPerSecond"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory      string `xml:"DataDirectory"`
	UploadsDirectory   string `xml:"UploadsDirectory"`
	ConvertedDirectory string `xml:"ConvertedDirectory"`
	IndexPath          string `xml:"IndexPath"`
	HistoryPath        string `xml:"HistoryPath"`
}

// ViewersConfig contains preview resolution settings
type ViewersConfig struct {
	CatalogPath            string  `xml:"CatalogPath"`
	ProbeTimeoutSeconds    int     `xml:"ProbeTimeoutSeconds"`
	ProbeRatePerSecond     float64 `xml:"ProbeRatePerSecond"`
	ProbeBurst             int     `xml:"ProbeBurst"`
	ViewerIdleMinutes      int     `xml:"ViewerIdleMinutes"`
	CleanupIntervalMinutes int     `xml:"CleanupIntervalMinutes"`
	EnableHistory          bool    `xml:"EnableHistory"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	AllowFileDeletion   bool   `xml:"AllowFileDeletion"`
	SigningSecret       string `xml:"SigningSecret"`
	SignedURLTTLMinutes int    `xml:"SignedURLTTLMinutes"`
	RequireSignedURLs   bool   `xml:"RequireSignedURLs"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel                string `xml:"LogLevel"`
	LogFormat               string `xml:"LogFormat"`
	EnableRequestLogging    bool   `xml:"EnableRequestLogging"`
	LibreOfficePath         string `xml:"LibreOfficePath"`
	ConversionTimeout       int    `xml:"ConversionTimeoutSeconds"`
	ConversionMaxAgeMinutes int    `xml:"ConversionMaxAgeMinutes"`
	WebSocketMaxMessageSize int    `xml:"WebSocketMaxMessageSizeKB"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:          8089,
			BindAddress:   "0.0.0.0",
			PublicBaseURL: "http://localhost:8089",
			EnableCORS:    true,
			AllowOrigins:  "*",
			ReadTimeout:   30,
			WriteTimeout:  30,
			IdleTimeout:   120,
			BodyLimit:     "100M",
			RatePerSecond: 50,
		},
		Storage: StorageConfig{
			DataDirectory:      "./data",
			UploadsDirectory:   "./data/uploads",
			ConvertedDirectory: "./data/converted",
			IndexPath:          "./data/documents.db",
			HistoryPath:        "./data/history.duckdb",
		},
		Viewers: ViewersConfig{
			CatalogPath:            "./viewers.yaml",
			ProbeTimeoutSeconds:    5,
			ProbeRatePerSecond:     20,
			ProbeBurst:             10,
			ViewerIdleMinutes:      30,
			CleanupIntervalMinutes: 5,
			EnableHistory:          true,
		},
		Security: SecurityConfig{
			AllowFileDeletion:   true,
			SigningSecret:       "",
			SignedURLTTLMinutes: 15,
			RequireSignedURLs:   false,
		},
		Advanced: AdvancedConfig{
			LogLevel:                "info",
			LogFormat:               "text",
			EnableRequestLogging:    true,
			LibreOfficePath:         "libreoffice",
			ConversionTimeout:       30,
			ConversionMaxAgeMinutes: 60,
			WebSocketMaxMessageSize: 64,
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Document Preview Service Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR moves every storage path that still sits under the default tree
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage = StorageConfig{
			DataDirectory:      dataDir,
			UploadsDirectory:   filepath.Join(dataDir, "uploads"),
			ConvertedDirectory: filepath.Join(dataDir, "converted"),
			IndexPath:          filepath.Join(dataDir, "documents.db"),
			HistoryPath:        filepath.Join(dataDir, "history.duckdb"),
		}
	}

	if secret := os.Getenv("DOCPREVIEW_SIGNING_SECRET"); secret != "" {
		c.Security.SigningSecret = secret
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}

	if base := os.Getenv("PUBLIC_BASE_URL"); base != "" {
		c.Server.PublicBaseURL = base
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.ConvertedDirectory,
		&c.Storage.IndexPath,
		&c.Storage.HistoryPath,
		&c.Viewers.CatalogPath,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// ProbeTimeout returns the HEAD request timeout.
func (c *AppConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.Viewers.ProbeTimeoutSeconds) * time.Second
}

// ViewerIdle returns how long an untouched viewer is kept.
func (c *AppConfig) ViewerIdle() time.Duration {
	return time.Duration(c.Viewers.ViewerIdleMinutes) * time.Minute
}

// CleanupInterval returns how often idle viewers and old jobs are swept.
func (c *AppConfig) CleanupInterval() time.Duration {
	d := time.Duration(c.Viewers.CleanupIntervalMinutes) * time.Minute
	if d <= 0 {
		d = 5 * time.Minute
	}
	return d
}

// SignedURLTTL returns the lifetime of signed document URLs.
func (c *AppConfig) SignedURLTTL() time.Duration {
	return time.Duration(c.Security.SignedURLTTLMinutes) * time.Minute
}

// ConversionTimeout returns the LibreOffice timeout.
func (c *AppConfig) ConversionTimeout() time.Duration {
	return time.Duration(c.Advanced.ConversionTimeout) * time.Second
}

// ConversionMaxAge returns how long finished conversions are kept.
func (c *AppConfig) ConversionMaxAge() time.Duration {
	return time.Duration(c.Advanced.ConversionMaxAgeMinutes) * time.Minute
}

// Validate checks settings that would otherwise fail later at runtime.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Security.RequireSignedURLs && c.Security.SigningSecret == "" {
		return fmt.Errorf("RequireSignedURLs needs a SigningSecret")
	}
	return nil
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
		c.Storage.ConvertedDirectory,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
