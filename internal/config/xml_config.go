// Package config provides XML-based configuration for the sniffer service.
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
	XMLName xml.Name `xml:"MidiSniffer"`

	Server   ServerConfig   `xml:"Server"`
	Storage  StorageConfig  `xml:"Storage"`
	Monitor  MonitorConfig  `xml:"Monitor"`
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP inspection server settings
type ServerConfig struct {
	Enabled      bool   `xml:"Enabled"`
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `xml:"DataDirectory"`
	UploadsDirectory string `xml:"UploadsDirectory"`
	CaptureDirectory string `xml:"CaptureDirectory"`
	SummaryDatabase  string `xml:"SummaryDatabase"`
	RecordSummaries  bool   `xml:"RecordSummaries"`
}

// MonitorConfig contains the table, capture and pipeline timing settings
type MonitorConfig struct {
	TablePath         string  `xml:"TablePath"`
	ProfilePath       string  `xml:"ProfilePath"`
	CapturePath       string  `xml:"CapturePath"`
	RecordCapture     bool    `xml:"RecordCapture"`
	ReplaySpeed       float64 `xml:"ReplaySpeed"`
	GroupWindowMs     int     `xml:"GroupWindowMs"`
	DisableGrouping   bool    `xml:"DisableGrouping"`
	PairStaleMs       int     `xml:"PairStaleMs"`
	SweepIntervalMs   int     `xml:"SweepIntervalMs"`
	MaxSessions       int     `xml:"MaxSessions"`
	RecentSummaries   int     `xml:"RecentSummaries"`
	SessionTimeoutMin int     `xml:"SessionTimeoutMinutes"`
	CleanupMinutes    int     `xml:"CleanupIntervalMinutes"`
}

// AdvancedConfig contains logging and observability options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel"`
	LogFormat            string `xml:"LogFormat"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
	EnableMetrics        bool   `xml:"EnableMetrics"`
	WebSocketBuffer      int    `xml:"WebSocketBuffer"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Enabled:      false,
			Port:         8089,
			BindAddress:  "127.0.0.1",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			IdleTimeout:  120,
			BodyLimit:    "32M",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			CaptureDirectory: "./data/captures",
			SummaryDatabase:  "./data/summaries.duckdb",
			RecordSummaries:  false,
		},
		Monitor: MonitorConfig{
			ReplaySpeed:       1.0,
			GroupWindowMs:     250,
			PairStaleMs:       300,
			SweepIntervalMs:   25,
			MaxSessions:       10,
			RecentSummaries:   1000,
			SessionTimeoutMin: 30,
			CleanupMinutes:    5,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			LogFormat:            "text",
			EnableRequestLogging: true,
			EnableMetrics:        true,
			WebSocketBuffer:      256,
		},
	}
}

// LoadConfig loads configuration from an XML file, writing the defaults on first run.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

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

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- MIDI Sniffer Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Monitor.GroupWindowMs < 0 {
		return fmt.Errorf("invalid group window: %dms", c.Monitor.GroupWindowMs)
	}
	if c.Monitor.PairStaleMs < 0 || c.Monitor.SweepIntervalMs < 0 {
		return fmt.Errorf("invalid pairing or sweep interval")
	}
	if c.Monitor.ReplaySpeed < 0 {
		return fmt.Errorf("invalid replay speed: %g", c.Monitor.ReplaySpeed)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}

	if table := os.Getenv("SNIFFER_TABLE"); table != "" {
		c.Monitor.TablePath = table
	}

	if capture := os.Getenv("SNIFFER_CAPTURE"); capture != "" {
		c.Monitor.CapturePath = capture
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.CaptureDirectory,
		&c.Storage.SummaryDatabase,
		&c.Monitor.TablePath,
		&c.Monitor.ProfilePath,
		&c.Monitor.CapturePath,
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

// GroupWindow returns the grouping window.
func (c *AppConfig) GroupWindow() time.Duration {
	return time.Duration(c.Monitor.GroupWindowMs) * time.Millisecond
}

// PairStaleWindow returns the hi-res pairing window.
func (c *AppConfig) PairStaleWindow() time.Duration {
	return time.Duration(c.Monitor.PairStaleMs) * time.Millisecond
}

// SweepInterval returns the group expiry check interval.
func (c *AppConfig) SweepInterval() time.Duration {
	return time.Duration(c.Monitor.SweepIntervalMs) * time.Millisecond
}

// SessionTimeout returns how long finished sessions are kept.
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Monitor.SessionTimeoutMin) * time.Minute
}

// CleanupInterval returns how often finished sessions are swept.
func (c *AppConfig) CleanupInterval() time.Duration {
	return time.Duration(c.Monitor.CleanupMinutes) * time.Minute
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
		c.Storage.CaptureDirectory,
	}
	if c.Storage.SummaryDatabase != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.SummaryDatabase))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
