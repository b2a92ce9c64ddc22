// Package config loads the optional shell.yaml configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the working directory.
const FileName = "shell.yaml"

// Config represents shell.yaml. Command line flags override it.
type Config struct {
	Port              string        `yaml:"port,omitempty"`
	MPD               MPDConfig     `yaml:"mpd"`
	DataDir           string        `yaml:"data_dir,omitempty"`
	MusicDir          string        `yaml:"music_dir,omitempty"`
	Permissions       []string      `yaml:"permissions,omitempty"`
	ReadyPolicy       string        `yaml:"ready_policy,omitempty"`
	RestartDelay      time.Duration `yaml:"restart_delay,omitempty"`
	StopServiceOnExit bool          `yaml:"stop_service_on_exit,omitempty"`
	StaticDir         string        `yaml:"static_dir,omitempty"`
	Debug             bool          `yaml:"debug,omitempty"`
}

// MPDConfig contains the MPD connection settings.
type MPDConfig struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:         "3001",
		MPD:          MPDConfig{Host: "localhost", Port: 6600},
		DataDir:      "data",
		MusicDir:     "/var/lib/mpd/music",
		Permissions:  []string{"storage.read"},
		ReadyPolicy:  "persistent",
		RestartDelay: 2 * time.Second,
	}
}

// LoadOptional reads path if present and fills unset fields from Default.
// A missing file is not an error.
func LoadOptional(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.merge(&file)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) merge(f *Config) {
	if s := strings.TrimSpace(f.Port); s != "" {
		c.Port = s
	}
	if s := strings.TrimSpace(f.MPD.Host); s != "" {
		c.MPD.Host = s
	}
	if f.MPD.Port != 0 {
		c.MPD.Port = f.MPD.Port
	}
	if f.MPD.Password != "" {
		c.MPD.Password = f.MPD.Password
	}
	if s := strings.TrimSpace(f.DataDir); s != "" {
		c.DataDir = s
	}
	if s := strings.TrimSpace(f.MusicDir); s != "" {
		c.MusicDir = s
	}
	if f.Permissions != nil {
		c.Permissions = f.Permissions
	}
	if s := strings.TrimSpace(f.ReadyPolicy); s != "" {
		c.ReadyPolicy = s
	}
	if f.RestartDelay != 0 {
		c.RestartDelay = f.RestartDelay
	}
	c.StopServiceOnExit = c.StopServiceOnExit || f.StopServiceOnExit
	if s := strings.TrimSpace(f.StaticDir); s != "" {
		c.StaticDir = s
	}
	c.Debug = c.Debug || f.Debug
}

// Validate checks values that would make the shell misbehave.
func (c *Config) Validate() error {
	if c.MPD.Port <= 0 || c.MPD.Port > 65535 {
		return fmt.Errorf("mpd.port %d out of range", c.MPD.Port)
	}
	switch c.ReadyPolicy {
	case "once", "persistent":
	default:
		return fmt.Errorf("ready_policy %q must be once or persistent", c.ReadyPolicy)
	}
	if c.RestartDelay < 0 {
		return fmt.Errorf("restart_delay %s is negative", c.RestartDelay)
	}
	return nil
}

// DBPath returns the database file inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "shell.db")
}
