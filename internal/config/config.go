package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	MPD     MPDConfig     `toml:"mpd"`
	Music   MusicConfig   `toml:"music"`
	Logging LoggingConfig `toml:"logging"`
	MPRIS   MPRISConfig   `toml:"mpris"`
	Notify  NotifyConfig  `toml:"notify"`
}

// MPDConfig describes how to reach the music player daemon
type MPDConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password"`
	// Retries is the number of reconnect attempts, -1 retries forever
	Retries           int  `toml:"retries"`
	RetryDelay        int  `toml:"retry_delay_seconds"`
	Timeout           int  `toml:"timeout_seconds"`
	LenientErrorCodes bool `toml:"lenient_error_codes"`
}

// MusicConfig locates the library and cover art
type MusicConfig struct {
	LibraryPath        string `toml:"library_path"`
	CoverPath          string `toml:"cover_path"`
	ExtractEmbeddedArt bool   `toml:"extract_embedded_art"`
	ArtCachePath       string `toml:"art_cache_path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// MPRISConfig controls the D-Bus media player interface
type MPRISConfig struct {
	Enabled       bool   `toml:"enabled"`
	BusNameSuffix string `toml:"bus_name_suffix"`
}

// NotifyConfig controls desktop notifications on song change
type NotifyConfig struct {
	Enabled   bool `toml:"enabled"`
	TimeoutMS int  `toml:"timeout_ms"`
}

// Environment variables understood on top of the file
const (
	EnvHost = "MPD_HOST"
	EnvPort = "MPD_PORT"

	dotEnvFile = ".env"
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MPD: MPDConfig{
			Host:       "localhost",
			Port:       6600,
			Retries:    -1,
			RetryDelay: 3,
			Timeout:    10,
		},
		Music: MusicConfig{
			LibraryPath:        "~/Music",
			CoverPath:          "",
			ExtractEmbeddedArt: true,
			ArtCachePath:       "$XDG_CACHE_HOME/mpdris/art",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
		MPRIS: MPRISConfig{
			Enabled: true,
		},
		Notify: NotifyConfig{
			Enabled:   false,
			TimeoutMS: 5000,
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/mpdris/mpdris.toml
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = ExpandPath("~/.config")
	}
	return filepath.Join(dir, "mpdris", "mpdris.toml")
}

// LoadConfig loads configuration from a TOML file, then applies .env and
// environment overrides
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	dotEnv, err := readDotEnv(dotEnvFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(func(key string) (string, bool) {
		if value, ok := os.LookupEnv(key); ok && value != "" {
			return value, true
		}
		value, ok := dotEnv[key]
		return value, ok
	}); err != nil {
		return nil, err
	}

	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// readDotEnv reads KEY=value pairs without touching the process environment,
// so a reload sees edits to the file
func readDotEnv(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return values, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if host, ok := lookup(EnvHost); ok && host != "" {
		c.MPD.Host, c.MPD.Password = SplitHost(host, c.MPD.Password)
	}
	if port, ok := lookup(EnvPort); ok && port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, port, err)
		}
		c.MPD.Port = n
	}
	return nil
}

// SplitHost splits MPD's password@host convention. A leading @ names an
// abstract socket and carries no password.
func SplitHost(host, password string) (string, string) {
	if i := strings.Index(host, "@"); i > 0 {
		return host[i+1:], host[:i]
	}
	return host, password
}

// Overrides are command line values that win over file and environment
type Overrides struct {
	Host    string
	Port    int
	Retries *int
	Level   string
}

// ApplyOverrides copies every set override into the configuration
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Host != "" {
		c.MPD.Host, c.MPD.Password = SplitHost(o.Host, c.MPD.Password)
	}
	if o.Port != 0 {
		c.MPD.Port = o.Port
	}
	if o.Retries != nil {
		c.MPD.Retries = *o.Retries
	}
	if o.Level != "" {
		c.Logging.Level = o.Level
	}
}

func (c *Config) expandPaths() {
	c.Music.LibraryPath = ExpandPath(c.Music.LibraryPath)
	c.Music.CoverPath = ExpandPath(c.Music.CoverPath)
	c.Music.ArtCachePath = ExpandPath(c.Music.ArtCachePath)
	c.Logging.File = ExpandPath(c.Logging.File)
	if strings.HasPrefix(c.MPD.Host, "~") {
		c.MPD.Host = ExpandPath(c.MPD.Host)
	}
}

// ExpandPath resolves a leading ~ and $VAR references. Unset XDG base
// directories fall back to their documented defaults.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}

	home, _ := os.UserHomeDir()
	path = os.Expand(path, func(name string) string {
		if value, ok := os.LookupEnv(name); ok && value != "" {
			return value
		}
		switch name {
		case "XDG_CONFIG_HOME":
			return filepath.Join(home, ".config")
		case "XDG_CACHE_HOME":
			return filepath.Join(home, ".cache")
		case "HOME":
			return home
		}
		return ""
	})

	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# mpdris configuration
# MPD_HOST and MPD_PORT override the [mpd] section, MPD_HOST may be password@host.
# Send SIGHUP or save this file to reload.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.MPD.Host == "" {
		return fmt.Errorf("mpd host cannot be empty")
	}
	if c.MPD.Port < 1 || c.MPD.Port > 65535 {
		return fmt.Errorf("mpd port %d out of range", c.MPD.Port)
	}
	if c.MPD.Retries < -1 {
		return fmt.Errorf("mpd retries must be -1 (forever) or more")
	}
	if c.MPD.RetryDelay < 0 {
		return fmt.Errorf("mpd retry delay cannot be negative")
	}
	if c.MPD.Timeout < 0 {
		return fmt.Errorf("mpd timeout cannot be negative")
	}

	if c.Music.ExtractEmbeddedArt && c.Music.ArtCachePath == "" {
		return fmt.Errorf("art cache path is required to extract embedded art")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	if c.Notify.TimeoutMS < -1 {
		return fmt.Errorf("notify timeout must be -1 (server default) or more")
	}

	return nil
}

// Address returns the MPD address as host:port, or the socket path
func (c *Config) Address() string {
	if strings.HasPrefix(c.MPD.Host, "/") || strings.HasPrefix(c.MPD.Host, "@") {
		return c.MPD.Host
	}
	return net.JoinHostPort(c.MPD.Host, strconv.Itoa(c.MPD.Port))
}
