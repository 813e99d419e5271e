// Package config handles configuration management using Viper
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Display scaling and placement
	Display DisplayConfig `mapstructure:"display"`

	// Host shell integration (titles, app ids, decorations)
	Shell ShellConfig `mapstructure:"shell"`

	// Clipboard/selection bridging
	Selection SelectionConfig `mapstructure:"selection"`

	// Socket endpoints (guest display, X display, control socket)
	Sockets SocketConfig `mapstructure:"sockets"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// DisplayConfig contains scaling and placement settings
type DisplayConfig struct {
	Scale            float64 `mapstructure:"scale"`              // Guest pixels per host logical unit; 0 follows the host output scale
	DirectScaleX     float64 `mapstructure:"direct_scale_x"`     // Axis-wise override, 0 disables
	DirectScaleY     float64 `mapstructure:"direct_scale_y"`     // Axis-wise override, 0 disables
	CenterNewWindows bool    `mapstructure:"center_new_windows"` // Center windows that carry no position hint
}

// ShellConfig contains host shell integration settings
type ShellConfig struct {
	AppIDPrefix string `mapstructure:"app_id_prefix"` // Prepended to the guest class when building the app id
	TitlePrefix string `mapstructure:"title_prefix"`  // Prepended to guest titles, empty disables
	Decorations bool   `mapstructure:"decorations"`   // Honor guest decoration hints
}

// SelectionConfig contains clipboard bridging settings
type SelectionConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	IncrChunkSize int  `mapstructure:"incr_chunk_size"` // Bytes per incremental chunk, also the streaming threshold
}

// SocketConfig contains the socket endpoints the gateway serves and uses
type SocketConfig struct {
	GuestDisplay string `mapstructure:"guest_display"` // Wayland socket name served to guest clients
	XDisplay     string `mapstructure:"x_display"`     // X display to manage, empty uses DISPLAY
	ControlPath  string `mapstructure:"control_path"`  // Control socket path, empty derives from XDG_RUNTIME_DIR
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Display: DisplayConfig{
			Scale:            0,
			DirectScaleX:     0,
			DirectScaleY:     0,
			CenterNewWindows: true,
		},
		Shell: ShellConfig{
			AppIDPrefix: "",
			TitlePrefix: "",
			Decorations: true,
		},
		Selection: SelectionConfig{
			Enabled:       true,
			IncrChunkSize: 64 * 1024,
		},
		Sockets: SocketConfig{
			GuestDisplay: "waybridge-0",
			XDisplay:     "",
			ControlPath:  "",
		},
		Logging: LoggingConfig{
			LogLevel: "", // Empty means use LOG_LEVEL env var
		},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	// Set config name and type
	viper.SetConfigName("waybridge")
	viper.SetConfigType("toml")

	// If a specific path is set, use only that
	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		// Add config paths in order of precedence
		viper.AddConfigPath("/etc/waybridge")

		if home := os.Getenv("HOME"); home != "" {
			viper.AddConfigPath(filepath.Join(home, ".config", "waybridge"))
		}

		viper.AddConfigPath(".") // Current directory (lowest priority)
	}

	// Set defaults - need to set individual fields for proper merging
	viper.SetDefault("display.scale", DefaultConfig.Display.Scale)
	viper.SetDefault("display.direct_scale_x", DefaultConfig.Display.DirectScaleX)
	viper.SetDefault("display.direct_scale_y", DefaultConfig.Display.DirectScaleY)
	viper.SetDefault("display.center_new_windows", DefaultConfig.Display.CenterNewWindows)

	viper.SetDefault("shell.app_id_prefix", DefaultConfig.Shell.AppIDPrefix)
	viper.SetDefault("shell.title_prefix", DefaultConfig.Shell.TitlePrefix)
	viper.SetDefault("shell.decorations", DefaultConfig.Shell.Decorations)

	viper.SetDefault("selection.enabled", DefaultConfig.Selection.Enabled)
	viper.SetDefault("selection.incr_chunk_size", DefaultConfig.Selection.IncrChunkSize)

	viper.SetDefault("sockets.guest_display", DefaultConfig.Sockets.GuestDisplay)
	viper.SetDefault("sockets.x_display", DefaultConfig.Sockets.XDisplay)
	viper.SetDefault("sockets.control_path", DefaultConfig.Sockets.ControlPath)

	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults
	}

	// Unmarshal config
	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}

	return nil
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Save saves the current configuration to file
func Save() error {
	configPath := GetConfigPath()

	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		if os.IsPermission(err) && strings.Contains(configPath, "/etc/") {
			return fmt.Errorf("failed to create config directory %s: permission denied. Try running with sudo", dir)
		}
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write config
	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	// If override is set, use that
	if configPathOverride != "" {
		return configPathOverride
	}

	// Check if config file is already loaded
	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/waybridge/waybridge.toml"
	}

	return filepath.Join(home, ".config", "waybridge", "waybridge.toml")
}

// ControlSocketPath resolves the control socket path, deriving the default
// from XDG_RUNTIME_DIR when the config leaves it empty.
func ControlSocketPath() string {
	if p := Get().Sockets.ControlPath; p != "" {
		return p
	}
	if runtime := os.Getenv("XDG_RUNTIME_DIR"); runtime != "" {
		return filepath.Join(runtime, "waybridge.sock")
	}
	return filepath.Join(os.TempDir(), "waybridge.sock")
}

// QuirksPath returns the quirks file location next to the config file.
func QuirksPath() string {
	return filepath.Join(filepath.Dir(GetConfigPath()), "quirks.yaml")
}
