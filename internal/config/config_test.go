package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

// resetState clears the package globals so subtests see a fresh load.
func resetState() {
	viper.Reset()
	configPathOverride = ""
	cfg = nil
}

func TestInit(t *testing.T) {
	t.Run("initializes with defaults when no config exists", func(t *testing.T) {
		resetState()

		tmpDir := t.TempDir()
		t.Setenv("HOME", tmpDir)

		oldWd, _ := os.Getwd()
		os.Chdir(tmpDir)
		defer os.Chdir(oldWd)

		if err := Init(); err != nil {
			t.Errorf("Init() failed: %v", err)
		}

		config := Get()
		if config == nil {
			t.Fatal("Get() returned nil after Init()")
		}

		if config.Sockets.GuestDisplay != "waybridge-0" {
			t.Errorf("Expected default guest display waybridge-0, got %s", config.Sockets.GuestDisplay)
		}
		if config.Selection.IncrChunkSize != 64*1024 {
			t.Errorf("Expected default chunk size 65536, got %d", config.Selection.IncrChunkSize)
		}
		if !config.Selection.Enabled {
			t.Error("Expected selection bridging enabled by default")
		}
		if !config.Display.CenterNewWindows {
			t.Error("Expected centering enabled by default")
		}
		if !config.Shell.Decorations {
			t.Error("Expected decorations enabled by default")
		}
		if config.Display.Scale != 0 {
			t.Errorf("Expected scale 0 (follow host output), got %f", config.Display.Scale)
		}
	})

	t.Run("reads values from a config file", func(t *testing.T) {
		resetState()

		tmpDir := t.TempDir()
		t.Setenv("HOME", tmpDir)

		contents := `[display]
scale = 2.0

[shell]
app_id_prefix = "guest."

[selection]
incr_chunk_size = 4096

[sockets]
guest_display = "bridge-test"`
		if err := os.WriteFile(filepath.Join(tmpDir, "waybridge.toml"), []byte(contents), 0644); err != nil {
			t.Fatal(err)
		}

		oldWd, _ := os.Getwd()
		os.Chdir(tmpDir)
		defer os.Chdir(oldWd)

		if err := Init(); err != nil {
			t.Fatalf("Init() failed: %v", err)
		}

		config := Get()
		if config.Display.Scale != 2.0 {
			t.Errorf("Expected scale 2.0, got %f", config.Display.Scale)
		}
		if config.Shell.AppIDPrefix != "guest." {
			t.Errorf("Expected app id prefix guest., got %s", config.Shell.AppIDPrefix)
		}
		if config.Selection.IncrChunkSize != 4096 {
			t.Errorf("Expected chunk size 4096, got %d", config.Selection.IncrChunkSize)
		}
		if config.Sockets.GuestDisplay != "bridge-test" {
			t.Errorf("Expected guest display bridge-test, got %s", config.Sockets.GuestDisplay)
		}
		// Fields absent from the file keep their defaults.
		if !config.Shell.Decorations {
			t.Error("Expected decorations to keep the default")
		}
	})

	t.Run("rejects invalid TOML", func(t *testing.T) {
		resetState()

		invalidTOML := `[display
scale = 2.0`
		path := filepath.Join(t.TempDir(), "waybridge.toml")
		if err := os.WriteFile(path, []byte(invalidTOML), 0644); err != nil {
			t.Fatal(err)
		}

		SetConfigPath(path)
		defer SetConfigPath("")

		err := Init()
		if err == nil {
			t.Fatal("Init() accepted invalid TOML")
		}
		if !strings.Contains(err.Error(), "config") {
			t.Errorf("Expected config read error, got: %v", err)
		}
	})
}

func TestConfigPrecedence(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	userConfigDir := filepath.Join(tmpDir, ".config", "waybridge")
	if err := os.MkdirAll(userConfigDir, 0755); err != nil {
		t.Fatal(err)
	}

	currentConfig := filepath.Join(tmpDir, "waybridge.toml")
	userConfig := filepath.Join(userConfigDir, "waybridge.toml")
	os.WriteFile(currentConfig, []byte(`[sockets]
guest_display = "current-dir"`), 0644)
	os.WriteFile(userConfig, []byte(`[sockets]
guest_display = "user-config"`), 0644)

	oldWd, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(oldWd)

	t.Run("user config takes precedence over current directory", func(t *testing.T) {
		resetState()

		if err := Init(); err != nil {
			t.Fatalf("Init() failed: %v", err)
		}
		if got := Get().Sockets.GuestDisplay; got != "user-config" {
			t.Errorf("Expected user-config, got %s", got)
		}
	})

	t.Run("current directory used when no user config", func(t *testing.T) {
		os.Remove(userConfig)
		resetState()

		if err := Init(); err != nil {
			t.Fatalf("Init() failed: %v", err)
		}
		if got := Get().Sockets.GuestDisplay; got != "current-dir" {
			t.Errorf("Expected current-dir, got %s", got)
		}
	})
}

func TestGetConfigPath(t *testing.T) {
	t.Run("override wins", func(t *testing.T) {
		resetState()
		SetConfigPath("/tmp/custom/waybridge.toml")
		defer SetConfigPath("")

		if got := GetConfigPath(); got != "/tmp/custom/waybridge.toml" {
			t.Errorf("Expected override path, got %s", got)
		}
	})

	t.Run("defaults to the user config directory", func(t *testing.T) {
		resetState()
		t.Setenv("HOME", "/home/testuser")

		expected := "/home/testuser/.config/waybridge/waybridge.toml"
		if got := GetConfigPath(); got != expected {
			t.Errorf("Expected %s, got %s", expected, got)
		}
	})
}

func TestControlSocketPath(t *testing.T) {
	t.Run("explicit path wins", func(t *testing.T) {
		resetState()
		Set(&Config{Sockets: SocketConfig{ControlPath: "/tmp/bridge-test.sock"}})

		if got := ControlSocketPath(); got != "/tmp/bridge-test.sock" {
			t.Errorf("Expected configured path, got %s", got)
		}
	})

	t.Run("derives from the runtime dir", func(t *testing.T) {
		resetState()
		Set(&Config{})
		t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

		if got := ControlSocketPath(); got != "/run/user/1000/waybridge.sock" {
			t.Errorf("Expected runtime dir socket, got %s", got)
		}
	})

	t.Run("falls back to the temp dir", func(t *testing.T) {
		resetState()
		Set(&Config{})
		t.Setenv("XDG_RUNTIME_DIR", "")

		got := ControlSocketPath()
		if !filepath.IsAbs(got) {
			t.Errorf("Expected an absolute path, got %s", got)
		}
		if filepath.Base(got) != "waybridge.sock" {
			t.Errorf("Expected waybridge.sock, got %s", got)
		}
	})
}

func TestQuirksPath(t *testing.T) {
	resetState()
	SetConfigPath("/etc/waybridge/waybridge.toml")
	defer SetConfigPath("")

	if got := QuirksPath(); got != "/etc/waybridge/quirks.yaml" {
		t.Errorf("Expected quirks.yaml beside the config, got %s", got)
	}
}
