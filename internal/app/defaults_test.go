package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("ARDRIVE_SYNC_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("ARDRIVE_SYNC_HOME", "/custom/ardrive-sync")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %s, want /custom/config.toml", defaults["config_path"])
		}
		if defaults["base_dir"] != "/custom/ardrive-sync" {
			t.Errorf("base_dir = %s, want /custom/ardrive-sync", defaults["base_dir"])
		}
		if want := filepath.Join("/custom/ardrive-sync", "log"); defaults["log_dir"] != want {
			t.Errorf("log_dir = %s, want %s", defaults["log_dir"], want)
		}
	})

	t.Run("falls back to home directory", func(t *testing.T) {
		t.Setenv("ARDRIVE_SYNC_CONFIG_PATH", "")
		t.Setenv("ARDRIVE_SYNC_HOME", "")

		home, err := os.UserHomeDir()
		if err != nil {
			t.Skipf("no home directory: %v", err)
		}

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if want := filepath.Join(home, ".config", "ardrive-sync.toml"); defaults["config_path"] != want {
			t.Errorf("config_path = %s, want %s", defaults["config_path"], want)
		}
		if want := filepath.Join(home, ".local", "share", "ardrive-sync"); defaults["base_dir"] != want {
			t.Errorf("base_dir = %s, want %s", defaults["base_dir"], want)
		}
	})
}
