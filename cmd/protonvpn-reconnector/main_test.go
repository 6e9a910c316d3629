package main

import (
	"path/filepath"
	"testing"

	"github.com/protonvpn/protonvpn-nm-core/internal/config"
)

func TestKillswitchModeFollowsSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("failed loading settings: %v", err)
	}
	mode := killswitchMode(path, cfg.Settings().Killswitch)
	if got := mode(); got != config.KillswitchOff {
		t.Fatalf("got mode %v, want: %v", got, config.KillswitchOff)
	}

	// another process changes the settings while the agent runs
	other, err := config.Load(path)
	if err != nil {
		t.Fatalf("failed loading settings: %v", err)
	}
	if err = other.SetKillswitch(config.KillswitchAlwaysOn); err != nil {
		t.Fatalf("failed setting the kill switch: %v", err)
	}
	if got := mode(); got != config.KillswitchAlwaysOn {
		t.Fatalf("got mode %v, want: %v", got, config.KillswitchAlwaysOn)
	}
}

func TestKillswitchModeKeepsLastOnError(t *testing.T) {
	// a directory cannot be read as settings
	mode := killswitchMode(t.TempDir(), config.KillswitchOn)
	if got := mode(); got != config.KillswitchOn {
		t.Fatalf("got mode %v, want: %v", got, config.KillswitchOn)
	}
}
