package config

import "testing"

func TestLoadFallsBackToDefaultWithoutUserConfigDir(t *testing.T) {
	t.Setenv("HOME", "")
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("AppData", "")
	got := Load()
	want := Default()
	if got != want {
		t.Fatalf("Load() without a resolvable config dir = %+v, want defaults %+v", got, want)
	}
}

func TestDefaultDurationsMatchComponentDesign(t *testing.T) {
	cfg := Default()
	if cfg.ElectionDuration().Milliseconds() != 3000 {
		t.Errorf("election duration = %v, want 3000ms", cfg.ElectionDuration())
	}
	if cfg.ProbeInterval().Milliseconds() != 200 {
		t.Errorf("probe interval = %v, want 200ms", cfg.ProbeInterval())
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)

	cfg := Default()
	cfg.BitrateBaseKbps = 777

	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got := Load()
	if got.BitrateBaseKbps != 777 {
		t.Fatalf("BitrateBaseKbps = %v, want 777 after round trip", got.BitrateBaseKbps)
	}
}
