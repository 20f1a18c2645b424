package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultBranch != "main" || cfg.DataDir != ".kod" || !cfg.ProtectDefault {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".kod"), 0755); err != nil {
		t.Fatal(err)
	}
	yaml := "author: alice\ndefault_branch: trunk\ngc_keep_days: 30\n"
	if err := os.WriteFile(filepath.Join(dir, ".kod", "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Author != "alice" || cfg.DefaultBranch != "trunk" || cfg.GCKeepDays != 30 {
		t.Errorf("yaml not applied %+v", cfg)
	}
	if cfg.DataDir != ".kod" {
		t.Errorf("unset keys should keep defaults, got %q", cfg.DataDir)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".kod"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".kod", "config.yaml"), []byte("author: alice\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KOD_AUTHOR", "bob")
	t.Setenv("KOD_PROTECT_DEFAULT", "false")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Author != "bob" {
		t.Errorf("env should win, got %q", cfg.Author)
	}
	if cfg.ProtectDefault {
		t.Error("KOD_PROTECT_DEFAULT=false not applied")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Defaults()
	cfg.Author = "carol"
	if err := cfg.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Author != "carol" {
		t.Errorf("round trip author %q", got.Author)
	}
}

func TestResolveDataDir(t *testing.T) {
	cfg := Defaults()
	if got := cfg.ResolveDataDir("/repo"); got != filepath.Join("/repo", ".kod") {
		t.Errorf("relative resolve %q", got)
	}
	cfg.DataDir = "/var/lib/kod"
	if got := cfg.ResolveDataDir("/repo"); got != "/var/lib/kod" {
		t.Errorf("absolute resolve %q", got)
	}
}
