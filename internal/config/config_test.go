package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileRejectsIncompatibleSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")

	if err := os.WriteFile(path, []byte(`{"schema_version":"2.0.0"}`), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected incompatible schema_version to be rejected")
	}
}

func TestLoadFileAcceptsCompatibleSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")

	if err := os.WriteFile(path, []byte(`{"schema_version":"1.2.0","no_arith":true}`), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cfg.NoArith {
		t.Fatalf("expected no_arith to be loaded from file")
	}
}

func TestRegisterFlagsOverridesConfigDefault(t *testing.T) {
	cfg := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs, &cfg)

	if err := fs.Parse([]string{"-no-arith", "-max-rare-branches=64"}); err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	if !cfg.NoArith {
		t.Fatalf("expected -no-arith flag to set NoArith")
	}

	if cfg.MaxRareBranches != 64 {
		t.Fatalf("expected -max-rare-branches to override default, got %d", cfg.MaxRareBranches)
	}
}

func TestDefaultIsInternallyConsistentWithSchema(t *testing.T) {
	cfg := Default()
	if err := checkSchema(cfg.SchemaVersionField); err != nil {
		t.Fatalf("Default()'s own schema_version failed its own check: %v", err)
	}
}
