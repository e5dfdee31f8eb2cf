package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/advising-platform/doccache/internal/config"
)

func TestLoad_DefaultsWhenNoConfigFilePresent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := config.Load(config.LoadConfigInput{WorkDirOverride: dir, Env: map[string]string{}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.MaxCacheSize != 500 {
		t.Fatalf("MaxCacheSize = %d, want 500", cfg.MaxCacheSize)
	}

	if cfg.FileLockTimeout != 2*time.Second {
		t.Fatalf("FileLockTimeout = %v, want 2s", cfg.FileLockTimeout)
	}

	if cfg.EffectiveCwd != dir {
		t.Fatalf("EffectiveCwd = %q, want %q", cfg.EffectiveCwd, dir)
	}
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	contents := `{
		// a project override, JSONC-style comment
		"standards_dir": "docs/standards",
		"max_cache_size": 1000,
	}`

	if err := os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte(contents), 0o644); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	cfg, err := config.Load(config.LoadConfigInput{WorkDirOverride: dir, Env: map[string]string{}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.StandardsDir != "docs/standards" {
		t.Fatalf("StandardsDir = %q", cfg.StandardsDir)
	}

	if cfg.MaxCacheSize != 1000 {
		t.Fatalf("MaxCacheSize = %d", cfg.MaxCacheSize)
	}

	if cfg.TodoDir != "todo" {
		t.Fatalf("TodoDir should keep default, got %q", cfg.TodoDir)
	}
}

func TestLoad_ExplicitConfigPathMustExist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := config.Load(config.LoadConfigInput{
		WorkDirOverride: dir,
		ConfigPath:      "does-not-exist.json",
		Env:             map[string]string{},
	})
	if err == nil {
		t.Fatalf("Load should fail for a missing explicit config path")
	}
}

func TestLoad_GlobalConfigIsOverriddenByProject(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	dir := t.TempDir()

	globalDir := filepath.Join(home, ".config", "dcache")
	if err := os.MkdirAll(globalDir, 0o750); err != nil {
		t.Fatalf("mkdir global config dir: %v", err)
	}

	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(`{"max_cache_size": 200}`), 0o644); err != nil {
		t.Fatalf("seed global config: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte(`{"max_cache_size": 750}`), 0o644); err != nil {
		t.Fatalf("seed project config: %v", err)
	}

	cfg, err := config.Load(config.LoadConfigInput{WorkDirOverride: dir, Env: map[string]string{"HOME": home}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.MaxCacheSize != 750 {
		t.Fatalf("MaxCacheSize = %d, want project override 750", cfg.MaxCacheSize)
	}
}

func TestLoad_InvalidJSONCIsRejected(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte(`{not json`), 0o644); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	_, err := config.Load(config.LoadConfigInput{WorkDirOverride: dir, Env: map[string]string{}})
	if err == nil {
		t.Fatalf("Load should reject malformed JSONC")
	}
}

func TestLoad_ProjectRootDiscoveredFromStandardsDir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	if err := os.MkdirAll(filepath.Join(root, "standards"), 0o750); err != nil {
		t.Fatalf("mkdir standards: %v", err)
	}

	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o750); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	cfg, err := config.Load(config.LoadConfigInput{WorkDirOverride: nested, Env: map[string]string{}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ProjectRoot != root {
		t.Fatalf("ProjectRoot = %q, want %q", cfg.ProjectRoot, root)
	}
}
