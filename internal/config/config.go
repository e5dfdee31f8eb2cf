// Package config loads the project's document-cache configuration from a
// layered set of JSONC files, the same precedence the project's other
// tools use for their own config.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"
)

// ErrConfigInvalid wraps a malformed config file.
var ErrConfigInvalid = errors.New("invalid config")

// ErrConfigFileNotFound is returned when an explicitly named config file
// does not exist.
var ErrConfigFileNotFound = errors.New("config file not found")

// ConfigFileName is the default project config file name.
const ConfigFileName = ".dcache.json"

// Config holds every tunable of the document cache and synchronization
// core.
type Config struct {
	StandardsDir        string        `json:"standards_dir"`
	TodoDir             string        `json:"todo_dir,omitempty"`
	CollaboratorDir     string        `json:"collaborator_dir,omitempty"`
	MaxCacheSize        int           `json:"max_cache_size"`
	MaxCacheBytes       int64         `json:"max_cache_bytes,omitempty"`
	FileLockTimeout     time.Duration `json:"file_lock_timeout"`
	CacheStatePath      string        `json:"cache_state_path"`
	DetailedStatePath   string        `json:"detailed_state_path"`
	CheckpointBackupDir string        `json:"checkpoint_backup_dir"`

	// EffectiveCwd and ProjectRoot are resolved, not serialized.
	EffectiveCwd string        `json:"-"`
	ProjectRoot  string        `json:"-"`
	Sources      ConfigSources `json:"-"`
}

// ConfigSources records which config files were loaded, for diagnostics.
type ConfigSources struct {
	Global  string
	Project string
}

// DefaultConfig returns the configuration used when no config file is
// present.
func DefaultConfig() Config {
	return Config{
		StandardsDir:        "standards",
		TodoDir:             "todo",
		CollaboratorDir:     "collaborators",
		MaxCacheSize:        500,
		FileLockTimeout:     2 * time.Second,
		CacheStatePath:      "cache_state.json",
		DetailedStatePath:   "cache_detailed_state.bin",
		CheckpointBackupDir: "checkpoint_backup",
	}
}

// LoadConfigInput holds the inputs for Load.
type LoadConfigInput struct {
	WorkDirOverride string
	ConfigPath      string
	Env             map[string]string
}

// Load loads configuration with precedence (highest wins): defaults,
// global user config, then project config (.dcache.json or an explicit
// --config path). Load applies no per-field overrides from CLI flags or
// environment variables; Env is consulted only to locate the global
// config file.
func Load(input LoadConfigInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := DefaultConfig()

	globalCfg, globalPath, err := loadGlobalConfig(input.Env)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = globalPath
	cfg = mergeConfig(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectPath
	cfg = mergeConfig(cfg, projectCfg)

	cfg.EffectiveCwd = workDir
	cfg.ProjectRoot = discoverProjectRoot(workDir, cfg.StandardsDir)

	return cfg, nil
}

// discoverProjectRoot walks upward from start until a directory
// containing standardsDir is found; failing that, start is used.
func discoverProjectRoot(start, standardsDir string) string {
	dir := start

	for {
		if _, err := os.Stat(filepath.Join(dir, standardsDir)); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}

		dir = parent
	}
}

func getGlobalConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "dcache", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "dcache", "config.json")
	}

	return ""
}

func loadGlobalConfig(env map[string]string) (Config, string, error) {
	path := getGlobalConfigPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadConfigFile(path, false)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	var path string

	var mustExist bool

	if configPath != "" {
		path = configPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}

		mustExist = true

		if _, err := os.Stat(path); err != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	} else {
		path = filepath.Join(workDir, ConfigFileName)
	}

	cfg, loaded, err := loadConfigFile(path, mustExist)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("reading config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: invalid JSONC: %v", ErrConfigInvalid, path, err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %v", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.StandardsDir != "" {
		base.StandardsDir = overlay.StandardsDir
	}

	if overlay.TodoDir != "" {
		base.TodoDir = overlay.TodoDir
	}

	if overlay.CollaboratorDir != "" {
		base.CollaboratorDir = overlay.CollaboratorDir
	}

	if overlay.MaxCacheSize != 0 {
		base.MaxCacheSize = overlay.MaxCacheSize
	}

	if overlay.MaxCacheBytes != 0 {
		base.MaxCacheBytes = overlay.MaxCacheBytes
	}

	if overlay.FileLockTimeout != 0 {
		base.FileLockTimeout = overlay.FileLockTimeout
	}

	if overlay.CacheStatePath != "" {
		base.CacheStatePath = overlay.CacheStatePath
	}

	if overlay.DetailedStatePath != "" {
		base.DetailedStatePath = overlay.DetailedStatePath
	}

	if overlay.CheckpointBackupDir != "" {
		base.CheckpointBackupDir = overlay.CheckpointBackupDir
	}

	return base
}
