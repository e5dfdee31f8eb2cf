// Package appctx wires the document cache and synchronization core's
// components — key resolution, locking, atomic file ops, the cache
// itself, sync verification, checkpoint coordination, and the
// transaction orchestrator — into one application context passed to
// every entry point, rather than relying on process-wide singletons.
package appctx

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/advising-platform/doccache/internal/atomicfs"
	"github.com/advising-platform/doccache/internal/checkpoint"
	"github.com/advising-platform/doccache/internal/config"
	"github.com/advising-platform/doccache/internal/doccache"
	"github.com/advising-platform/doccache/internal/lockmgr"
	"github.com/advising-platform/doccache/internal/pathkey"
	"github.com/advising-platform/doccache/internal/syncverify"
	"github.com/advising-platform/doccache/internal/txn"
	dfs "github.com/advising-platform/doccache/pkg/fs"
)

// App bundles the core's components, constructed once per process and
// threaded explicitly through command handlers and the CLI's command
// dispatch.
type App struct {
	Config   config.Config
	Resolver *pathkey.Resolver
	Locks    *lockmgr.Manager
	Ops      *atomicfs.Ops
	Cache    *doccache.Cache
	Verifier *syncverify.Verifier
	Registry *checkpoint.Registry
	Check    *checkpoint.Coordinator

	read   doccache.LoadFunc
	logger *log.Logger
}

// cacheAdapter bridges doccache.Cache to the atomicfs.CacheUpdater
// capability contract atomicfs.Ops expects: ScheduleUpdate re-reads the
// file immediately (outside a transaction, where there is no deferred
// publication), and ScheduleInvalidate drops the entry.
type cacheAdapter struct {
	cache *doccache.Cache
	read  doccache.LoadFunc
}

func (a cacheAdapter) ScheduleUpdate(key pathkey.Key)     { a.cache.ReloadNow(key, a.read) }
func (a cacheAdapter) ScheduleInvalidate(key pathkey.Key) { a.cache.Invalidate(key) }

// New constructs an App from cfg. logger defaults to log.Default if nil.
func New(cfg config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}

	warn := func(format string, args ...any) { logger.Printf("warn: "+format, args...) }

	real := dfs.NewReal()

	listMarkdown := func(dir string) ([]string, error) {
		entries, err := real.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}

			return nil, err
		}

		var out []string

		for _, e := range entries {
			if e.IsDir() {
				continue
			}

			if filepath.Ext(e.Name()) == ".md" {
				out = append(out, e.Name())
			}
		}

		return out, nil
	}

	resolver, err := pathkey.NewResolver(cfg.ProjectRoot, cfg.StandardsDir, cfg.CollaboratorDir, listMarkdown, warn)
	if err != nil {
		return nil, err
	}

	cache := doccache.New(doccache.Options{
		MaxCacheSize:  cfg.MaxCacheSize,
		MaxCacheBytes: cfg.MaxCacheBytes,
		StandardsDir:  cfg.StandardsDir,
	})

	read := func(key pathkey.Key) ([]byte, time.Time, error) {
		data, err := real.ReadFile(filepath.Join(cfg.ProjectRoot, string(key)))
		if err != nil {
			return nil, time.Time{}, err
		}

		info, err := real.Stat(filepath.Join(cfg.ProjectRoot, string(key)))
		if err != nil {
			return nil, time.Time{}, err
		}

		return data, info.ModTime(), nil
	}

	updater := cacheAdapter{cache: cache, read: read}

	ops := atomicfs.New(real, cfg.ProjectRoot, updater)

	verifier := syncverify.New(real, syncverify.Config{BaseDir: cfg.ProjectRoot})

	registry := checkpoint.NewRegistry(warn)

	paths := checkpoint.Paths{
		StatePath:          pathkey.Key(cfg.CacheStatePath),
		DetailedStatePath:  pathkey.Key(cfg.DetailedStatePath),
		BackupDir:          pathkey.Key(cfg.CheckpointBackupDir),
		MetadataPath:       "checkpoint_metadata.json",
		CleanupReportPath:  "cleanup_report.json",
		RecoveryReportPath: "recovery_report.json",
	}

	locker := dfs.NewLocker(real)
	coord := checkpoint.New(cache, ops, registry, paths, locker)

	return &App{
		Config:   cfg,
		Resolver: resolver,
		Locks:    lockmgr.New(),
		Ops:      ops,
		Cache:    cache,
		Verifier: verifier,
		Registry: registry,
		Check:    coord,
		read:     read,
		logger:   logger,
	}, nil
}

// NewTransaction returns a Transaction over filesToLock, wired to this
// App's shared Locks, Ops, and Cache.
func (a *App) NewTransaction(filesToLock []pathkey.Key, updateCache bool) *txn.Transaction {
	return txn.New(a.Locks, a.Ops, a.Cache, a.read, filesToLock, updateCache, a.Config.FileLockTimeout)
}

// Logger returns the App's logger.
func (a *App) Logger() *log.Logger { return a.logger }

// PrepareForCheckpoint snapshots the current cache contents and runs the
// quiescence protocol.
func (a *App) PrepareForCheckpoint() (checkpoint.Report, error) {
	return a.Check.PrepareForCheckpoint(a.Cache.Entries())
}

// RestoreAfterCheckpoint restores the cache from the checkpoint backup,
// falling back to the live state file at Config.CacheStatePath.
func (a *App) RestoreAfterCheckpoint() (checkpoint.Report, error) {
	return a.Check.RestoreAfterCheckpoint(pathkey.Key(a.Config.CacheStatePath))
}

// Backup snapshots the current cache contents to the checkpoint backup
// files without running cleanup handlers or clearing the cache.
func (a *App) Backup() (checkpoint.Report, error) {
	return a.Check.Backup(a.Cache.Entries())
}

// Cleanup runs every registered cleanup handler without touching the cache
// or backup files.
func (a *App) Cleanup() (checkpoint.Report, error) {
	return a.Check.Cleanup()
}
