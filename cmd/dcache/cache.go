package main

import (
	"context"

	"github.com/advising-platform/doccache/internal/appctx"
	"github.com/advising-platform/doccache/internal/clihelp"
	"github.com/advising-platform/doccache/internal/pathkey"
	"github.com/advising-platform/doccache/internal/syncverify"
	flag "github.com/spf13/pflag"
)

// CacheCheckCmd runs the three-way filesystem/cache-state sync verifier
// and, with --fix, repairs the on-disk state file from filesystem truth.
func CacheCheckCmd(app *appctx.App) *clihelp.Command {
	fs := flag.NewFlagSet("cache-check", flag.ContinueOnError)
	fix := fs.Bool("fix", false, "repair the cache state file from filesystem truth")

	return &clihelp.Command{
		Flags: fs,
		Usage: "cache-check [--fix]",
		Short: "verify the cache state matches the filesystem",
		Exec: func(ctx context.Context, o *clihelp.IO, args []string) error {
			var state syncverify.StateSnapshot

			stateKey := appStateKey(app)
			if err := app.Ops.ReadJSON(stateKey, &state); err != nil {
				state = syncverify.StateSnapshot{}
			}

			diff, err := app.Verifier.Verify(state)
			if err != nil {
				return err
			}

			printDiff(o, diff)

			if diff.Empty() {
				o.Println("cache state is in sync")

				return nil
			}

			if !*fix {
				o.Warn("cache state is out of sync; rerun with --fix to repair")

				return nil
			}

			fixed, err := app.Verifier.FixSyncIssues(app.Ops, stateKey, state, diff)
			if err != nil {
				return err
			}

			o.Printf("repaired: document_count=%d cache_size=%d\n", fixed.DocumentCount, fixed.CacheSize)

			return nil
		},
	}
}

// CacheStatsCmd reports in-memory cache statistics: size, hit rate, and
// the per-category breakdown.
func CacheStatsCmd(app *appctx.App) *clihelp.Command {
	fs := flag.NewFlagSet("cache-stats", flag.ContinueOnError)

	return &clihelp.Command{
		Flags: fs,
		Usage: "cache-stats",
		Short: "show in-memory cache statistics",
		Exec: func(ctx context.Context, o *clihelp.IO, args []string) error {
			stats := app.Cache.Statistics()

			o.Printf("documents=%d max=%d hit_rate=%.2f\n", stats.DocumentCount, stats.MaxCacheSize, stats.HitRate)

			for cat, cs := range stats.ByCategory {
				o.Printf("  %-20s count=%d bytes=%d\n", cat, cs.Count, cs.TotalBytes)
			}

			return nil
		},
	}
}

func printDiff(o *clihelp.IO, diff syncverify.Diff) {
	o.Printf("missing_in_cache=%d missing_in_filesystem=%d metadata_mismatch=%d\n",
		len(diff.MissingInCache), len(diff.MissingInFilesystem), len(diff.MetadataMismatch))
}

func appStateKey(app *appctx.App) pathkey.Key {
	return pathkey.Key(app.Config.CacheStatePath)
}
