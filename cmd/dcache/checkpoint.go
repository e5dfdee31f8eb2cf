package main

import (
	"context"

	"github.com/advising-platform/doccache/internal/appctx"
	"github.com/advising-platform/doccache/internal/clihelp"
	flag "github.com/spf13/pflag"
)

// CheckpointPrepareCmd runs the quiescence protocol: it snapshots the
// cache to the checkpoint backup, runs cleanup handlers, then clears the
// cache and forces GC so an external checkpoint tool can snapshot the
// process cleanly.
func CheckpointPrepareCmd(app *appctx.App) *clihelp.Command {
	fs := flag.NewFlagSet("checkpoint-prepare", flag.ContinueOnError)

	return &clihelp.Command{
		Flags: fs,
		Usage: "checkpoint-prepare",
		Short: "prepare the cache for an external checkpoint",
		Exec: func(ctx context.Context, o *clihelp.IO, args []string) error {
			report, err := app.PrepareForCheckpoint()
			if err != nil {
				return err
			}

			o.Printf("checkpoint prepared: success=%v handlers=%d\n", report.Success, len(report.Handlers))

			return nil
		},
	}
}

// CheckpointBackupCmd snapshots the cache to the checkpoint backup files
// (content, state, and detailed metadata) without running cleanup handlers
// or clearing the cache, leaving it live and serving.
func CheckpointBackupCmd(app *appctx.App) *clihelp.Command {
	fs := flag.NewFlagSet("checkpoint-backup", flag.ContinueOnError)

	return &clihelp.Command{
		Flags: fs,
		Usage: "checkpoint-backup",
		Short: "snapshot the cache to the checkpoint backup without clearing it",
		Exec: func(ctx context.Context, o *clihelp.IO, args []string) error {
			report, err := app.Backup()
			if err != nil {
				return err
			}

			o.Printf("checkpoint backup: success=%v\n", report.Success)

			return nil
		},
	}
}

// CheckpointCleanupCmd runs every registered cleanup handler without
// touching the cache or backup files.
func CheckpointCleanupCmd(app *appctx.App) *clihelp.Command {
	fs := flag.NewFlagSet("checkpoint-cleanup", flag.ContinueOnError)

	return &clihelp.Command{
		Flags: fs,
		Usage: "checkpoint-cleanup",
		Short: "run registered cleanup handlers without touching the cache",
		Exec: func(ctx context.Context, o *clihelp.IO, args []string) error {
			report, err := app.Cleanup()
			if err != nil {
				return err
			}

			o.Printf("checkpoint cleanup: success=%v handlers=%d\n", report.Success, len(report.Handlers))

			return nil
		},
	}
}

// CheckpointRestoreCmd restores the cache from the checkpoint backup,
// falling back to the live state file if the backup is unavailable.
func CheckpointRestoreCmd(app *appctx.App) *clihelp.Command {
	fs := flag.NewFlagSet("checkpoint-restore", flag.ContinueOnError)

	return &clihelp.Command{
		Flags: fs,
		Usage: "checkpoint-restore",
		Short: "restore the cache after an external checkpoint",
		Exec: func(ctx context.Context, o *clihelp.IO, args []string) error {
			report, err := app.RestoreAfterCheckpoint()
			if err != nil {
				o.Warn("restore could not find a backup or live state: " + err.Error())

				return err
			}

			o.Printf("checkpoint restored: success=%v documents=%d\n", report.Success, app.Cache.Statistics().DocumentCount)

			return nil
		},
	}
}
