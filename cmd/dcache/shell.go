package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/advising-platform/doccache/internal/appctx"
	"github.com/advising-platform/doccache/internal/clihelp"
	"github.com/advising-platform/doccache/internal/pathkey"
	"github.com/natefinch/atomic"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

// ShellCmd opens an interactive REPL over the cache: search, get, and
// statistics, useful for diagnosing a running project's cache without
// writing a one-off script.
func ShellCmd(app *appctx.App) *clihelp.Command {
	fs := flag.NewFlagSet("shell", flag.ContinueOnError)

	return &clihelp.Command{
		Flags: fs,
		Usage: "shell",
		Short: "open an interactive cache inspection shell",
		Exec: func(ctx context.Context, o *clihelp.IO, args []string) error {
			repl := &shellREPL{app: app, out: o}

			return repl.run()
		},
	}
}

type shellREPL struct {
	app   *appctx.App
	out   *clihelp.IO
	liner *liner.State
}

func shellHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".dcache_shell_history")
}

func (r *shellREPL) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)

	if f, err := os.Open(shellHistoryFile()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		f.Close()
	}

	r.out.Println("dcache shell - type 'help' for commands")

	for {
		line, err := r.liner.Prompt("dcache> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				r.out.Println("bye")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		cmdArgs := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			r.saveHistory()

			return nil
		case "help", "?":
			r.printHelp()
		case "get":
			r.cmdGet(cmdArgs)
		case "search":
			r.cmdSearch(cmdArgs)
		case "stats":
			r.cmdStats()
		default:
			r.out.Printf("unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *shellREPL) saveHistory() {
	path := shellHistoryFile()
	if path == "" {
		return
	}

	var buf bytes.Buffer
	if _, err := r.liner.WriteHistory(&buf); err != nil {
		return
	}

	_ = atomic.WriteFile(path, &buf)
}

func (r *shellREPL) printHelp() {
	r.out.Println("commands:")
	r.out.Println("  get <key>              show a cached document's metadata")
	r.out.Println("  search <query>         rank cached documents by token overlap")
	r.out.Println("  stats                  show cache statistics")
	r.out.Println("  exit / quit / q        leave the shell")
}

func (r *shellREPL) cmdGet(args []string) {
	if len(args) != 1 {
		r.out.Println("usage: get <key>")

		return
	}

	e, ok := r.app.Cache.Get(pathkey.Key(args[0]))
	if !ok {
		r.out.Printf("not cached: %s\n", args[0])

		return
	}

	r.out.Printf("key=%s category=%s size=%d access_count=%d\n", e.Key, e.Category, e.Size, e.AccessCount)
}

func (r *shellREPL) cmdSearch(args []string) {
	if len(args) == 0 {
		r.out.Println("usage: search <query>")

		return
	}

	results := r.app.Cache.Search(strings.Join(args, " "))
	if len(results) == 0 {
		r.out.Println("no matches")

		return
	}

	for _, res := range results {
		r.out.Printf("%-40s score=%s\n", res.Key, strconv.Itoa(res.Score))
	}
}

func (r *shellREPL) cmdStats() {
	stats := r.app.Cache.Statistics()
	r.out.Printf("documents=%d max=%d hit_rate=%.2f\n", stats.DocumentCount, stats.MaxCacheSize, stats.HitRate)
}
