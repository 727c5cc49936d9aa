package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/odplab/portalstats/internal/archive"
	"github.com/odplab/portalstats/internal/ckan"
	"github.com/odplab/portalstats/internal/core/config"
	"github.com/odplab/portalstats/internal/core/report"
	"github.com/odplab/portalstats/internal/reports"
	"github.com/odplab/portalstats/internal/runlock"
	"github.com/odplab/portalstats/internal/server"
)

const usage = `usage: portalstats <command> [flags] [args]

commands:
  run      run report jobs (all defined, or the named ones)
  serve    preview generated reports locally
  archive  file current output into the period archive
`

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(os.Args[2:])
	case "serve":
		err = serveCmd(os.Args[2:])
	case "archive":
		err = archiveCmd(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, []string, error) {
	configPath := fs.String("config", "portalstats.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, fs.Args(), nil
}

// runCmd executes report jobs sequentially under the single-run guard.
// The first failure aborts the run; completed reports keep their output,
// the failed one leaves its previous snapshot untouched.
func runCmd(args []string) error {
	cfg, names, err := loadConfig(flag.NewFlagSet("run", flag.ExitOnError), args)
	if err != nil {
		return err
	}

	defs, err := selectDefinitions(cfg.Definitions, names)
	if err != nil {
		return err
	}

	lock, err := runlock.Acquire(cfg.LockPath())
	if err != nil {
		if errors.Is(err, runlock.ErrHeld) {
			slog.Error("Another run is in progress", "lock", cfg.LockPath())
		}
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Error("Failed to release run lock", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	env := reports.Env{
		Client:     ckan.New(cfg.API.BaseURL, cfg.API.Token),
		StateDir:   cfg.Paths.StateDir,
		OutDir:     cfg.Paths.OutDir,
		PageSize:   cfg.API.PageSize,
		MaxRecords: cfg.API.MaxRecords,
		Months:     cfg.Reports.Months,
		Now:        time.Now().UTC(),
	}

	slog.Info("Run starting", "run_id", runID, "reports", len(defs), "portal", cfg.API.BaseURL)

	for _, def := range defs {
		job, err := reports.New(def)
		if err != nil {
			return err
		}
		started := time.Now()
		slog.Info("Report starting", "run_id", runID, "report", def.Name, "job", def.Job, "fingerprint", def.Fingerprint[:12])
		if err := job.Run(ctx, env); err != nil {
			return err
		}
		slog.Info("Report complete", "run_id", runID, "report", def.Name, "elapsed", time.Since(started).Round(time.Millisecond))
	}

	slog.Info("Run complete", "run_id", runID, "reports", len(defs))
	return nil
}

func selectDefinitions(defs []report.Definition, names []string) ([]report.Definition, error) {
	if len(names) == 0 {
		return defs, nil
	}
	byName := make(map[string]report.Definition, len(defs))
	for _, def := range defs {
		byName[def.Name] = def
	}
	selected := make([]report.Definition, 0, len(names))
	for _, name := range names {
		def, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown report %q", name)
		}
		selected = append(selected, def)
	}
	return selected, nil
}

func serveCmd(args []string) error {
	cfg, _, err := loadConfig(flag.NewFlagSet("serve", flag.ExitOnError), args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), cfg.Paths.OutDir, cfg.Server.Mode)
	return srv.Run(ctx)
}

// archiveCmd files the current output directory into the zip archive under
// the previous calendar month, the period the monthly source resources
// cover. Members already archived are left untouched.
func archiveCmd(args []string) error {
	cfg, _, err := loadConfig(flag.NewFlagSet("archive", flag.ExitOnError), args)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(cfg.Paths.OutDir)
	if err != nil {
		return fmt.Errorf("read output dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == filepath.Base(cfg.Paths.ArchiveFile) {
			continue
		}
		files = append(files, filepath.Join(cfg.Paths.OutDir, e.Name()))
	}

	period := report.PreviousPeriod(time.Now())
	added, err := archive.Update(cfg.Paths.ArchiveFile, period, files)
	if err != nil {
		return err
	}
	slog.Info("Archive updated", "archive", cfg.Paths.ArchiveFile, "period", period, "added", len(added))
	return nil
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
