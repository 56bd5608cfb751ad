// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/AleutianAI/AleutianDocQA/pkg/logging"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/services"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/watch"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logDir     string
	logJSON    bool

	port        int
	weaviateURL string
	llmBackend  string
	blobBackend string
	watchFiles  bool

	// closeLogger releases the log file opened in PersistentPreRunE.
	closeLogger = func() error { return nil }

	rootCmd = &cobra.Command{
		Use:   "orchestrator",
		Short: "Document question answering over your own files",
		Long: `orchestrator ingests documents into a vector index and answers
questions about them with retrieval-augmented generation.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			json := logJSON
			if !cmd.Flags().Changed("log-json") {
				json = !stderrIsTerminal()
			}
			return setupLogging(cmd.Name(), json)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return closeLogger()
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}

	ingestCmd = &cobra.Command{
		Use:     "ingest [file or directory...]",
		Short:   "Ingest local documents into the index",
		Aliases: []string{"i"},
		Args:    cobra.MinimumNArgs(1),
		RunE:    runIngest,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Also write JSON logs to this directory")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write JSON logs to stderr (default: JSON unless stderr is a terminal)")
	rootCmd.PersistentFlags().StringVar(&weaviateURL, "weaviate-url", "", "Weaviate URL (empty uses the in-memory index)")
	rootCmd.PersistentFlags().StringVar(&llmBackend, "llm-backend", "", "LLM backend: completions, local, ollama, openai")
	rootCmd.PersistentFlags().StringVar(&blobBackend, "blob-backend", "", "Blob store: memory, badger, gcs")

	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (default 12210)")
	ingestCmd.Flags().BoolVarP(&watchFiles, "watch", "w", false, "Keep running and re-ingest files as they change")

	rootCmd.AddCommand(serveCmd, ingestCmd)
}

// setupLogging installs the process-wide slog default.
func setupLogging(service string, json bool) error {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{
		Level:   level,
		LogDir:  logDir,
		Service: service,
		JSON:    json,
	})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	slog.SetDefault(logger.Slog())
	closeLogger = logger.Close
	return nil
}

// loadConfig reads the config file and environment, then applies any flag
// the user set explicitly.
func loadConfig(cmd *cobra.Command) (orchestrator.Config, error) {
	cfg, err := orchestrator.LoadConfig(configPath)
	if err != nil {
		return orchestrator.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("weaviate-url") {
		cfg.WeaviateURL = weaviateURL
	}
	if flags.Changed("llm-backend") {
		cfg.LLM.Backend = llmBackend
	}
	if flags.Changed("blob-backend") {
		cfg.Blob.Backend = blobBackend
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	runErr := svc.Run(ctx)
	return errors.Join(runErr, svc.Close())
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.WeaviateURL == "" {
		slog.Warn("No Weaviate URL configured; ingested chunks live only for this process")
	}
	// Nothing to expire in a one-shot run.
	cfg.Sessions.IdleTTL = -1

	files, err := collectFiles(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	errs := []error{ingestFiles(ctx, svc, files, cmd)}
	if watchFiles {
		errs = append(errs, watchAndSync(ctx, svc, args, cmd))
	}
	errs = append(errs, svc.Close())
	return errors.Join(errs...)
}

// fileIngester is the slice of orchestrator.Service the ingest command uses.
type fileIngester interface {
	IngestFile(ctx context.Context, filename string, data []byte) (*services.IngestResult, error)
}

// fileSyncer adds deletion for --watch.
type fileSyncer interface {
	fileIngester
	DeleteFile(ctx context.Context, filename string) error
}

// watchAndSync mirrors changes under roots into the index until ctx is
// cancelled.
func watchAndSync(ctx context.Context, syncer fileSyncer, roots []string, cmd *cobra.Command) error {
	w, err := watch.New(roots, func(ctx context.Context, changes []watch.Change) {
		if err := syncChanges(ctx, syncer, changes, cmd); err != nil {
			slog.Warn("Some changes were not synced", "error", err)
		}
	}, nil)
	if err != nil {
		return err
	}
	cmd.Println(styleMuted.Render("Watching for changes. Press Ctrl+C to stop."))
	return w.Run(ctx)
}

// syncChanges applies one batch of file changes. A failure on one file
// does not stop the rest.
func syncChanges(ctx context.Context, syncer fileSyncer, changes []watch.Change, cmd *cobra.Command) error {
	var errs []error
	for _, change := range changes {
		switch change.Op {
		case watch.OpRemove:
			filename := filepath.Base(change.Path)
			if err := syncer.DeleteFile(ctx, filename); err != nil {
				errs = append(errs, fmt.Errorf("delete %s: %w", filename, err))
				cmd.Printf("%s Failed to remove %s\n", symbolFailed, change.Path)
				continue
			}
			cmd.Printf("%s Removed %s\n", symbolRemoved, change.Path)
		default:
			if err := ingestFiles(ctx, syncer, []string{change.Path}, cmd); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ingestFiles ingests every file and reports all failures rather than
// stopping at the first.
func ingestFiles(ctx context.Context, ingester fileIngester, files []string, cmd *cobra.Command) error {
	var errs []error
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", path, err))
			cmd.Printf("%s Could not read %s\n", symbolFailed, path)
			continue
		}
		result, err := ingester.IngestFile(ctx, filepath.Base(path), data)
		if err != nil {
			slog.Error("Ingestion failed", "path", path, "error", err)
			errs = append(errs, fmt.Errorf("ingest %s: %w", path, err))
			cmd.Printf("%s Failed to ingest %s\n", symbolFailed, path)
			continue
		}
		cmd.Printf("%s Ingested %s as %s (%d chunks)\n",
			symbolOK, path, styleBold.Render(result.DocumentID), result.Chunks)
	}
	return errors.Join(errs...)
}

// ingestExtensions lists the file types collected from directories.
// Files named explicitly are always ingested.
var ingestExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
}

// collectFiles expands directories into the text files beneath them,
// skipping hidden entries, and returns the result sorted.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != root && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() && ingestExtensions[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	sort.Strings(files)
	return files, nil
}
