package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/bookfetch/pkg/acquire"
	"github.com/Sriram-PR/bookfetch/pkg/config"
	"github.com/Sriram-PR/bookfetch/pkg/orchestrate"
	"github.com/Sriram-PR/bookfetch/pkg/render"
	"github.com/Sriram-PR/bookfetch/pkg/storage"
	"github.com/Sriram-PR/bookfetch/pkg/validate"
)

func newAcquireCmd() *cobra.Command {
	var entryFile string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "acquire --entry <file>",
		Short: "Acquire documents for the catalog entries in a YAML or JSON file",
		Long: `Acquire reads one catalog entry or a list of entries and produces a validated
local PDF for each, in parallel (max_concurrent_acquisitions).

Examples:
  bookfetch acquire --entry books.yaml
  bookfetch acquire --entry book.json --json --loglevel debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(flagLogLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(log)
			defer cancel()
			return doAcquire(ctx, flagConfig, entryFile, jsonOut, log, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&entryFile, "entry", "", "YAML/JSON file with one catalog entry or a list of entries (required)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print results as JSON")
	_ = cmd.MarkFlagRequired("entry")
	return cmd
}

// acquireResult is the JSON form of one entry's outcome
type acquireResult struct {
	EntryID    string `json:"entry_id"`
	CacheKey   string `json:"cache_key"`
	Status     string `json:"status"`
	Path       string `json:"path,omitempty"`
	Strategy   string `json:"strategy,omitempty"`
	Degraded   bool   `json:"degraded,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// doAcquire is the testable implementation of the acquire command
func doAcquire(ctx context.Context, configPath, entryFile string, jsonOut bool, log *logrus.Logger, stdout io.Writer) error {
	log.Infof("Loading configuration from %s", configPath)
	appCfg, err := loadConfig(configPath, log)
	if err != nil {
		return err
	}
	logAppConfig(appCfg, log)

	entries, err := orchestrate.LoadEntries(entryFile)
	if err != nil {
		return err
	}

	rt, err := acquire.NewRuntime(appCfg, logrus.NewEntry(log))
	if err != nil {
		return err
	}
	defer func() {
		if errClose := rt.Close(); errClose != nil {
			log.Warnf("Error closing index: %v", errClose)
		}
	}()

	orch := orchestrate.NewOrchestrator(ctx, rt.Pipeline, appCfg.MaxConcurrentAcquisitions, log.WithField("component", "orchestrator"))
	results := orch.Run(entries)

	failed := 0
	out := make([]acquireResult, 0, len(results))
	for _, r := range results {
		res := acquireResult{
			EntryID:    r.Entry.ID,
			CacheKey:   r.Entry.Key().String(),
			Status:     r.Outcome.Status.String(),
			DurationMs: r.Duration.Milliseconds(),
		}
		if r.Outcome.IsReady() {
			res.Path = r.Outcome.Path
			res.Strategy = r.Outcome.Strategy.String()
			res.Degraded = r.Outcome.Strategy.IsDegraded()
		} else {
			failed++
			res.Reason = r.Outcome.Reason
			if r.Outcome.Err != nil {
				res.Error = r.Outcome.Err.Error()
			}
		}
		out = append(out, res)
	}

	if jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		for _, res := range out {
			if res.Path != "" {
				fmt.Fprintf(stdout, "READY   %s  %s  (%s)\n", res.CacheKey, res.Path, res.Strategy)
			} else {
				fmt.Fprintf(stdout, "FAILED  %s  %s\n", res.CacheKey, res.Reason)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d entries failed", failed, len(results))
	}
	return nil
}

func newValidateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Check the config file and print warnings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doValidateConfig(flagConfig, cmd.OutOrStdout())
		},
	}
}

// doValidateConfig is the testable implementation of validate-config
func doValidateConfig(configPath string, stdout io.Writer) error {
	appCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "OK: cache_dir=%s fallback_document=%s providers=%d\n",
		appCfg.CacheDir, appCfg.FallbackDocument, len(appCfg.Providers))
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return nil
}

func newFallbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fallback [path]",
		Short: "Generate the bundled placeholder document",
		Long: `Fallback writes the placeholder PDF served when no strategy produces a
document. Without a path it writes to fallback_document from the config file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(flagLogLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return doFallback(flagConfig, path, log, cmd.OutOrStdout())
		},
	}
}

// doFallback is the testable implementation of the fallback command
func doFallback(configPath, path string, log *logrus.Logger, stdout io.Writer) error {
	minBytes := int64(config.DefaultMinDocumentBytes)
	if path == "" {
		appCfg, err := loadConfig(configPath, log)
		if err != nil {
			return err
		}
		path = appCfg.FallbackDocument
		minBytes = appCfg.MinDocumentBytes
	}

	if err := render.WriteFallbackDocument(path); err != nil {
		return err
	}
	report, err := validate.NewValidator(minBytes, logrus.NewEntry(log)).Inspect(path)
	if err != nil {
		return fmt.Errorf("generated fallback does not validate: %w", err)
	}

	fmt.Fprintf(stdout, "Wrote %s (%d pages, %d bytes)\n", report.Path, report.Pages, report.SizeBytes)
	return nil
}

func newInspectCmd() *cobra.Command {
	var minBytes int64

	cmd := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Report whether a file is a usable document, without deleting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(flagLogLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return doInspect(args[0], minBytes, log, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Int64Var(&minBytes, "min-bytes", config.DefaultMinDocumentBytes, "Files at or below this size are rejected")
	return cmd
}

// doInspect is the testable implementation of the inspect command
func doInspect(path string, minBytes int64, log *logrus.Logger, stdout io.Writer) error {
	report, err := validate.NewValidator(minBytes, logrus.NewEntry(log)).Inspect(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the local document cache",
	}

	var jsonOut bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cached documents with their provenance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(cache *storage.CacheStore) error {
				return doCacheList(cache, jsonOut, cmd.OutOrStdout())
			})
		},
	}
	listCmd.Flags().BoolVar(&jsonOut, "json", false, "Print records as JSON")

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop index records whose document is gone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(cache *storage.CacheStore) error {
				n, err := cache.Prune()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d records\n", n)
				return nil
			})
		},
	}

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every cached document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(cache *storage.CacheStore) error {
				n, err := cache.Purge()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d documents from %s\n", n, cache.Dir())
				return nil
			})
		},
	}

	cacheCmd.AddCommand(listCmd, pruneCmd, purgeCmd)
	return cacheCmd
}

// withCache opens the cache store and its index for the duration of fn
func withCache(cmd *cobra.Command, fn func(cache *storage.CacheStore) error) error {
	log, err := newLogger(flagLogLevel, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	appCfg, err := loadConfig(flagConfig, log)
	if err != nil {
		return err
	}
	cache, closeFn, err := openCache(appCfg, logrus.NewEntry(log))
	if err != nil {
		return err
	}
	defer func() {
		if errClose := closeFn(); errClose != nil {
			log.Warnf("Error closing index: %v", errClose)
		}
	}()
	return fn(cache)
}

func openCache(appCfg *config.AppConfig, log *logrus.Entry) (*storage.CacheStore, func() error, error) {
	validator := validate.NewValidator(appCfg.MinDocumentBytes, log.WithField("component", "validator"))
	index, err := storage.NewBadgerIndex(appCfg.IndexDir, log.WithField("component", "index"))
	if err != nil {
		return nil, nil, err
	}
	cache, err := storage.NewCacheStore(appCfg.CacheDir, validator, index, log.WithField("component", "cache"))
	if err != nil {
		index.Close()
		return nil, nil, err
	}
	return cache, index.Close, nil
}

// doCacheList is the testable implementation of cache list
func doCacheList(cache *storage.CacheStore, jsonOut bool, stdout io.Writer) error {
	entries, err := cache.List()
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	for _, e := range entries {
		fmt.Fprintf(stdout, "%-40s %-16s %10d  %s  %s\n",
			e.Key, e.Strategy, e.SizeBytes, e.AcquiredAt.Format(time.RFC3339), e.Path)
	}
	fmt.Fprintf(stdout, "%d cached documents\n", len(entries))
	return nil
}
