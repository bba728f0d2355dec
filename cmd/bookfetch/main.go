package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/bookfetch/pkg/config"
)

const version = "0.4.0"

// Persistent flag values shared by every subcommand
var (
	flagConfig   string
	flagLogLevel string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bookfetch",
		Short: "bookfetch - acquire validated PDF documents for catalog books",
		Long: `bookfetch turns a catalog entry (id, title, candidate links) into a validated
local PDF. It tries the cache, the direct link, links scraped from the landing
page, provider URL conventions, EPUB conversion and an off-screen rendering of
the landing page, then falls back to a bundled placeholder document.

Usage:
  bookfetch acquire --entry books.yaml [flags]`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "config.yaml", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newAcquireCmd(),
		newValidateConfigCmd(),
		newFallbackCmd(),
		newInspectCmd(),
		newCacheCmd(),
		newMcpServerCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bookfetch %s\n", version)
		},
	}
}

// newLogger builds the CLI logger writing to w
func newLogger(levelStr string, w io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log level '%s': %w", levelStr, err)
	}
	log.SetLevel(level)
	return log, nil
}

// loadConfig reads, defaults and validates the config file, logging any warnings
func loadConfig(path string, log *logrus.Logger) (*config.AppConfig, error) {
	appCfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}
	return appCfg, nil
}

func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: CacheDir:%s, IndexDir:%s, Fallback:%s",
		appCfg.CacheDir, appCfg.IndexDir, appCfg.FallbackDocument)
	log.Infof("Global Config: MaxConcurrent:%d, MaxReqPerHost:%d, DefaultDelay:%v, RespectRobots:%t",
		appCfg.MaxConcurrentAcquisitions, appCfg.MaxRequestsPerHost, appCfg.DefaultDelayPerHost, appCfg.RespectRobots)
	log.Infof("Global Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v, ProbeTimeout:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay, appCfg.ProbeTimeout)
	log.Infof("Global Config Documents: MinBytes:%d, MaxBytes:%d, LinkPatterns:%d, Providers:%d",
		appCfg.MinDocumentBytes, appCfg.MaxDocumentBytes, len(appCfg.LinkPatterns), len(appCfg.Providers))
	log.Infof("Global Config Renderer: Enabled:%t, Settle:%v..%v, StablePolls:%d, Viewport:%d",
		appCfg.Renderer.IsEnabled(), appCfg.Renderer.SettleMin, appCfg.Renderer.SettleMax,
		appCfg.Renderer.SettleStablePolls, appCfg.Renderer.ViewportWidth)
	log.Infof("Global Config EPUB: Enabled:%t, MaxChapters:%d", appCfg.EPUB.IsEnabled(), appCfg.EPUB.MaxChapters)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM. A second
// signal, or a stalled shutdown, forces exit.
func signalContext(log *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			cancel()
		case <-ctx.Done():
			signal.Stop(sigChan)
			return
		}

		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	return ctx, cancel
}
