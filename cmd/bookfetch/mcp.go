package main

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/bookfetch/pkg/acquire"
	"github.com/Sriram-PR/bookfetch/pkg/mcp"
)

func newMcpServerCmd() *cobra.Command {
	var transport string
	var port int

	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Start an MCP (Model Context Protocol) server for AI tool integration",
		Long: `Start an MCP server exposing the acquisition pipeline.

Examples:
  # Start with stdio transport
  bookfetch mcp-server --config config.yaml

  # Start with SSE transport on port 8080
  bookfetch mcp-server --config config.yaml --transport sse --port 8080

Available MCP Tools:
  acquire_book    Acquire a validated PDF for a catalog entry
  get_job_status  Check the status of an acquisition job
  cancel_job      Cancel a pending or running job
  list_cached     List cached documents`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doMcpServer(flagConfig, transport, port, flagLogLevel, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport type (stdio, sse)")
	cmd.Flags().IntVar(&port, "port", 8080, "HTTP port (for sse transport)")
	return cmd
}

// doMcpServer is the testable implementation of the MCP server
func doMcpServer(configPath, transport string, port int, logLevel string, stderr io.Writer) error {
	// MCP protocol uses stdout, logs go to stderr
	log, err := newLogger(logLevel, stderr)
	if err != nil {
		return err
	}

	appCfg, err := loadConfig(configPath, log)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	rt, err := acquire.NewRuntime(appCfg, logrus.NewEntry(log))
	if err != nil {
		return err
	}
	defer rt.Close()

	server, err := mcp.NewServer(&mcp.ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: configPath,
		Transport:  transport,
		Port:       port,
		Logger:     log,
	}, rt.Pipeline, rt.Cache)
	if err != nil {
		return fmt.Errorf("error creating MCP server: %w", err)
	}
	defer server.Shutdown(context.Background())

	log.Infof("Starting MCP server (transport: %s)", transport)
	if err := server.Run(); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
