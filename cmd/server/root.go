package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the habitd command.  Without a subcommand it serves
// the API.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "habitd",
		Short: "Habit tracker API server",
		Long: `habitd serves the habit tracker REST API backed by Redis or MySQL.
Configuration comes from the environment and an optional .env file.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewConsumeCmd())
	return cmd
}

// setupLogging configures the default slog logger and returns it.
func setupLogging(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q: must be 'json' or 'text'", format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
