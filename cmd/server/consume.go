package main

import (
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/iliyamo/habit-tracker/internal/config"
	"github.com/iliyamo/habit-tracker/internal/queue"
)

// NewConsumeCmd creates the consume subcommand.
func NewConsumeCmd() *cobra.Command {
	var logDir string
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Append published habit events to a log file",
		Long: `Consume the habit.events queue and append every event to
<log-dir>/habit-events.log until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConsume(cmd, logDir)
		},
	}
	cmd.Flags().StringVar(&logDir, "log-dir", "logs", "directory for habit-events.log")
	return cmd
}

func runConsume(cmd *cobra.Command, logDir string) error {
	cfg, err := config.Load()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if cfg.AMQPURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("AMQP_URL or RABBITMQ_URL is required")
	}
	if _, err := setupLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Println("Consuming", queue.EventQueueName, "into", logDir)
	err = queue.StartEventConsumer(ctx, cfg.AMQPURL, logDir)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
