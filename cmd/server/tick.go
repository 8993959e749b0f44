package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/school-liquidation/internal/container"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one daily tick and one reminder pass, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		c, err := container.New(cfg, logger)
		if err != nil {
			return err
		}
		if err := c.Start(cmd.Context()); err != nil {
			return fmt.Errorf("failed to start container: %w", err)
		}
		defer c.Close()

		services := c.Services()
		report, tickErr := services.Tick.DailyTick(cmd.Context())
		if report != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "reclassified=%d deferred=%d refreshed=%d budget_notice_sent=%t item_failures=%d\n",
				report.Reclassified, report.Deferred, report.RefreshedLiqs, report.BudgetNoticeSent, report.ItemFailures)
		}

		fired, err := services.Reminders.FireDue(cmd.Context())
		if err != nil {
			logger.Error("Reminder pass failed", zap.Error(err))
		}
		if fired != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "reminders sent=%d suppressed=%d superseded=%d missed=%d\n",
				fired.Sent, fired.Suppressed, fired.Superseded, fired.Missed)
		}

		if tickErr != nil {
			return tickErr
		}
		return err
	},
}
