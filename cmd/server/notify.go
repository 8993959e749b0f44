package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/container"
)

var (
	notifyChannel string
	notifyText    string
)

var notifyTestCmd = &cobra.Command{
	Use:   "notify-test",
	Short: "Send a test message to the operations or legal audience",
	RunE: func(cmd *cobra.Command, args []string) error {
		channel := port.Channel(notifyChannel)
		if channel != port.ChannelOperations && channel != port.ChannelLegal {
			return fmt.Errorf("unknown channel %q", notifyChannel)
		}

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

		if err := c.Services().Notifications.NotifyTest(cmd.Context(), channel, notifyText); err != nil {
			return fmt.Errorf("test message failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "test message sent to %s via %s\n", channel, cfg.Notifications.Channel)
		return nil
	},
}

func init() {
	notifyTestCmd.Flags().StringVar(&notifyChannel, "channel", string(port.ChannelOperations), "Audience: operations or legal")
	notifyTestCmd.Flags().StringVar(&notifyText, "text", "Liquidation service notification test", "Message body")
}
