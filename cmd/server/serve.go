package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/school-liquidation/internal/container"
	httpapi "github.com/garyjia/school-liquidation/internal/interfaces/http"
	"github.com/garyjia/school-liquidation/pkg/utils"
)

var noWorkers bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run the reminder and daily tick workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c, err := container.New(cfg, logger)
		if err != nil {
			return err
		}
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("failed to start container: %w", err)
		}
		defer func() {
			if err := c.Close(); err != nil {
				logger.Error("Shutdown incomplete", zap.Error(err))
			}
		}()

		if !noWorkers {
			if err := c.StartWorkers(ctx); err != nil {
				return fmt.Errorf("failed to start workers: %w", err)
			}
		}

		services := c.Services()
		server := httpapi.NewServer(httpapi.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}, httpapi.Deps{
			Engine:    services.Engine,
			Tick:      services.Tick,
			Directory: c.Directory(),
			Health: func(ctx context.Context) (bool, interface{}) {
				h := c.Health(ctx)
				return h.Overall, h.Components
			},
		}, utils.NewSugaredAdapter(logger.Named("http")))

		return server.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&noWorkers, "no-workers", false, "Serve the API only; an external scheduler drives /api/tasks/tick")
}
