package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/tunevault/internal/config"
	"github.com/mantonx/tunevault/internal/database"
	"github.com/mantonx/tunevault/internal/server"
	"github.com/spf13/cobra"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			log := ctx.logger()

			if !log.IsDebug() {
				gin.SetMode(gin.ReleaseMode)
			}

			db, err := database.Open(cfg.Database, log.Named("database"))
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			srv, err := server.New(cfg, db, log)
			if err != nil {
				return err
			}

			if watch && ctx.configPath != "" {
				ctx.manager.AddWatcher(func(oldConfig, newConfig *config.Config) {
					if oldConfig.Logging.Level != newConfig.Logging.Level {
						log.SetLevel(hclog.LevelFromString(newConfig.Logging.Level))
						log.Info("log level changed", "level", newConfig.Logging.Level)
					}
				})
				stop, err := ctx.manager.Watch(time.Second)
				if err != nil {
					return fmt.Errorf("watch config: %w", err)
				}
				defer stop()
			}

			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return srv.Run(runCtx)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch-config", true, "Reload the log level when the config file changes")
	return cmd
}
