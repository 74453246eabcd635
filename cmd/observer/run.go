package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/oriys/multischeduler/internal/bus"
	"github.com/oriys/multischeduler/internal/config"
	"github.com/oriys/multischeduler/internal/logging"
	"github.com/oriys/multischeduler/internal/observer"
	"github.com/oriys/multischeduler/internal/sshop"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Subscribe to cluster status and start the operator terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}
			logging.SetLevelFromString(cfg.Daemon.LogLevel)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Daemon.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			creds := bus.Credentials{
				Address:  cfg.Bus.Address,
				VHost:    cfg.Bus.VHost,
				User:     cfg.Bus.User,
				Password: cfg.Bus.Password,
			}

			var runner sshop.Runner
			if cfg.SSH.Key != "" {
				runner = sshop.NewSSH(cfg.SSH.Key, "", 0)
			}

			obs := observer.New(cfg.Store.DSN(), creds, runner, os.Stdout)

			logging.Op().Info("observer starting", "bus_address", cfg.Bus.Address)
			code, err := obs.Run(ctx, os.Stdin)
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	return cmd
}
