package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/oriys/multischeduler/internal/bus"
	"github.com/oriys/multischeduler/internal/config"
	"github.com/oriys/multischeduler/internal/coordinator"
	"github.com/oriys/multischeduler/internal/logging"
	"github.com/oriys/multischeduler/internal/metrics"
	"github.com/oriys/multischeduler/internal/observability"
	"github.com/oriys/multischeduler/internal/selfaddr"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var (
		address      string
		childName    string
		childArgs    []string
		logLevel     string
		metricsAddr  string
		useStaticSrc bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the coordinator daemon",
		Long:  "Register this node, then tick indefinitely: check in, evict stale peers, derive leadership, and publish status transitions",
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

			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: orDefault(cfg.Observability.Tracing.ServiceName, "coordinator"),
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			var m *metrics.Metrics
			if cfg.Observability.Metrics.Enabled {
				metrics.MarkStart(time.Now())
				m = metrics.Init(cfg.Observability.Metrics.Namespace)
				if metricsAddr != "" {
					go serveMetrics(metricsAddr, m)
				}
			}

			resolved, err := resolveAddress(ctx, address, useStaticSrc)
			if err != nil {
				return fmt.Errorf("resolve self address: %w", err)
			}

			if childName == "" {
				return fmt.Errorf("no child command configured: pass --child")
			}

			creds := bus.Credentials{
				Address:  cfg.Bus.Address,
				VHost:    cfg.Bus.VHost,
				User:     cfg.Bus.User,
				Password: cfg.Bus.Password,
			}

			co := coordinator.New(resolved, cfg.Store.DSN(), creds, cfg.Timing, coordinator.ChildCommand{
				Name: childName,
				Args: childArgs,
			}, m)

			logging.Op().Info("coordinator starting", "address", resolved)
			if err := co.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("coordinator exited: %w", err)
			}
			logging.Op().Info("coordinator stopped", "address", resolved)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "This node's stable address (default: discover via EC2 IMDS)")
	cmd.Flags().BoolVar(&useStaticSrc, "static-address", false, "Treat --address as the final address instead of an IMDS fallback seed")
	cmd.Flags().StringVar(&childName, "child", "", "Path to the scheduler process this node runs while leading")
	cmd.Flags().StringArrayVar(&childArgs, "child-arg", nil, "Argument for the child process (repeatable)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve /metrics on (empty disables)")

	return cmd
}

// resolveAddress discovers this node's stable address. A non-empty
// --address is used directly when --static-address is set; otherwise it
// falls through to EC2 IMDS discovery, matching spec.md §6's "self-address
// discovery" contract, and a non-empty --address is used only when that
// discovery fails.
func resolveAddress(ctx context.Context, flagAddress string, static bool) (string, error) {
	if static {
		return selfaddr.Static(flagAddress).Resolve(ctx)
	}
	resolver, err := selfaddr.NewEC2IMDS(ctx)
	if err == nil {
		var addr string
		if addr, err = resolver.Resolve(ctx); err == nil {
			return addr, nil
		}
	}
	if flagAddress != "" {
		return flagAddress, nil
	}
	return "", err
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func serveMetrics(addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logging.Op().Warn("metrics server stopped", "error", err)
	}
}
