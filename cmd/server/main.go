package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roomcast/roomcast-server/internal/app"
	"github.com/roomcast/roomcast-server/internal/config"
	"github.com/roomcast/roomcast-server/internal/log"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	cmd := &cobra.Command{
		Use:   "roomcast-server [port]",
		Short: "TCP chat server with rooms, private messages, and mute lists",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bootLog := log.New(overrides.LogLevel)

			cfg, path, err := config.Load(bootLog, configPath)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(overrides)
			if len(args) == 1 {
				port, convErr := strconv.Atoi(args[0])
				if convErr != nil || port <= 0 || port > 65535 {
					return fmt.Errorf("invalid port %q", args[0])
				}
				host, _, splitErr := net.SplitHostPort(cfg.Addr)
				if splitErr != nil {
					host = ""
				}
				cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
			}

			logger := log.New(cfg.LogLevel)
			logger.Info().Str("addr", cfg.Addr).Str("config", path).Msg("starting roomcast server")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.New(&cfg, logger).Run(ctx); err != nil {
				return fmt.Errorf("server exited: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	cmd.Flags().StringVar(&overrides.Addr, "addr", "", "TCP listen address")
	cmd.Flags().StringVar(&overrides.MutesDir, "mutes-dir", "", "directory for mute list files")
	cmd.Flags().StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	return cmd
}
