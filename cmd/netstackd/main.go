// Command netstackd is the illustrative host application SPEC_FULL calls
// for: it boots the static TCP/IP stack against a Linux TAP interface (or
// a platform-specific driver), serves an administration shell and SFTP
// subsystem over SSH, optionally runs the DHCPv4 client, and optionally
// exposes Prometheus metrics on a loopback-only endpoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "netstackd",
		Short: "static TCP/IP stack with an SSH administration channel",
		Long: "netstackd wires the ethernet/arp/ipv4/icmpv4/udp/tcp/dhcpv4 stack to a\n" +
			"host interface and exposes an RFC 4253 SSH administration channel\n" +
			"with a shell and SFTP subsystem.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			logger := newLogger(cfg.Log)
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the netstackd version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), daemonVersion)
			return nil
		},
	}
}

// newLogger creates a structured logger matching dantte-lp-gobfd's
// cfg.Log.Format switch between JSON and text handlers.
func newLogger(cfg LogConfig) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
