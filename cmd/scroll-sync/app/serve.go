package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/scroll-sync-server/internal/app"
	"github.com/stacklok/scroll-sync-server/internal/config"
)

func newServeCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scroll sync server",
		Long: `Start the scroll sync server.

The configuration file (--config) is optional; without it every setting takes its default.
--address overrides server.address from the file. Both may also be set through
SCROLL_SYNC_CONFIG and SCROLL_SYNC_ADDRESS.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, v.GetString("config"), v.GetString("address"))
		},
	}

	cmd.Flags().String("address", "", "Address to listen on (default \":8080\")")
	cmd.Flags().String("config", "", "Path to configuration file (YAML format)")

	for _, name := range []string{"address", "config"} {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			slog.Error("Failed to bind flag", "flag", name, "error", err)
		}
	}

	return cmd
}

// runServe starts the server and blocks until ctx is cancelled or the server fails
func runServe(ctx context.Context, configPath, address string) error {
	var loadOpts []config.Option
	if configPath != "" {
		loadOpts = append(loadOpts, config.WithConfigPath(configPath))
	}
	cfg, err := config.LoadConfig(loadOpts...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if configPath != "" {
		slog.Info("Loaded configuration", "path", configPath)
	}

	opts := []app.ScrollSyncAppOptions{app.WithConfig(cfg)}
	if address != "" {
		opts = append(opts, app.WithAddress(address))
	}

	server, err := app.NewScrollSyncApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	slog.Info("Starting scroll sync server", "address", server.GetHTTPServer().Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		// Start only returns early on failure; release what was built
		if stopErr := server.Stop(cfg.Server.GetShutdownTimeout()); stopErr != nil {
			slog.Error("Cleanup after failed start", "error", stopErr)
		}
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := server.Stop(cfg.Server.GetShutdownTimeout()); err != nil {
		return err
	}
	// Start returns once the listener is closed
	<-errCh
	return nil
}
