package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/lakeloader/internal/project"
	"github.com/dwsmith1983/lakeloader/internal/provider"
	"github.com/dwsmith1983/lakeloader/internal/server"
	"github.com/dwsmith1983/lakeloader/internal/server/handlers"
	"github.com/dwsmith1983/lakeloader/internal/telemetry"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

const defaultAddr = ":3000"

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	var (
		dir      string
		readOnly bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the lakeloader HTTP status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), dir, readOnly)
		},
	}
	addDirFlag(cmd, &dir)
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "only serve run history; POST /api/runs is disabled")
	return cmd
}

func runServe(ctx context.Context, dir string, readOnly bool) error {
	p, err := loadProject(dir)
	if err != nil {
		return err
	}
	logger := newLogger()

	shutdownTelemetry, err := telemetry.Setup(ctx, p.Config.Telemetry)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	var (
		store  provider.RunStore
		launch handlers.Launcher
	)
	if readOnly {
		s, err := p.OpenStore(ctx, project.Overrides{})
		if err != nil {
			return fmt.Errorf("connecting to run store: %w", err)
		}
		defer s.Close()
		store = s
	} else {
		rt, err := p.Connect(ctx, project.Overrides{}, logger)
		if err != nil {
			return fmt.Errorf("connecting: %w", err)
		}
		defer rt.Close(context.Background())
		store = rt.Store
		launch = func(ctx context.Context, skip []string) (*types.RunRecord, error) {
			return rt.Engine.Execute(ctx, p.Graph, rt.Steps, p.EngineOptions(skip))
		}
	}

	addr := defaultAddr
	var apiKey string
	var maxBody int64
	if cfg := p.Config.Server; cfg != nil {
		if cfg.Addr != "" {
			addr = cfg.Addr
		}
		apiKey = cfg.APIKey
		maxBody = cfg.MaxRequestBody
	}
	srv := server.New(addr, p.Graph, store, launch, apiKey, maxBody)
	srv.SetLogger(logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		color.Yellow("\nReceived %s, shutting down...", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		color.Green("Server stopped gracefully")
		return nil
	}
}
