// Package lambda runs single pipeline steps inside AWS Lambda.
package lambda

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dwsmith1983/lakeloader/internal/engine"
	"github.com/dwsmith1983/lakeloader/internal/project"
	"github.com/dwsmith1983/lakeloader/internal/telemetry"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// Deps holds shared dependencies for the step handler.
type Deps struct {
	Graph    *types.PipelineGraph
	Steps    map[string]engine.StepFunc
	Engine   *engine.Engine
	Logger   *slog.Logger
	Shutdown telemetry.Shutdown
	// Flush exports buffered telemetry after each invocation.
	Flush func(context.Context) error
}

// Init creates shared dependencies from environment variables.
// Reads: LAKELOADER_CONFIG, WAREHOUSE_DSN, WAREHOUSE_DSN_SECRET, SOURCE_URI
func Init(ctx context.Context) (*Deps, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	dir := envOrDefault("LAKELOADER_CONFIG", "/var/task")
	p, err := project.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("loading project from %s: %w", dir, err)
	}

	shutdown, err := telemetry.Setup(ctx, p.Config.Telemetry)
	if err != nil {
		return nil, err
	}

	rt, err := p.Connect(ctx, project.Overrides{
		WarehouseDSN:       os.Getenv("WAREHOUSE_DSN"),
		WarehouseDSNSecret: os.Getenv("WAREHOUSE_DSN_SECRET"),
		SourceURI:          os.Getenv("SOURCE_URI"),
		ProbeUpstreamOnce:  true,
	}, logger)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("connecting runtime: %w", err)
	}

	return &Deps{
		Graph:    p.Graph,
		Steps:    rt.Steps,
		Engine:   rt.Engine,
		Logger:   logger,
		Shutdown: shutdown,
		Flush:    telemetry.ForceFlush,
	}, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
