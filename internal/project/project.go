// Package project loads a lakeloader project directory and wires its runtime.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dwsmith1983/lakeloader/internal/alert"
	"github.com/dwsmith1983/lakeloader/internal/catalog"
	"github.com/dwsmith1983/lakeloader/internal/committer"
	"github.com/dwsmith1983/lakeloader/internal/config"
	"github.com/dwsmith1983/lakeloader/internal/engine"
	"github.com/dwsmith1983/lakeloader/internal/lifecycle"
	"github.com/dwsmith1983/lakeloader/internal/loader"
	"github.com/dwsmith1983/lakeloader/internal/pipeline"
	pgstore "github.com/dwsmith1983/lakeloader/internal/provider/postgres"
	"github.com/dwsmith1983/lakeloader/internal/schemacheck"
	"github.com/dwsmith1983/lakeloader/internal/secrets"
	"github.com/dwsmith1983/lakeloader/internal/sensor"
	"github.com/dwsmith1983/lakeloader/internal/source"
	pgwarehouse "github.com/dwsmith1983/lakeloader/internal/warehouse/postgres"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// Project is a validated project: configuration, catalog and graph. Loading
// one touches only the filesystem.
type Project struct {
	Dir     string
	Config  *types.ProjectConfig
	Specs   []types.MigrationSpec
	Reports []types.ReportSpec
	Schemas *schemacheck.Registry
	Graph   *types.PipelineGraph
}

// Load reads lakeloader.yaml and the catalog, checks every referenced JSON
// Schema compiles and builds the graph.
func Load(dir string) (*Project, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	reg := catalog.NewRegistry()
	for _, d := range cfg.CatalogDirs {
		if err := reg.LoadDir(d); err != nil {
			return nil, err
		}
	}
	specs := reg.Specs()

	schemas := schemacheck.NewRegistry(cfg.SchemaDirs...)
	var errs []error
	for _, s := range specs {
		if _, err := schemas.Get(s.SchemaDefinition); err != nil {
			errs = append(errs, &types.ConfigurationError{Source: s.TaskName, Field: "jsonschema", Reason: "cannot load schema", Err: err})
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	reports, err := collectReports(cfg)
	if err != nil {
		return nil, err
	}

	opts := pipeline.BuildOptions{Reports: reports}
	if cfg.WaitFor != nil {
		opts.WaitFor = cfg.WaitFor.Workflow
	}
	graph, err := pipeline.Build(cfg.Name, specs, opts)
	if err != nil {
		return nil, err
	}

	return &Project{
		Dir:     dir,
		Config:  cfg,
		Specs:   specs,
		Reports: reports,
		Schemas: schemas,
		Graph:   graph,
	}, nil
}

func collectReports(cfg *types.ProjectConfig) ([]types.ReportSpec, error) {
	reports := append([]types.ReportSpec(nil), cfg.Reports...)
	if len(cfg.ReportDirs) == 0 {
		return reports, nil
	}
	found, err := pipeline.DiscoverReports(cfg.ReportDirs...)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(reports))
	for _, r := range reports {
		seen[r.ID] = true
	}
	for _, r := range found {
		if seen[r.ID] {
			return nil, &types.ConfigurationError{Source: r.Path, Field: "reportDirs", Reason: fmt.Sprintf("report %q is also listed under reports", r.ID)}
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// EngineOptions returns the executor settings from the config.
func (p *Project) EngineOptions(skip []string) engine.Options {
	return engine.Options{
		MaxParallel: p.Config.MaxParallel,
		Retry:       config.RetryPolicy(p.Config),
		Skip:        skip,
	}
}

// Overrides replace connection settings from lakeloader.yaml, as the Lambda
// runtime does with environment variables.
type Overrides struct {
	WarehouseDSN       string
	WarehouseDSNSecret string
	SourceURI          string
	// ProbeUpstreamOnce binds the sensor to a single check that fails with
	// sensor.ErrNotReady, leaving the polling to the caller's retries.
	ProbeUpstreamOnce bool
	// Secrets is used to resolve a DSN secret. When nil a client is built
	// from the default AWS config.
	Secrets secrets.SecretsAPI
}

// Runtime is a connected project ready to execute steps.
type Runtime struct {
	Project   *Project
	Warehouse *pgwarehouse.Warehouse
	Source    *source.Mongo
	Store     *pgstore.Store
	Alerts    *alert.Dispatcher
	Engine    *engine.Engine
	Steps     map[string]engine.StepFunc
	logger    *slog.Logger
}

// Connect opens the warehouse and source, migrates the run store and binds
// every graph node.
func (p *Project) Connect(ctx context.Context, ov Overrides, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := p.Config

	dsn, err := p.warehouseDSN(ctx, ov)
	if err != nil {
		return nil, err
	}
	wh, err := pgwarehouse.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	wh.SetLogger(logger)

	store := pgstore.NewFromPool(wh.Pool())
	if err := store.Migrate(ctx); err != nil {
		wh.Close()
		return nil, err
	}

	uri := cfg.Source.URI
	if ov.SourceURI != "" {
		uri = ov.SourceURI
	}
	src, err := source.Connect(ctx, uri, cfg.Source.Database,
		source.WithBatchSize(cfg.Loader.BatchSize), source.WithLogger(logger))
	if err != nil {
		wh.Close()
		return nil, err
	}

	dispatcher, err := alert.NewDispatcher(cfg.Alerts, logger)
	if err != nil {
		wh.Close()
		_ = src.Close(ctx)
		return nil, err
	}

	eng := engine.New(store, dispatcher.AlertFunc())
	eng.SetLogger(logger)

	tables := lifecycle.New(wh)
	tables.SetLogger(logger)
	tables.SetNotifier(dispatcher.AlertFunc())
	comm := committer.New(wh)
	comm.SetLogger(logger)

	deps := pipeline.Deps{
		Warehouse:   wh,
		Loader:      loader.New(src, wh, p.Schemas, loader.WithMaxRecords(cfg.Loader.MaxRecords), loader.WithLogger(logger)),
		Tables:      tables,
		Committer:   comm,
		Reports:     pipeline.SQLReportRunner{DB: wh, Logger: logger},
		Specs:       p.Specs,
		ReportSpecs: p.Reports,
	}
	if cfg.WaitFor != nil {
		poll, timeout, err := config.WaitDurations(cfg.WaitFor)
		if err != nil {
			wh.Close()
			_ = src.Close(ctx)
			return nil, err
		}
		gate := sensor.NewGate(store, poll, timeout)
		gate.SetLogger(logger)
		deps.Gate = gate
		if ov.ProbeUpstreamOnce {
			deps.Gate = sensor.Probe{Gate: gate}
		}
	}

	steps, err := pipeline.Bind(p.Graph, deps)
	if err != nil {
		wh.Close()
		_ = src.Close(ctx)
		return nil, err
	}

	return &Runtime{
		Project:   p,
		Warehouse: wh,
		Source:    src,
		Store:     store,
		Alerts:    dispatcher,
		Engine:    eng,
		Steps:     steps,
		logger:    logger,
	}, nil
}

// OpenStore connects only the run store, for commands that read run history.
func (p *Project) OpenStore(ctx context.Context, ov Overrides) (*pgstore.Store, error) {
	dsn, err := p.warehouseDSN(ctx, ov)
	if err != nil {
		return nil, err
	}
	store, err := pgstore.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func (p *Project) warehouseDSN(ctx context.Context, ov Overrides) (string, error) {
	if ov.WarehouseDSN != "" {
		return ov.WarehouseDSN, nil
	}
	secretID := ov.WarehouseDSNSecret
	if secretID == "" && p.Config.Warehouse.DSN != "" {
		return p.Config.Warehouse.DSN, nil
	}
	if secretID == "" {
		secretID = p.Config.Warehouse.DSNSecret
	}
	if secretID == "" {
		return "", &types.ConfigurationError{Field: "warehouse", Reason: "no DSN or DSN secret configured"}
	}

	client := ov.Secrets
	if client == nil {
		region := ""
		if p.Config.StateMachine != nil {
			region = p.Config.StateMachine.Region
		}
		c, err := secrets.NewClient(ctx, region)
		if err != nil {
			return "", err
		}
		client = c
	}
	return secrets.ResolveDSN(ctx, client, secretID)
}

// Close releases the source and the warehouse pool, which the run store shares.
func (r *Runtime) Close(ctx context.Context) {
	if err := r.Source.Close(ctx); err != nil {
		r.logger.Warn("closing source", "error", err)
	}
	r.Warehouse.Close()
}
