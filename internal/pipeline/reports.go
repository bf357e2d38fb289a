package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// ReportRunner executes one downstream report once every migration is done.
type ReportRunner interface {
	Run(ctx context.Context, report types.ReportSpec) error
}

// LogReportRunner records that a report was released without running it.
type LogReportRunner struct {
	Logger *slog.Logger
}

// Run logs the report.
func (r LogReportRunner) Run(_ context.Context, report types.ReportSpec) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("report released", "report", report.ID, "path", report.Path)
	return nil
}

// ScriptExecer runs a SQL script against the warehouse.
type ScriptExecer interface {
	ExecScript(ctx context.Context, script string) error
}

// SQLReportRunner executes each report's SQL file. Reports without a file
// are only logged.
type SQLReportRunner struct {
	DB     ScriptExecer
	Logger *slog.Logger
}

// Run reads the report file and executes it.
func (r SQLReportRunner) Run(ctx context.Context, report types.ReportSpec) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if report.Path == "" {
		return LogReportRunner{Logger: logger}.Run(ctx, report)
	}
	script, err := os.ReadFile(report.Path)
	if err != nil {
		return &types.ConfigurationError{Source: report.Path, Field: "path", Reason: "cannot read report", Err: err}
	}
	if strings.TrimSpace(string(script)) == "" {
		logger.Warn("report script is empty", "report", report.ID, "path", report.Path)
		return nil
	}
	if err := r.DB.ExecScript(ctx, string(script)); err != nil {
		return fmt.Errorf("report %s: %w", report.ID, err)
	}
	logger.Info("report executed", "report", report.ID, "path", report.Path)
	return nil
}

// DiscoverReports lists every *.sql file in dirs as a report named after the
// file. Results are sorted by id.
func DiscoverReports(dirs ...string) ([]types.ReportSpec, error) {
	var out []types.ReportSpec
	seen := make(map[string]string)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("reading report dir %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
				continue
			}
			id := strings.TrimSuffix(e.Name(), ".sql")
			path := filepath.Join(dir, e.Name())
			if prev, dup := seen[id]; dup {
				return nil, &types.ConfigurationError{Source: path, Field: "reportDirs", Reason: fmt.Sprintf("report %q already defined by %s", id, prev)}
			}
			seen[id] = path
			out = append(out, types.ReportSpec{ID: id, Path: path})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
