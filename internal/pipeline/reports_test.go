package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/lakeloader/pkg/types"
)

func TestDiscoverReports(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"revenue.sql", "churn.sql", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("select 1"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.sql"), 0o755))

	reports, err := DiscoverReports(dir)
	require.NoError(t, err)
	assert.Equal(t, []types.ReportSpec{
		{ID: "churn", Path: filepath.Join(dir, "churn.sql")},
		{ID: "revenue", Path: filepath.Join(dir, "revenue.sql")},
	}, reports)
}

func TestDiscoverReports_Duplicate(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(a, "x.sql"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b, "x.sql"), nil, 0o644))

	_, err := DiscoverReports(a, b)
	var ce *types.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestDiscoverReports_MissingDir(t *testing.T) {
	_, err := DiscoverReports(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorContains(t, err, "reading report dir")
}

func TestLogReportRunner(t *testing.T) {
	assert.NoError(t, LogReportRunner{}.Run(context.Background(), types.ReportSpec{ID: "x"}))
}

type scriptRecorder struct {
	scripts []string
	err     error
}

func (s *scriptRecorder) ExecScript(_ context.Context, script string) error {
	s.scripts = append(s.scripts, script)
	return s.err
}

func TestSQLReportRunner(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "revenue.sql")
	require.NoError(t, os.WriteFile(path, []byte("refresh materialized view revenue;"), 0o644))
	empty := filepath.Join(dir, "empty.sql")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o644))

	db := &scriptRecorder{}
	runner := SQLReportRunner{DB: db}

	require.NoError(t, runner.Run(context.Background(), types.ReportSpec{ID: "revenue", Path: path}))
	require.NoError(t, runner.Run(context.Background(), types.ReportSpec{ID: "empty", Path: empty}))
	require.NoError(t, runner.Run(context.Background(), types.ReportSpec{ID: "opaque"}))
	assert.Equal(t, []string{"refresh materialized view revenue;"}, db.scripts)

	err := runner.Run(context.Background(), types.ReportSpec{ID: "gone", Path: filepath.Join(dir, "gone.sql")})
	var ce *types.ConfigurationError
	assert.ErrorAs(t, err, &ce)

	db.err = assert.AnError
	err = runner.Run(context.Background(), types.ReportSpec{ID: "revenue", Path: path})
	assert.ErrorIs(t, err, assert.AnError)
}
