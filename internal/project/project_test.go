package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/lakeloader/internal/pipeline"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

const projectYAML = `
name: mongo_to_postgres
warehouse:
  dsn: postgres://localhost/wh
source:
  uri: mongodb://localhost:27017
  database: app
catalogDirs: [catalog]
schemaDirs: [schemas]
reports:
  - id: revenue
reportDirs: [reports]
waitFor:
  workflow: nightly_export
  pollInterval: 30s
maxParallel: 4
`

const catalogYAML = `
- task_name: orders
  source_collection: orders
  aggregation_query: '[]'
  destination_table: orders
  jsonschema: orders.json
  convert_fields:
    - field: amount
      target_type: numeric
`

func writeProject(t *testing.T, cfg string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"lakeloader.yaml":     cfg,
		"catalog/orders.yaml": catalogYAML,
		"schemas/orders.json": `{"type": "object"}`,
		"reports/churn.sql":   "select 1;",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeProject(t, projectYAML)

	p, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, p.Specs, 1)
	assert.Equal(t, "orders", p.Specs[0].TaskName)
	assert.Equal(t, []types.ReportSpec{
		{ID: "revenue"},
		{ID: "churn", Path: filepath.Join(dir, "reports", "churn.sql")},
	}, p.Reports)

	assert.Equal(t, "mongo_to_postgres", p.Graph.Name)
	_, ok := p.Graph.Node(pipeline.SensorID("nightly_export"))
	assert.True(t, ok)
	_, ok = p.Graph.Node(pipeline.ReportID("churn"))
	assert.True(t, ok)

	opts := p.EngineOptions([]string{"x"})
	assert.Equal(t, 4, opts.MaxParallel)
	assert.Equal(t, types.DefaultRetryPolicy(), opts.Retry)
	assert.Equal(t, []string{"x"}, opts.Skip)
}

func TestLoad_MissingSchema(t *testing.T) {
	dir := writeProject(t, projectYAML)
	require.NoError(t, os.Remove(filepath.Join(dir, "schemas", "orders.json")))

	_, err := Load(dir)
	var ce *types.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "jsonschema", ce.Field)
}

func TestLoad_ReportListedTwice(t *testing.T) {
	dir := writeProject(t, projectYAML)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reports", "revenue.sql"), nil, 0o644))

	_, err := Load(dir)
	assert.ErrorContains(t, err, `report "revenue" is also listed under reports`)
}

func TestLoad_BadConfig(t *testing.T) {
	dir := writeProject(t, "name: x\n")
	_, err := Load(dir)
	assert.Error(t, err)
}

type fakeSecrets struct{ asked string }

func (f *fakeSecrets) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.asked = aws.ToString(params.SecretId)
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String("postgres://secret/wh")}, nil
}

func TestWarehouseDSN(t *testing.T) {
	p, err := Load(writeProject(t, projectYAML))
	require.NoError(t, err)
	ctx := context.Background()

	dsn, err := p.warehouseDSN(ctx, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/wh", dsn)

	dsn, err = p.warehouseDSN(ctx, Overrides{WarehouseDSN: "postgres://override/wh"})
	require.NoError(t, err)
	assert.Equal(t, "postgres://override/wh", dsn)

	sm := &fakeSecrets{}
	dsn, err = p.warehouseDSN(ctx, Overrides{WarehouseDSNSecret: "lakeloader/dsn", Secrets: sm})
	require.NoError(t, err)
	assert.Equal(t, "postgres://secret/wh", dsn)
	assert.Equal(t, "lakeloader/dsn", sm.asked)

	p.Config.Warehouse = types.WarehouseConfig{DSNSecret: "from/config"}
	dsn, err = p.warehouseDSN(ctx, Overrides{Secrets: sm})
	require.NoError(t, err)
	assert.Equal(t, "postgres://secret/wh", dsn)
	assert.Equal(t, "from/config", sm.asked)
}
