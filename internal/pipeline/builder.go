// Package pipeline turns migration specs into an executable step graph.
package pipeline

import (
	"fmt"

	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// Fixed node ids outside the per-migration chains.
const (
	StartID           = "start"
	TransientSchemaID = "ensure_transient_schema_exists"
	PublicSchemaID    = "ensure_public_schema_exists"
	JoinID            = "all_migrations_complete"
)

// SensorID returns the id of the gate waiting on workflow.
func SensorID(workflow string) string { return "wait_for_" + workflow }

// ReportID returns the id of a report node.
func ReportID(report string) string { return "report_" + report }

// BuildOptions adds optional parts around the migration chains.
type BuildOptions struct {
	// WaitFor names a workflow whose latest run must succeed before start.
	WaitFor string
	Reports []types.ReportSpec
}

// Build lays out the graph: an optional sensor, the start barrier, the schema
// prelude, one seven-step chain per spec in catalog order, the join barrier
// and one node per report. The same input always yields the same graph.
func Build(name string, specs []types.MigrationSpec, opts BuildOptions) (*types.PipelineGraph, error) {
	b := &builder{g: &types.PipelineGraph{Name: name}, ids: make(map[string]string)}

	if opts.WaitFor != "" {
		b.add(types.Node{ID: SensorID(opts.WaitFor), Kind: types.StepSensor, Upstream: opts.WaitFor}, "waitFor")
	}
	b.add(types.Node{ID: StartID, Kind: types.StepBarrier}, "start barrier")
	if opts.WaitFor != "" {
		b.edge(SensorID(opts.WaitFor), StartID)
	}
	b.add(types.Node{ID: TransientSchemaID, Kind: types.StepEnsureSchema, Schema: types.TransientSchema}, "prelude")
	b.add(types.Node{ID: PublicSchemaID, Kind: types.StepEnsureSchema, Schema: types.PublicSchema}, "prelude")
	b.edge(StartID, TransientSchemaID)
	b.edge(TransientSchemaID, PublicSchemaID)

	var tails []string
	for _, spec := range specs {
		ids := b.chain(spec)
		if len(ids) == 0 {
			continue
		}
		b.edge(PublicSchemaID, ids[0])
		tails = append(tails, ids[len(ids)-1])
	}

	b.add(types.Node{ID: JoinID, Kind: types.StepBarrier}, "join barrier")
	if len(tails) == 0 {
		b.edge(PublicSchemaID, JoinID)
	}
	for _, t := range tails {
		b.edge(t, JoinID)
	}

	for _, r := range opts.Reports {
		id := ReportID(r.ID)
		b.add(types.Node{ID: id, Kind: types.StepReport, Report: r.ID}, "report "+r.ID)
		b.edge(JoinID, id)
	}

	if b.err != nil {
		return nil, b.err
	}
	return b.g, nil
}

type builder struct {
	g   *types.PipelineGraph
	ids map[string]string // node id -> origin, for collision reports
	err error
}

func (b *builder) add(n types.Node, origin string) bool {
	if b.err != nil {
		return false
	}
	if prev, dup := b.ids[n.ID]; dup {
		b.err = &types.ConfigurationError{
			Source: b.g.Name,
			Field:  origin,
			Reason: fmt.Sprintf("node id %q collides with %s", n.ID, prev),
		}
		return false
	}
	b.ids[n.ID] = origin
	b.g.Nodes = append(b.g.Nodes, n)
	return true
}

func (b *builder) edge(from, to string) {
	if b.err != nil {
		return
	}
	b.g.Edges = append(b.g.Edges, types.Edge{From: from, To: to})
}

// chain adds the seven linear steps for one spec and returns their ids.
func (b *builder) chain(spec types.MigrationSpec) []string {
	staging, dest := spec.Staging(), spec.Destination()
	ids := make([]string, 0, len(types.ChainSteps))
	for _, kind := range types.ChainSteps {
		n := types.Node{ID: types.ChainID(spec.TaskName, kind), Kind: kind, TaskName: spec.TaskName}
		switch kind {
		case types.StepDropTransient, types.StepMigrate, types.StepAnalyzeTransient:
			n.Table = staging
		case types.StepAnalyzeDatalake:
			n.Table = dest
		default:
			n.Source, n.Table = staging, dest
		}
		if !b.add(n, "migration "+spec.TaskName) {
			return nil
		}
		if len(ids) > 0 {
			b.edge(ids[len(ids)-1], n.ID)
		}
		ids = append(ids, n.ID)
	}
	return ids
}
