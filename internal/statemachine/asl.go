// Package statemachine renders a pipeline graph as an Amazon States Language
// definition and publishes it to AWS Step Functions.
package statemachine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dwsmith1983/lakeloader/internal/pipeline"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// NonRetryableError is the Lambda errorType the step runner reports for
// failures that must not be retried.
const NonRetryableError = "NonRetryableError"

// UpstreamNotReady is the Lambda errorType the sensor node reports while the
// upstream workflow has not succeeded. The sensor Task retries it every poll
// interval until the wait timeout is used up.
const UpstreamNotReady = "UpstreamNotReady"

// Branch outcomes collected by the migrations Parallel state.
const (
	branchSucceeded = "SUCCEEDED"
	branchFailed    = "FAILED"
)

const (
	migrationsState = "migrations"
	reportsState    = "reports"
	failState       = "workflow_failed"
	doneState       = "done"
	recordOKState   = "record_succeeded"
	recordFailState = "record_failed"
	maxStateName    = 80
)

// TaskConfig configures how Task states invoke the step runner.
type TaskConfig struct {
	Resource string
	Retry    types.RetryPolicy
	// SensorPoll and SensorTimeout pace the upstream sensor. Zero values
	// fall back to one minute and six hours.
	SensorPoll    time.Duration
	SensorTimeout time.Duration
}

// Machine is a state machine or a Parallel branch.
type Machine struct {
	Comment string            `json:"Comment,omitempty"`
	StartAt string            `json:"StartAt"`
	States  map[string]*State `json:"States"`
}

// State is one ASL state. Only the fields lakeloader emits are modelled.
type State struct {
	Type           string                 `json:"Type"`
	Comment        string                 `json:"Comment,omitempty"`
	Resource       string                 `json:"Resource,omitempty"`
	Parameters     map[string]interface{} `json:"Parameters,omitempty"`
	Result         interface{}            `json:"Result,omitempty"`
	ResultSelector map[string]interface{} `json:"ResultSelector,omitempty"`
	ResultPath     json.RawMessage        `json:"ResultPath,omitempty"`
	Retry          []Retrier              `json:"Retry,omitempty"`
	Catch          []Catcher              `json:"Catch,omitempty"`
	Branches       []Machine              `json:"Branches,omitempty"`
	Choices        []ChoiceRule           `json:"Choices,omitempty"`
	Default        string                 `json:"Default,omitempty"`
	Error          string                 `json:"Error,omitempty"`
	Cause          string                 `json:"Cause,omitempty"`
	Next           string                 `json:"Next,omitempty"`
	End            bool                   `json:"End,omitempty"`
}

// Retrier is an ASL Retry entry.
type Retrier struct {
	ErrorEquals     []string `json:"ErrorEquals"`
	IntervalSeconds int      `json:"IntervalSeconds,omitempty"`
	MaxAttempts     int      `json:"MaxAttempts"`
	BackoffRate     float64  `json:"BackoffRate,omitempty"`
}

// Catcher is an ASL Catch entry.
type Catcher struct {
	ErrorEquals []string `json:"ErrorEquals"`
	ResultPath  string   `json:"ResultPath,omitempty"`
	Next        string   `json:"Next"`
}

// ChoiceRule is a single boolean comparison.
type ChoiceRule struct {
	Variable      string `json:"Variable"`
	BooleanEquals bool   `json:"BooleanEquals"`
	Next          string `json:"Next"`
}

var discardResult = json.RawMessage("null")

// Render produces the ASL definition for graph. The sensor and prelude run
// in sequence, every migration chain becomes one branch of a Parallel state
// whose failures are caught per branch, a Choice gates the reports on all
// branches succeeding. Every path ends in a Task that records the run outcome
// under the execution name.
func Render(graph *types.PipelineGraph, cfg TaskConfig) ([]byte, error) {
	m, err := Build(graph, cfg)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(m, "", "  ")
}

// Build assembles the state machine without encoding it.
func Build(graph *types.PipelineGraph, cfg TaskConfig) (*Machine, error) {
	if cfg.Resource == "" {
		return nil, fmt.Errorf("task resource is required")
	}
	if _, err := graph.TopologicalOrder(); err != nil {
		return nil, err
	}
	r := renderer{graph: graph, cfg: cfg}
	for _, n := range graph.Nodes {
		if len(n.ID) > maxStateName {
			return nil, fmt.Errorf("node %s: state names are limited to %d characters", n.ID, maxStateName)
		}
	}

	var sequence []string
	for _, id := range []string{pipeline.SensorID(upstreamOf(graph)), pipeline.StartID, pipeline.TransientSchemaID, pipeline.PublicSchemaID} {
		if _, ok := graph.Node(id); ok {
			sequence = append(sequence, id)
		}
	}

	top := &Machine{
		Comment: fmt.Sprintf("lakeloader workflow %s", graph.Name),
		States:  make(map[string]*State),
	}
	for _, id := range sequence {
		n, _ := graph.Node(id)
		st := r.task(n)
		if n.Kind == types.StepSensor {
			st.Retry = append([]Retrier{r.sensorRetrier()}, st.Retry...)
		}
		st.Catch = r.failRun()
		top.States[id] = st
	}
	sequence = append(sequence, migrationsState, pipeline.JoinID)

	top.States[migrationsState] = r.migrations()
	join := &State{
		Type: "Choice",
		Choices: []ChoiceRule{{
			Variable:      "$.migrations.anyFailed",
			BooleanEquals: true,
			Next:          recordFailState,
		}},
	}
	top.States[pipeline.JoinID] = join

	recordOK := r.record(types.RunSucceeded)
	recordOK.Next = doneState
	top.States[recordOKState] = recordOK
	recordFail := r.record(types.RunFailed)
	recordFail.Next = failState
	top.States[recordFailState] = recordFail
	top.States[failState] = &State{
		Type:  "Fail",
		Error: "WorkflowFailed",
		Cause: "a step failed; see the run record for the failed nodes",
	}

	if reports := r.reports(); reports != nil {
		reports.Catch = r.failRun()
		reports.Next = recordOKState
		top.States[reportsState] = reports
		join.Default = reportsState
	} else {
		join.Default = recordOKState
	}
	top.States[doneState] = &State{Type: "Succeed"}

	top.StartAt = sequence[0]
	for i := 0; i+1 < len(sequence); i++ {
		top.States[sequence[i]].Next = sequence[i+1]
	}
	return top, nil
}

type renderer struct {
	graph *types.PipelineGraph
	cfg   TaskConfig
}

func (r renderer) task(n types.Node) *State {
	return &State{
		Type:     "Task",
		Comment:  string(n.Kind),
		Resource: r.cfg.Resource,
		Parameters: map[string]interface{}{
			"node":     n.ID,
			"workflow": r.graph.Name,
			"runId.$":  "$$.Execution.Name",
		},
		ResultPath: discardResult,
		Retry:      r.retriers(),
	}
}

// record closes the run with status.
func (r renderer) record(status types.RunStatus) *State {
	return &State{
		Type:     "Task",
		Comment:  "record run " + string(status),
		Resource: r.cfg.Resource,
		Parameters: map[string]interface{}{
			"finalize": string(status),
			"workflow": r.graph.Name,
			"runId.$":  "$$.Execution.Name",
		},
		ResultPath: discardResult,
		Retry:      r.retriers(),
	}
}

func (r renderer) failRun() []Catcher {
	return []Catcher{{ErrorEquals: []string{"States.ALL"}, ResultPath: "$.error", Next: recordFailState}}
}

// sensorRetrier turns the sensor Task into a poll loop: each attempt is one
// upstream check, spaced by the poll interval, for as long as the timeout.
func (r renderer) sensorRetrier() Retrier {
	poll, timeout := r.cfg.SensorPoll, r.cfg.SensorTimeout
	if poll < time.Second {
		poll = time.Minute
	}
	if timeout <= 0 {
		timeout = 6 * time.Hour
	}
	attempts := int((timeout + poll - 1) / poll)
	return Retrier{
		ErrorEquals:     []string{UpstreamNotReady},
		IntervalSeconds: int(poll / time.Second),
		MaxAttempts:     attempts,
		BackoffRate:     1,
	}
}

func (r renderer) retriers() []Retrier {
	p := r.cfg.Retry
	if p.MaxAttempts <= 1 {
		return nil
	}
	interval := p.BackoffSeconds
	if interval < 1 {
		interval = 1
	}
	rate := p.BackoffMultiplier
	if rate < 1 {
		rate = 1
	}
	return []Retrier{
		{ErrorEquals: []string{NonRetryableError}, MaxAttempts: 0},
		{ErrorEquals: []string{"States.ALL"}, IntervalSeconds: interval, MaxAttempts: p.MaxAttempts - 1, BackoffRate: rate},
	}
}

// migrations builds one branch per chain. A branch ends in a Pass state
// whose result records whether the chain completed.
func (r renderer) migrations() *State {
	var branches []Machine
	for _, task := range taskNames(r.graph) {
		chain := r.graph.Chain(task)
		okState := task + "_succeeded"
		failedState := task + "_failed"
		b := Machine{StartAt: chain[0], States: make(map[string]*State, len(chain)+2)}
		for i, id := range chain {
			n, _ := r.graph.Node(id)
			st := r.task(n)
			st.Catch = []Catcher{{ErrorEquals: []string{"States.ALL"}, ResultPath: "$.error", Next: failedState}}
			if i+1 < len(chain) {
				st.Next = chain[i+1]
			} else {
				st.Next = okState
			}
			b.States[id] = st
		}
		b.States[okState] = &State{Type: "Pass", Result: branchSucceeded, End: true}
		b.States[failedState] = &State{Type: "Pass", Result: branchFailed, End: true}
		branches = append(branches, b)
	}
	if len(branches) == 0 {
		return &State{
			Type:       "Pass",
			Result:     map[string]interface{}{"anyFailed": false},
			ResultPath: json.RawMessage(`"$.migrations"`),
		}
	}
	return &State{
		Type:     "Parallel",
		Branches: branches,
		ResultSelector: map[string]interface{}{
			"anyFailed.$": fmt.Sprintf("States.ArrayContains($, '%s')", branchFailed),
		},
		ResultPath: json.RawMessage(`"$.migrations"`),
	}
}

func (r renderer) reports() *State {
	var branches []Machine
	for _, n := range r.graph.Nodes {
		if n.Kind != types.StepReport {
			continue
		}
		st := r.task(n)
		st.End = true
		branches = append(branches, Machine{StartAt: n.ID, States: map[string]*State{n.ID: st}})
	}
	if len(branches) == 0 {
		return nil
	}
	return &State{Type: "Parallel", Branches: branches, ResultPath: discardResult}
}

func taskNames(g *types.PipelineGraph) []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range g.Nodes {
		if n.TaskName != "" && !seen[n.TaskName] {
			seen[n.TaskName] = true
			out = append(out, n.TaskName)
		}
	}
	return out
}

func upstreamOf(g *types.PipelineGraph) string {
	for _, n := range g.Nodes {
		if n.Kind == types.StepSensor {
			return n.Upstream
		}
	}
	return ""
}
