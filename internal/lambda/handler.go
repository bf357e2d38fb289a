package lambda

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/lambda/messages"
	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/lakeloader/internal/engine"
	"github.com/dwsmith1983/lakeloader/internal/sensor"
	"github.com/dwsmith1983/lakeloader/internal/statemachine"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// HandleStep runs exactly one node, or closes the run when the request names
// Finalize. Retryable failures are returned as plain errors so Step Functions
// applies its Retry policy; configuration failures carry the
// NonRetryableError type, which the policy excludes, and an upstream that is
// not ready yet carries UpstreamNotReady, which the sensor Task polls on.
func HandleStep(ctx context.Context, d *Deps, req StepRequest) (StepResponse, error) {
	defer d.flush(ctx)

	if req.Workflow != "" && req.Workflow != d.Graph.Name {
		return StepResponse{}, nonRetryable(fmt.Errorf("workflow %q is not served here (%s)", req.Workflow, d.Graph.Name))
	}
	if req.Finalize != "" {
		return finalize(ctx, d, req)
	}
	if req.Node == "" {
		return StepResponse{}, nonRetryable(fmt.Errorf("node is required"))
	}

	runID := req.RunID
	if runID == "" {
		runID = ulid.Make().String()
	} else if err := d.Engine.BeginRun(ctx, d.Graph, runID); err != nil {
		return StepResponse{}, err
	}

	step, err := d.Engine.RunNode(ctx, d.Graph, d.Steps, runID, req.Node)
	if err != nil {
		if errors.Is(err, sensor.ErrNotReady) {
			d.Logger.Info("upstream not ready", "node", req.Node, "runId", runID, "reason", err)
			return StepResponse{}, messages.InvokeResponse_Error{Type: statemachine.UpstreamNotReady, Message: err.Error()}
		}
		d.Logger.Error("step failed", "node", req.Node, "runId", runID, "error", err)
		if errors.Is(err, engine.ErrStepNotFound) || !types.IsRetryable(err) {
			return StepResponse{}, nonRetryable(err)
		}
		return StepResponse{}, err
	}

	d.Logger.Info("step succeeded", "node", req.Node, "runId", runID, "rows", step.Rows)
	return StepResponse{Node: req.Node, RunID: runID, Status: string(step.Status), Rows: step.Rows}, nil
}

func finalize(ctx context.Context, d *Deps, req StepRequest) (StepResponse, error) {
	if req.RunID == "" {
		return StepResponse{}, nonRetryable(fmt.Errorf("runId is required to finalize a run"))
	}
	status := types.RunStatus(req.Finalize)
	if status != types.RunSucceeded && status != types.RunFailed {
		return StepResponse{}, nonRetryable(fmt.Errorf("finalize must be %s or %s, got %q", types.RunSucceeded, types.RunFailed, req.Finalize))
	}
	rec, err := d.Engine.FinishRun(ctx, d.Graph, req.RunID, status)
	if err != nil {
		return StepResponse{}, err
	}
	return StepResponse{RunID: rec.RunID, Status: string(rec.Status)}, nil
}

func (d *Deps) flush(ctx context.Context) {
	if d.Flush == nil {
		return
	}
	if err := d.Flush(context.WithoutCancel(ctx)); err != nil {
		d.Logger.Warn("flushing telemetry", "error", err)
	}
}

func nonRetryable(err error) error {
	return messages.InvokeResponse_Error{
		Type:    statemachine.NonRetryableError,
		Message: err.Error(),
	}
}
