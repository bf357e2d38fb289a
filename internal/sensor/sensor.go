// Package sensor gates a workflow on the success of another workflow's most
// recent run.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dwsmith1983/lakeloader/internal/provider"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// ErrTimeout is returned by Wait when the upstream never succeeds in time.
var ErrTimeout = errors.New("upstream wait timed out")

// ErrNotReady is returned by Probe.Wait when the upstream has not succeeded.
var ErrNotReady = errors.New("upstream not ready")

// Result is the outcome of a single probe.
type Result struct {
	Ready       bool       `json:"ready"`
	Reason      string     `json:"reason"`
	RunID       string     `json:"runId,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Gate polls the run store for upstream completion.
type Gate struct {
	store        provider.RunStore
	pollInterval time.Duration
	timeout      time.Duration
	logger       *slog.Logger
}

// NewGate creates a gate. Non-positive durations fall back to one minute
// polling and a six hour timeout.
func NewGate(store provider.RunStore, pollInterval, timeout time.Duration) *Gate {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	if timeout <= 0 {
		timeout = 6 * time.Hour
	}
	return &Gate{store: store, pollInterval: pollInterval, timeout: timeout, logger: slog.Default()}
}

// SetLogger replaces the logger.
func (g *Gate) SetLogger(logger *slog.Logger) { g.logger = logger }

// Check reports whether the upstream workflow's latest run succeeded.
func (g *Gate) Check(ctx context.Context, workflow string) (Result, error) {
	run, err := g.store.LatestRun(ctx, workflow)
	if err != nil {
		return Result{}, fmt.Errorf("querying latest run of %s: %w", workflow, err)
	}
	if run == nil {
		return Result{Reason: fmt.Sprintf("upstream %s has never run", workflow)}, nil
	}
	if run.Status == types.RunSucceeded {
		return Result{
			Ready:       true,
			Reason:      fmt.Sprintf("upstream %s completed", workflow),
			RunID:       run.RunID,
			CompletedAt: run.CompletedAt,
		}, nil
	}
	return Result{
		Reason: fmt.Sprintf("upstream %s status is %s", workflow, run.Status),
		RunID:  run.RunID,
	}, nil
}

// Wait blocks until Check passes, the timeout elapses or ctx is done.
// Store errors are logged and polling continues.
func (g *Gate) Wait(ctx context.Context, workflow string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	var last Result
	for {
		res, err := g.Check(ctx, workflow)
		switch {
		case err != nil:
			g.logger.Warn("upstream check failed", "upstream", workflow, "error", err)
		case res.Ready:
			g.logger.Info("upstream ready", "upstream", workflow, "runId", res.RunID)
			return res, nil
		default:
			last = res
			g.logger.Info("waiting for upstream", "upstream", workflow, "reason", res.Reason)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return last, fmt.Errorf("%w after %s: %s", ErrTimeout, g.timeout, last.Reason)
			}
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Probe checks the upstream once per Wait call. It is bound in place of a
// Gate where the caller polls by retrying, as a Step Functions Task does.
type Probe struct {
	Gate *Gate
}

// Wait runs a single Check and returns ErrNotReady unless it passes.
func (p Probe) Wait(ctx context.Context, workflow string) (Result, error) {
	res, err := p.Gate.Check(ctx, workflow)
	if err != nil {
		return res, err
	}
	if !res.Ready {
		return res, fmt.Errorf("%w: %s", ErrNotReady, res.Reason)
	}
	return res, nil
}
