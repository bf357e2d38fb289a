// Package metrics exposes runtime counters via expvar.
package metrics

import "expvar"

var (
	RowsStaged        = expvar.NewInt("rows_staged")
	RowsAppended      = expvar.NewInt("rows_appended")
	ColumnsAdded      = expvar.NewInt("columns_added")
	TypeDriftDetected = expvar.NewInt("type_drift_detected")
	StepsSucceeded    = expvar.NewInt("steps_succeeded")
	StepsFailed       = expvar.NewInt("steps_failed")
	StepsRetried      = expvar.NewInt("steps_retried")
	RunsCompleted     = expvar.NewInt("runs_completed")
	AlertsDispatched  = expvar.NewInt("alerts_dispatched")
	AlertsFailed      = expvar.NewInt("alerts_failed")
)
