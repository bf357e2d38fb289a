package lambda

// StepRequest is the payload a Step Functions Task sends the step runner.
// A request naming Finalize closes the run instead of running a node.
type StepRequest struct {
	Node     string `json:"node,omitempty"`
	Workflow string `json:"workflow"`
	// RunID groups step records; the rendered machine passes the execution name.
	RunID    string `json:"runId,omitempty"`
	Finalize string `json:"finalize,omitempty"`
}

// StepResponse reports a completed step or a closed run.
type StepResponse struct {
	Node   string `json:"node,omitempty"`
	RunID  string `json:"runId,omitempty"`
	Status string `json:"status"`
	Rows   int64  `json:"rows"`
}
