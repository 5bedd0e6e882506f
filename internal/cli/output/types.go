package output

// JSON documents emitted by commands in ModeJSON.

// ViewResult is the outcome of deploying one view.
type ViewResult struct {
	View       string `json:"view"`
	Identifier string `json:"identifier"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// RunSummary counts view outcomes.
type RunSummary struct {
	Total      int   `json:"total"`
	Succeeded  int   `json:"succeeded"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
	DurationMS int64 `json:"duration_ms"`
}

// RunOutput is the result of the run command.
type RunOutput struct {
	RunID   string       `json:"run_id,omitempty"`
	DryRun  bool         `json:"dry_run"`
	Plan    []string     `json:"plan"`
	Views   []ViewResult `json:"views"`
	Summary RunSummary   `json:"summary"`
}

// CompiledInfo describes one compiled view.
type CompiledInfo struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
	Source     string `json:"source"`
	Output     string `json:"output,omitempty"`
}

// CompileOutput is the result of the compile command.
type CompileOutput struct {
	Views       []CompiledInfo `json:"views"`
	CompiledDir string         `json:"compiled_dir,omitempty"`
}

// DepsView is one view of the dependency report.
type DepsView struct {
	Name         string   `json:"name"`
	Identifier   string   `json:"identifier"`
	Dependencies []string `json:"dependencies"`
	External     []string `json:"external,omitempty"`
	Level        int      `json:"level"`
}

// DepsOutput is the result of the deps command.
type DepsOutput struct {
	Views []DepsView `json:"views"`
	Order []string   `json:"order"`
}

// ValidateOutput is the result of the validate command.
type ValidateOutput struct {
	Valid  bool     `json:"valid"`
	Views  int      `json:"views"`
	Errors []string `json:"errors,omitempty"`
}

// RunInfo summarises a recorded run.
type RunInfo struct {
	ID          string `json:"id"`
	Trigger     string `json:"trigger"`
	Commit      string `json:"commit,omitempty"`
	DryRun      bool   `json:"dry_run"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

// HistoryOutput is the result of the history command.
type HistoryOutput struct {
	Runs []RunInfo `json:"runs"`
}
