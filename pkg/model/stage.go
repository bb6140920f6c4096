package model

// Stage is a state of the per-request pipeline
type Stage string

const (
	StageReceived     Stage = "received"
	StageClassified   Stage = "classified"
	StageEmbedded     Stage = "embedded"
	StageRetrieved    Stage = "retrieved"
	StageContextBuilt Stage = "context_built"
	StagePromptBuilt  Stage = "prompt_built"
	StageCompleted    Stage = "completed"
	StageRecorded     Stage = "recorded"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// StageError identifies the pipeline stage that failed. Stage is the stage
// being attempted, i.e. the one that was not reached.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return "failed at " + string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}
