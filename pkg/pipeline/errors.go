package pipeline

import "fmt"

// Stage names a pipeline stage.
type Stage string

const (
	StageConfig Stage = "config"
	StageDecode Stage = "decode"
	StageBuild  Stage = "build"
	StageSearch Stage = "search"
	StageWrite  Stage = "write"
)

// StageError is returned by Process and identifies the failed stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}
