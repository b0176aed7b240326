package macro

import (
	"github.com/google/uuid"

	"go.opcore.dev/opcore/logging"
)

// Stage is where in an activation a failure happened.
type Stage string

// Failure stages.
const (
	StageBuild  Stage = "build"
	StageBegin  Stage = "begin"
	StageUpdate Stage = "update"
	StageFinish Stage = "finish"
)

// Failure describes a task error that was contained by the manager.
type Failure struct {
	Name       string
	Activation uuid.UUID
	Stage      Stage
	Err        error
}

// A Reporter surfaces contained failures to the operator.
type Reporter interface {
	ReportFailure(f Failure)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(f Failure)

// ReportFailure calls f.
func (f ReporterFunc) ReportFailure(failure Failure) {
	f(failure)
}

// NewLogReporter reports failures as error logs.
func NewLogReporter(logger logging.Logger) Reporter {
	return ReporterFunc(func(f Failure) {
		logger.Errorw("macro failure", "macro", f.Name, "activation", f.Activation, "stage", f.Stage, "error", f.Err)
	})
}
