// Package runlog keeps a durable, redacted record of every prompt, response
// and build output of a run, plus per-run Prometheus metrics.
package runlog

import (
	"forge/internal/build"
	"forge/internal/mutate"
)

// Kind names what a recorded file holds.
type Kind string

const (
	KindPrompt          Kind = "prompt"
	KindResponse        Kind = "response"
	KindContextPrompt   Kind = "context-prompt"
	KindContextResponse Kind = "context-response"
	KindChanges         Kind = "changes"
	KindBuild           Kind = "build"
	KindComment         Kind = "comment"
)

// Recorder receives the artifacts and outcomes of a run. Recording never
// fails the run; write errors are logged.
type Recorder interface {
	Record(kind Kind, content string)
	ObserveQuery(err error)
	ObserveApply(report *mutate.Report)
	ObserveBuild(res *build.Result)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(Kind, string)         {}
func (Nop) ObserveQuery(error)          {}
func (Nop) ObserveApply(*mutate.Report) {}
func (Nop) ObserveBuild(*build.Result)  {}
