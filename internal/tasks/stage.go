// Package tasks decides which module specification advances through which
// review stage next, using cached stage artifacts to skip completed work.
package tasks

import "fmt"

// Stage is one review phase. Stages run in the fixed order of Stages.
type Stage string

const (
	StageSelfConsistency       Stage = "self-consistency"
	StageDependencyConsistency Stage = "dependency-consistency"
	StageProjectConsistency    Stage = "project-consistency"
	StageImplementationReady   Stage = "implementation-readiness"
)

// Stages lists every stage in review order.
var Stages = []Stage{
	StageSelfConsistency,
	StageDependencyConsistency,
	StageProjectConsistency,
	StageImplementationReady,
}

var stageGoals = map[Stage]string{
	StageSelfConsistency: "Check that the specification is internally consistent: " +
		"no contradictory requirements, every referenced type and operation is defined, " +
		"and edge cases are stated.",
	StageDependencyConsistency: "Check that everything the specification uses from its " +
		"dependencies exists in their specifications with compatible names and semantics.",
	StageProjectConsistency: "Check that the specification fits the rest of the project: " +
		"shared conventions, no duplicated responsibilities, and no conflicts with other modules.",
	StageImplementationReady: "Check that an engineer could implement the module from this " +
		"specification alone, without guessing at behavior.",
}

// Index returns the position of s in Stages, or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Goal describes what the stage checks.
func (s Stage) Goal() string { return stageGoals[s] }

func (s Stage) String() string { return string(s) }

// ParseStage returns the stage named name.
func ParseStage(name string) (Stage, error) {
	s := Stage(name)
	if s.Index() < 0 {
		return "", fmt.Errorf("unknown stage %q", name)
	}
	return s, nil
}
