package patch

import (
	"strconv"

	"github.com/handleui/caliper/internal/workflow"
)

const (
	defaultJobTimeoutMinutes  = 30
	defaultStepTimeoutMinutes = 15
)

// Harden returns patches that add timeout guards where a definition has
// none: 30 minutes per job and 15 minutes per run step. Jobs and steps
// that already declare a timeout are left alone, so a hardened definition
// produces no further patches.
func Harden(def *workflow.Definition) []*Patch {
	if def == nil {
		return nil
	}

	var patches []*Patch
	for _, id := range def.JobIDs() {
		job := def.Jobs[id]
		if job.TimeoutMinutes == 0 {
			patches = append(patches, NewSetField(
				JobPath(id, "timeout-minutes"),
				strconv.Itoa(defaultJobTimeoutMinutes),
			))
		}
		for i, step := range job.Steps {
			if !step.IsRun() || step.TimeoutMinutes != 0 {
				continue
			}
			patches = append(patches, NewSetField(
				StepPath(id, i, "timeout-minutes"),
				strconv.Itoa(defaultStepTimeoutMinutes),
			))
		}
	}
	return patches
}
