package workflow

import "github.com/convergeops/converge/pkg/tasklist"

// aggregateTask folds a task's step statuses into the task-level
// lattice value, per spec.md §4.5.
func aggregateTask(steps []StepReport, m mode) tasklist.Status {
	if m == modeDryRun {
		for _, s := range steps {
			if s.Status == tasklist.StatusChangeRequired {
				return tasklist.StatusChangeRequired
			}
		}
		return tasklist.StatusAlreadyMatched
	}

	sawFailed := false
	sawAllowedFailed := false
	sawSuccessful := false
	for _, s := range steps {
		switch s.Status {
		case tasklist.StatusApplyFailed:
			sawFailed = true
		case tasklist.StatusApplyFailedButAllowed:
			sawAllowedFailed = true
		case tasklist.StatusApplySuccessful:
			sawSuccessful = true
		}
	}
	switch {
	case sawFailed:
		return tasklist.StatusApplyFailed
	case sawAllowedFailed:
		return tasklist.StatusApplyFailedButAllowed
	case sawSuccessful:
		return tasklist.StatusApplySuccessful
	default:
		return tasklist.StatusAlreadyMatched
	}
}

// aggregateHost folds every task's status into the host-level final
// status. A failed task does not abort the host (spec.md §9 Open
// Question: continue); the host's own terminal status distinguishes a
// clean run from one carrying an allowed failure.
func aggregateHost(tasks []TaskReport, m mode) tasklist.Status {
	if m == modeDryRun {
		for _, t := range tasks {
			if t.Status == tasklist.StatusChangeRequired {
				return tasklist.StatusChangeRequired
			}
		}
		return tasklist.StatusAlreadyMatched
	}

	sawFailed := false
	sawAllowedFailed := false
	sawSuccessful := false
	for _, t := range tasks {
		switch t.Status {
		case tasklist.StatusApplyFailed:
			sawFailed = true
		case tasklist.StatusApplyFailedButAllowed:
			sawAllowedFailed = true
		case tasklist.StatusApplySuccessful:
			sawSuccessful = true
		}
	}
	switch {
	case sawFailed:
		return tasklist.StatusApplyFailed
	case sawAllowedFailed:
		return tasklist.StatusApplyWithAllowedFailure
	case sawSuccessful:
		return tasklist.StatusApplySuccessful
	default:
		return tasklist.StatusAlreadyMatched
	}
}
