package rebalance

import (
	"fmt"

	"github.com/aveline-ai/recal/internal/generator"
)

// validateDraft checks the structural invariants a generated plan must hold
// before it can be committed. Any violation wraps ErrMalformedRoadmap with
// the first problem found.
func validateDraft(d *generator.Draft) error {
	if d == nil {
		return fmt.Errorf("%w: empty document", ErrMalformedRoadmap)
	}
	if len(d.Phases) == 0 {
		return fmt.Errorf("%w: no phases", ErrMalformedRoadmap)
	}

	seenIDs := make(map[string]bool)
	wantWeek := 0
	taskCount := 0

	for pi, phase := range d.Phases {
		if phase.Name == "" {
			return fmt.Errorf("%w: phase %d has no name", ErrMalformedRoadmap, pi+1)
		}
		if len(phase.Weeks) == 0 {
			return fmt.Errorf("%w: phase %q has no weeks", ErrMalformedRoadmap, phase.Name)
		}
		for _, week := range phase.Weeks {
			wantWeek++
			if week.Number != wantWeek {
				return fmt.Errorf("%w: week numbering breaks at %d (want %d)", ErrMalformedRoadmap, week.Number, wantWeek)
			}
			if len(week.Tasks) == 0 {
				return fmt.Errorf("%w: week %d has no tasks", ErrMalformedRoadmap, week.Number)
			}
			prevOffset := -1
			for _, task := range week.Tasks {
				if task.ID == "" {
					return fmt.Errorf("%w: task without id in week %d", ErrMalformedRoadmap, week.Number)
				}
				if seenIDs[task.ID] {
					return fmt.Errorf("%w: duplicate task id %q", ErrMalformedRoadmap, task.ID)
				}
				seenIDs[task.ID] = true
				if task.Title == "" {
					return fmt.Errorf("%w: task %q has no title", ErrMalformedRoadmap, task.ID)
				}
				if task.WeekNumber != week.Number {
					return fmt.Errorf("%w: task %q claims week %d but sits in week %d", ErrMalformedRoadmap, task.ID, task.WeekNumber, week.Number)
				}
				if task.DueDayOffset < 0 {
					return fmt.Errorf("%w: task %q has negative due offset", ErrMalformedRoadmap, task.ID)
				}
				if task.DueDayOffset < prevOffset {
					return fmt.Errorf("%w: due offsets go backwards at task %q", ErrMalformedRoadmap, task.ID)
				}
				prevOffset = task.DueDayOffset
				taskCount++
			}
		}
	}

	if d.TotalWeeks != 0 && d.TotalWeeks != wantWeek {
		return fmt.Errorf("%w: declared %d weeks but found %d", ErrMalformedRoadmap, d.TotalWeeks, wantWeek)
	}
	if taskCount == 0 {
		return fmt.Errorf("%w: no tasks", ErrMalformedRoadmap)
	}
	return nil
}
