package dialogue

import "github.com/harborcs/taskmode/model"

// nextAvailableIndex returns the first slide index after current that is
// neither skipped nor snoozed. Completed slides are legal forward targets,
// so a retreat or reopen can walk forward through finished work again.
// Returns -1 when no such slide exists, which makes the current slide
// terminal.
func nextAvailableIndex(state model.RuntimeState, slideCount int) int {
	for i := state.CurrentSlide + 1; i < slideCount; i++ {
		if !state.Skipped[i] && !state.Snoozed[i] {
			return i
		}
	}
	return -1
}

// previousAvailableIndex returns the nearest slide index before current
// that was not skipped or snoozed, or -1 when already at the front.
// Completed slides are legal retreat targets; going back is how a user
// reviews finished work.
func previousAvailableIndex(state model.RuntimeState) int {
	for i := state.CurrentSlide - 1; i >= 0; i-- {
		if !state.Skipped[i] && !state.Snoozed[i] {
			return i
		}
	}
	return -1
}
