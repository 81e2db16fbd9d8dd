package runtime

import (
	"fmt"

	"github.com/ojdaemon/ojd/internal/oj"
)

// Resolution is what resolving a decision means for the owning job or
// agent run: advance/cancel, or pass a message straight through to the
// session (approval/question answers).
type Resolution struct {
	// Advance is non-empty when the decision resolves to a step target
	// (e.g. "retry the current step" re-enters it, "" + Cancel means
	// cancel the job).
	Advance string
	Cancel  bool
	// SessionInput is set when the resolution should be typed into the
	// owner's live session rather than drive the state machine
	// (approval send "y"/"n", question answers, idle freeform nudge).
	SessionInput string
}

// ResolveDecision implements the per-source resolution mapping table:
// numbered options 1..N map to fixed meanings per source, and a
// freeform message (chosen == nil) has its own per-source meaning.
func ResolveDecision(d *oj.Decision, chosen *int, message string) (Resolution, error) {
	switch d.Source {
	case oj.DecisionIdle:
		return resolveNumberedOrFreeform(chosen, message,
			map[int]Resolution{
				1: {SessionInput: message}, // nudge; message carries the nudge text
				2: {Advance: oj.StepDone},
				3: {Cancel: true},
			},
			Resolution{SessionInput: message},
		)

	case oj.DecisionError, oj.DecisionGate:
		return resolveNumberedOrFreeform(chosen, message,
			map[int]Resolution{
				1: {Advance: "retry"},
				2: {Advance: oj.StepDone},
				3: {Cancel: true},
			},
			Resolution{Advance: "retry", SessionInput: message},
		)

	case oj.DecisionApproval:
		switch {
		case chosen != nil && *chosen == 1:
			return Resolution{SessionInput: "y"}, nil
		case chosen != nil && *chosen == 2:
			return Resolution{SessionInput: "n"}, nil
		case chosen != nil && *chosen == 3:
			return Resolution{Cancel: true}, nil
		default:
			return Resolution{}, fmt.Errorf("decision %s: approval requires choosing option 1, 2, or 3", d.ID)
		}

	case oj.DecisionQuestion:
		numOptions := len(d.Options)
		switch {
		case chosen != nil && *chosen == numOptions:
			return Resolution{Cancel: true}, nil
		case chosen != nil && *chosen >= 1 && *chosen < numOptions:
			return Resolution{SessionInput: d.Options[*chosen-1].Label}, nil
		default:
			return Resolution{SessionInput: message}, nil
		}

	default:
		return Resolution{}, fmt.Errorf("decision %s: unknown source %q", d.ID, d.Source)
	}
}

func resolveNumberedOrFreeform(chosen *int, message string, numbered map[int]Resolution, freeform Resolution) (Resolution, error) {
	if chosen == nil {
		return freeform, nil
	}
	r, ok := numbered[*chosen]
	if !ok {
		return Resolution{}, fmt.Errorf("option %d is out of range", *chosen)
	}
	return r, nil
}
