package domain

import "github.com/bloodlink/bloodlink-backend/internal/errs"

type Action string

const (
	ActionAccept   Action = "accept"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

// transitions is the whole lifecycle: pending -> inprogress -> done | canceled.
var transitions = map[Status]map[Action]Status{
	StatusPending: {
		ActionAccept: StatusInProgress,
	},
	StatusInProgress: {
		ActionComplete: StatusDone,
		ActionCancel:   StatusCanceled,
	},
	StatusDone:     {},
	StatusCanceled: {},
}

// Next returns the status reached by applying a in from, or a conflict error
// when the lifecycle does not allow it.
func Next(from Status, a Action) (Status, error) {
	to, ok := transitions[from][a]
	if !ok {
		return "", errs.Conflict("cannot %s a request that is %s", a, from)
	}
	return to, nil
}

// ActionFor maps a requested target status to the action that reaches it.
func ActionFor(target Status) (Action, error) {
	switch target {
	case StatusInProgress:
		return ActionAccept, nil
	case StatusDone:
		return ActionComplete, nil
	case StatusCanceled:
		return ActionCancel, nil
	}
	return "", errs.Validation("cannot move a request to %q", target)
}
