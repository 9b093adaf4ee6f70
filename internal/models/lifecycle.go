package models

import "errors"

// DeletionState is the deletion axis of a todo, independent of its workflow Status.
type DeletionState int

const (
	StateActive DeletionState = iota
	StateTrashed
	StateGone
)

func (s DeletionState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateTrashed:
		return "trashed"
	case StateGone:
		return "gone"
	default:
		return "unknown"
	}
}

type Transition string

const (
	TransitionEdit       Transition = "edit"
	TransitionSoftDelete Transition = "soft_delete"
	TransitionRestore    Transition = "restore"
	TransitionPurge      Transition = "purge"
)

var (
	ErrTransitionNotAllowed = errors.New("transition not allowed in current state")
	ErrRecordGone           = errors.New("record has been permanently deleted")
)

// deletionTransitions is the full table. Missing entries are rejected; Gone has no exits.
var deletionTransitions = map[DeletionState]map[Transition]DeletionState{
	StateActive: {
		TransitionEdit:       StateActive,
		TransitionSoftDelete: StateTrashed,
		TransitionRestore:    StateActive,
		TransitionPurge:      StateGone,
	},
	StateTrashed: {
		TransitionSoftDelete: StateTrashed,
		TransitionRestore:    StateActive,
		TransitionPurge:      StateGone,
	},
	StateGone: {},
}

func NextState(from DeletionState, tr Transition) (DeletionState, error) {
	if from == StateGone {
		return StateGone, ErrRecordGone
	}
	next, ok := deletionTransitions[from][tr]
	if !ok {
		return from, ErrTransitionNotAllowed
	}
	return next, nil
}

func (t *Todo) State() DeletionState {
	if t.IsDeleted {
		return StateTrashed
	}
	return StateActive
}

// Apply moves the record along the deletion axis and reports whether the
// persisted flag changed. A purge leaves the flag alone; the caller removes the row.
func (t *Todo) Apply(tr Transition) (DeletionState, bool, error) {
	from := t.State()
	next, err := NextState(from, tr)
	if err != nil {
		return from, false, err
	}
	switch next {
	case StateActive:
		t.IsDeleted = false
	case StateTrashed:
		t.IsDeleted = true
	}
	return next, next != from && next != StateGone, nil
}
