package engine

import "fmt"

// StateError reports an operation attempted against an entity in the wrong
// state: double-approve, advance after completion, a second pending request
// for an occupied slot. The engine never retries these; the caller decides
// whether to re-plan or surface the conflict.
type StateError struct {
	Entity string
	ID     string
	State  string
	Op     string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in state %s", e.Op, e.Entity, e.ID, e.State)
}

func stateError(op, entity, id, state string) error {
	return &StateError{Entity: entity, ID: id, State: state, Op: op}
}
