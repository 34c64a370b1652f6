// Package fsm evaluates a declared transition table.
//
// A Machine holds named transitions, each with a set of allowed source states (or any state)
// and one target. Fire validates the current state, runs the caller's action, and only after
// the action and every success hook return nil reports the target as the new state. The
// machine never stores entity state itself and never touches persistence; hooks do that.
package fsm
