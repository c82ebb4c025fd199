package shogi

import (
	"errors"
	"fmt"
)

// ErrGameOver is returned when a move is applied to a finished game.
var ErrGameOver = errors.New("game is over")

// IllegalMoveError reports a move rejected by the rules engine. It is
// recoverable: the caller should re-query the legal move set.
type IllegalMoveError struct {
	Move   Move
	Reason string
}

func (e *IllegalMoveError) Error() string {
	return fmt.Sprintf("illegal move %s: %s", e.Move, e.Reason)
}

// CorruptionError reports a broken engine invariant: missing king,
// negative hand count, out-of-bounds write, asymmetric undo. It is
// fatal for the affected game and must never be converted into an
// IllegalMoveError.
type CorruptionError struct {
	Reason string
}

func (e *CorruptionError) Error() string {
	return "state corruption: " + e.Reason
}

func corruptionf(format string, args ...any) error {
	return &CorruptionError{Reason: fmt.Sprintf(format, args...)}
}

func illegalf(m Move, format string, args ...any) error {
	return &IllegalMoveError{Move: m, Reason: fmt.Sprintf(format, args...)}
}
