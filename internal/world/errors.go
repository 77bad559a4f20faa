package world

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the stable code of an action-core failure.
type Kind string

const (
	KindNotFound         Kind = "E_NOT_FOUND"
	KindUnreachable      Kind = "E_UNREACHABLE"
	KindToolMissing      Kind = "E_TOOL_MISSING"
	KindToolTier         Kind = "E_TOOL_TIER"
	KindHazardBlocked    Kind = "E_HAZARD_BLOCKED"
	KindAborted          Kind = "E_ABORTED"
	KindPrimitive        Kind = "E_PRIMITIVE"
	KindBadRequest       Kind = "E_BAD_REQUEST"
	KindCombatPreempted  Kind = "E_COMBAT_PREEMPTED"
	KindBusy             Kind = "E_BUSY"
	KindNoItems          Kind = "E_NO_ITEMS"
)

func IsKnownKind(k Kind) bool {
	switch k {
	case KindNotFound, KindUnreachable, KindToolMissing, KindToolTier,
		KindHazardBlocked, KindAborted, KindPrimitive, KindBadRequest,
		KindCombatPreempted, KindBusy, KindNoItems:
		return true
	}
	return false
}

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := string(e.Kind)
	if e.Op != "" {
		s += " " + e.Op
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf classifies err. Context cancellation maps to KindAborted; any other
// untyped error is a primitive failure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindAborted
	}
	return KindPrimitive
}

// Cause classifies the failure of a blocking call made under ctx. Only the
// caller's own cancellation is an abort; a world-side failure such as a
// tick that never arrived keeps its kind.
func Cause(ctx context.Context, op string, err error) *Error {
	if cerr := ctx.Err(); cerr != nil {
		return Wrap(KindAborted, op, cerr)
	}
	return Wrap(KindOf(err), op, err)
}
