package homing

import (
	"fmt"

	"github.com/mastercactapus/homecnc/coord"
)

// Code is a homing status code. Values match the firmware status numbering
// so diagnostics line up with existing controller documentation.
type Code int

const (
	CodeCycleFailed                   Code = 240
	CodeBadOrNoAxis                   Code = 241
	CodeZeroSearchVelocity            Code = 242
	CodeZeroLatchVelocity             Code = 243
	CodeTravelMinMaxIdentical         Code = 244
	CodeNegativeLatchBackoff          Code = 245
	CodeInputMisconfigured            Code = 246
	CodeMustClearSwitchesBeforeHoming Code = 247
)

func (c Code) String() string {
	switch c {
	case CodeCycleFailed:
		return "Homing cycle failed"
	case CodeBadOrNoAxis:
		return "Homing Error - Bad or no axis specified"
	case CodeZeroSearchVelocity:
		return "Homing Error - Search velocity is zero"
	case CodeZeroLatchVelocity:
		return "Homing Error - Latch velocity is zero"
	case CodeTravelMinMaxIdentical:
		return "Homing Error - Travel min & max are the same"
	case CodeNegativeLatchBackoff:
		return "Homing Error - Negative latch backoff"
	case CodeInputMisconfigured:
		return "Homing Error - Homing input is misconfigured"
	case CodeMustClearSwitchesBeforeHoming:
		return "Homing Error - Must clear switches before homing"
	}
	return fmt.Sprintf("Homing status %d", int(c))
}

// Error is a configuration or interlock failure of one homing cycle.
// Axis is coord.AxisNone when no axis could be identified.
type Error struct {
	Axis coord.Axis
	Code Code
}

func (e *Error) Error() string {
	if !e.Axis.Valid() {
		return "homing: " + e.Code.String()
	}
	return fmt.Sprintf("homing: %s axis: %s", e.Axis, e.Code)
}

// Is matches another *Error with the same code, ignoring the axis.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Errors usable with errors.Is.
var (
	ErrBadOrNoAxis           = &Error{Axis: coord.AxisNone, Code: CodeBadOrNoAxis}
	ErrZeroSearchVelocity    = &Error{Axis: coord.AxisNone, Code: CodeZeroSearchVelocity}
	ErrZeroLatchVelocity     = &Error{Axis: coord.AxisNone, Code: CodeZeroLatchVelocity}
	ErrTravelMinMaxIdentical = &Error{Axis: coord.AxisNone, Code: CodeTravelMinMaxIdentical}
	ErrNegativeLatchBackoff  = &Error{Axis: coord.AxisNone, Code: CodeNegativeLatchBackoff}
	ErrInputMisconfigured    = &Error{Axis: coord.AxisNone, Code: CodeInputMisconfigured}
	ErrSharedSwitch          = &Error{Axis: coord.AxisNone, Code: CodeMustClearSwitchesBeforeHoming}
	ErrCycleFailed           = &Error{Axis: coord.AxisNone, Code: CodeCycleFailed}
)
