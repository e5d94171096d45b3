package homing

import (
	"github.com/mastercactapus/homecnc/coord"
	"github.com/mastercactapus/homecnc/gcode"
)

// Direction is the side of travel the homing switch sits on.
type Direction int

const (
	ToMin Direction = iota
	ToMax
)

func (d Direction) String() string {
	if d == ToMax {
		return "max"
	}
	return "min"
}

// AxisConfig is the homing configuration of one axis. Velocities are in
// mm/min and distances in mm.
type AxisConfig struct {
	// HomingInput is the digital input the reference switch is wired to.
	// Zero means the axis has no switch.
	HomingInput int

	SearchVelocity float64
	LatchVelocity  float64
	LatchBackoff   float64
	ZeroBackoff    float64

	TravelMin float64
	TravelMax float64

	HomingDir Direction

	// JerkHigh is used from the search onward.
	JerkHigh float64
}

// Model is the machine state the homing cycle reads and changes.
type Model interface {
	Modal(g gcode.ModalGroup) float64
	SetModal(g gcode.ModalGroup, val float64)
	FeedRate() float64
	SetFeedRate(feed float64)

	Jerk(a coord.Axis) float64
	SetJerk(a coord.Axis, jerk float64)

	// SetAxisPosition sets the machine position of one axis.
	SetAxisPosition(a coord.Axis, pos float64)
	// WorkPosition is the runtime position of one axis in work coordinates.
	WorkPosition(a coord.Axis) float64

	AxisConfig(a coord.Axis) AxisConfig
	// Requested returns the axes named by the homing command.
	Requested() coord.Flags
	SetHomed(a coord.Axis, homed bool)
	SetMachineHomed(homed bool)

	BeginHomingCycle()
	InHomingCycle() bool
	// EndCycle ends the canonical cycle and clears the cycle indicator.
	EndCycle()
}

// MotionQueue accepts straight feed moves at the model's current feed rate.
type MotionQueue interface {
	// StraightFeed queues an incremental move of the flagged axes.
	StraightFeed(v coord.Vector, flags coord.Flags) error
	// Flush discards everything queued, including the unexecuted
	// remainder of a held move.
	Flush()
	// Busy is true while a move is running or queued.
	Busy() bool
	EndFeedHold()
}

// Inputs is the digital input subsystem holding the reference switches.
type Inputs interface {
	// Bound reports whether id resolves to a configured input.
	Bound(id int) bool
	Active(id int) bool
	// SetHomingMode makes edges on the input request a feed hold.
	SetHomingMode(id int, enabled bool)
}
