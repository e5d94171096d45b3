// Package homing runs the reference homing cycle of a multi-axis machine.
//
// For each requested axis, in priority order, the cycle backs off a switch
// that is already closed, searches for the switch at speed, latches off it
// slowly for a repeatable trigger point and backs off to the zero position.
// The Controller is polled from the machine tick and never blocks: every
// poll issues at most one move and waits on the motion queue in between.
package homing

import (
	"errors"
	"math"

	"github.com/mastercactapus/homecnc/coord"
	"github.com/mastercactapus/homecnc/gcode"
)

// ErrCycleActive is returned by Start while a cycle is already running.
var ErrCycleActive = errors.New("homing: cycle already active")

const epsilon = 0.00001

func fpZero(v float64) bool { return math.Abs(v) < epsilon }

type modalState struct {
	units        float64
	coordSystem  float64
	distanceMode float64
	feedRateMode float64
	feedRate     float64
}

// Config wires a Controller to the machine.
type Config struct {
	Model    Model
	Queue    MotionQueue
	Inputs   Inputs
	Reporter Reporter

	// Order is the homing priority order. DefaultOrder is used if empty.
	Order []coord.Axis
}

// Controller owns the context of one homing cycle at a time.
type Controller struct {
	m   Model
	q   MotionQueue
	in  Inputs
	rep Reporter
	seq Sequencer

	active bool
	phase  Phase

	axis        coord.Axis
	homingInput int
	commitZero  bool

	direction      float64
	searchTravel   float64
	searchVelocity float64
	latchVelocity  float64
	latchBackoff   float64
	zeroBackoff    float64
	jerkHigh       float64

	saved      modalState
	savedJerk  float64
	jerkSaved  bool
	inputArmed bool
}

// NewController creates a Controller. Model, Queue and Inputs are required.
func NewController(cfg Config) *Controller {
	c := &Controller{
		m:    cfg.Model,
		q:    cfg.Queue,
		in:   cfg.Inputs,
		rep:  cfg.Reporter,
		seq:  Sequencer{Order: cfg.Order},
		axis: coord.AxisNone,
	}
	if c.rep == nil {
		c.rep = LogReporter{}
	}
	if len(c.seq.Order) == 0 {
		c.seq.Order = DefaultOrder
	}
	return c
}

// Phase returns the phase the next poll will run.
func (c *Controller) Phase() Phase { return c.phase }

// Axis returns the axis being homed, or coord.AxisNone.
func (c *Controller) Axis() coord.Axis { return c.axis }

// Active is true from Start until the cycle finalizes.
func (c *Controller) Active() bool { return c.active }

// CommitZero reports whether the current cycle zeroes axis positions.
func (c *Controller) CommitZero() bool { return c.commitZero }

// Order returns the homing priority order.
func (c *Controller) Order() []coord.Axis { return c.seq.Order }

// Skipped returns the requested axes outside the priority order.
func (c *Controller) Skipped(requested coord.Flags) coord.Flags {
	return c.seq.Skipped(requested)
}

// Home starts a cycle that sets each homed axis to zero (G28.2).
func (c *Controller) Home() error { return c.Start(true) }

// HomeNoSet starts a cycle that only records positions (G28.4).
func (c *Controller) HomeNoSet() error { return c.Start(false) }

// Start begins a homing cycle over the model's requested axes and returns
// immediately. Poll drives the cycle from then on.
func (c *Controller) Start(commit bool) error {
	if c.active {
		return ErrCycleActive
	}

	c.saved = modalState{
		units:        c.m.Modal(gcode.ModalGroupUnits),
		coordSystem:  c.m.Modal(gcode.ModalGroupCoordinateSystem),
		distanceMode: c.m.Modal(gcode.ModalGroupDistanceMode),
		feedRateMode: c.m.Modal(gcode.ModalGroupFeedRateMode),
		feedRate:     c.m.FeedRate(),
	}

	// homing moves are unambiguous whatever the program left behind
	c.m.SetModal(gcode.ModalGroupUnits, gcode.UnitsMillimeters)
	c.m.SetModal(gcode.ModalGroupDistanceMode, gcode.DistanceIncremental)
	c.m.SetModal(gcode.ModalGroupCoordinateSystem, gcode.CoordSystemMachine)
	c.m.SetModal(gcode.ModalGroupFeedRateMode, gcode.FeedRateUnitsPerMinute)

	c.commitZero = commit
	c.axis = coord.AxisNone
	c.homingInput = 0
	c.jerkSaved = false
	c.inputArmed = false
	c.phase = PhaseStart
	c.active = true

	c.m.BeginHomingCycle()
	c.m.SetMachineHomed(false)
	return nil
}

// Poll advances the cycle by at most one phase. It is a no-op outside a
// homing cycle and returns Again without changing anything while the
// motion queue is busy, so the last move of an axis has landed before the
// next phase reads positions or switches.
func (c *Controller) Poll() (Result, error) {
	if !c.m.InHomingCycle() {
		return NoOp, nil
	}
	if c.q.Busy() {
		return Again, nil
	}

	switch c.phase {
	case PhaseStart:
		return c.axisStart()
	case PhaseClearSwitch:
		return c.axisClear()
	case PhaseSearch:
		return c.axisSearch()
	case PhaseLatch:
		return c.axisLatch()
	case PhaseZeroBackoff:
		return c.axisZeroBackoff()
	case PhaseSetZero:
		return c.axisSetZero()
	case PhaseFinalize:
		c.finalize()
		return Complete, nil
	}

	return c.errorExit(c.axis, CodeCycleFailed, nil)
}

// Abort ends a running cycle through the error path, restoring modal
// state. It does nothing if no cycle is active.
func (c *Controller) Abort(cause error) (Result, error) {
	if !c.active {
		return NoOp, nil
	}
	return c.errorExit(c.axis, CodeCycleFailed, cause)
}

func (c *Controller) next(p Phase) (Result, error) {
	c.phase = p
	return Again, nil
}

func (c *Controller) validate(cfg AxisConfig) Code {
	switch {
	case cfg.HomingInput == 0 || !c.in.Bound(cfg.HomingInput):
		return CodeInputMisconfigured
	case fpZero(cfg.SearchVelocity):
		return CodeZeroSearchVelocity
	case fpZero(cfg.LatchVelocity):
		return CodeZeroLatchVelocity
	case cfg.LatchBackoff < 0:
		return CodeNegativeLatchBackoff
	case fpZero(math.Abs(cfg.TravelMax-cfg.TravelMin) + cfg.LatchBackoff):
		return CodeTravelMinMaxIdentical
	}
	return 0
}

func (c *Controller) axisStart() (Result, error) {
	axis, seq := c.seq.Next(c.axis, c.m.Requested())
	switch seq {
	case SequenceComplete:
		c.m.SetMachineHomed(true)
		return c.next(PhaseFinalize)
	case NoAxisRequested:
		return c.errorExit(coord.AxisNone, CodeBadOrNoAxis, nil)
	}
	c.axis = axis

	// not homed while moving, so soft limits stay out of the way
	c.m.SetHomed(axis, false)

	cfg := c.m.AxisConfig(axis)
	if code := c.validate(cfg); code != 0 {
		return c.errorExit(axis, code, nil)
	}
	travel := math.Abs(cfg.TravelMax-cfg.TravelMin) + cfg.LatchBackoff

	c.homingInput = cfg.HomingInput
	c.searchVelocity = math.Abs(cfg.SearchVelocity)
	c.latchVelocity = math.Abs(cfg.LatchVelocity)
	c.jerkHigh = cfg.JerkHigh

	c.direction = -1
	if cfg.HomingDir == ToMax {
		c.direction = 1
	}
	// search toward the switch, latch and zero backoff away from it
	c.searchTravel = c.direction * travel
	c.latchBackoff = -c.direction * cfg.LatchBackoff
	c.zeroBackoff = -c.direction * cfg.ZeroBackoff

	c.in.SetHomingMode(c.homingInput, true)
	c.inputArmed = true
	c.savedJerk = c.m.Jerk(axis)
	c.jerkSaved = true

	return c.next(PhaseClearSwitch)
}

func (c *Controller) axisClear() (Result, error) {
	if c.in.Active(c.homingInput) {
		// backing off a shared switch would disturb the other axis' reference
		requested := c.m.Requested()
		for a := coord.Axis(0); a < coord.AxisCount; a++ {
			if a == c.axis || !requested[a] {
				continue
			}
			if c.m.AxisConfig(a).HomingInput == c.homingInput {
				return c.errorExit(c.axis, CodeMustClearSwitchesBeforeHoming, nil)
			}
		}
		err := c.issueAxisMove(c.axis, c.latchBackoff, c.searchVelocity)
		if err != nil {
			return c.errorExit(c.axis, CodeCycleFailed, err)
		}
	}
	return c.next(PhaseSearch)
}

func (c *Controller) axisSearch() (Result, error) {
	c.m.SetJerk(c.axis, c.jerkHigh)
	err := c.issueAxisMove(c.axis, c.searchTravel, c.searchVelocity)
	if err != nil {
		return c.errorExit(c.axis, CodeCycleFailed, err)
	}
	return c.next(PhaseLatch)
}

func (c *Controller) axisLatch() (Result, error) {
	c.q.Flush() // what is left of the search move
	err := c.issueAxisMove(c.axis, c.latchBackoff, c.latchVelocity)
	if err != nil {
		return c.errorExit(c.axis, CodeCycleFailed, err)
	}
	return c.next(PhaseZeroBackoff)
}

func (c *Controller) axisZeroBackoff() (Result, error) {
	c.q.Flush() // what is left of the latch move
	err := c.issueAxisMove(c.axis, c.zeroBackoff, c.searchVelocity)
	if err != nil {
		return c.errorExit(c.axis, CodeCycleFailed, err)
	}
	return c.next(PhaseSetZero)
}

func (c *Controller) axisSetZero() (Result, error) {
	if c.commitZero {
		c.m.SetAxisPosition(c.axis, 0)
		c.m.SetHomed(c.axis, true)
	} else {
		c.m.SetAxisPosition(c.axis, c.m.WorkPosition(c.axis))
	}
	c.releaseAxis()
	return c.next(PhaseStart)
}

// issueAxisMove queues one single-axis move at velocity, dropping any
// stale queued motion first. A zero distance issues nothing.
func (c *Controller) issueAxisMove(axis coord.Axis, distance, velocity float64) error {
	c.m.SetFeedRate(velocity)
	c.q.Flush()
	c.q.EndFeedHold()
	if distance == 0 {
		return nil
	}
	return c.q.StraightFeed(coord.Single(axis, distance), coord.FlagsOf(axis))
}

// releaseAxis puts back the jerk and switch mode changed for the current axis.
func (c *Controller) releaseAxis() {
	if c.jerkSaved {
		c.m.SetJerk(c.axis, c.savedJerk)
		c.jerkSaved = false
	}
	if c.inputArmed {
		c.in.SetHomingMode(c.homingInput, false)
		c.inputArmed = false
	}
}

// errorExit reports the failure and finalizes. Motion queue errors are
// returned as they are; everything else as an *Error.
func (c *Controller) errorExit(axis coord.Axis, code Code, cause error) (Result, error) {
	c.phase = PhaseErrorExit
	c.rep.Report(newDiagnostic(axis, code, cause))
	c.finalize()

	if cause != nil {
		return Failed, cause
	}
	return Failed, &Error{Axis: axis, Code: code}
}

// finalize restores everything Start changed. Safe to call more than once.
func (c *Controller) finalize() {
	if !c.active {
		return
	}
	c.q.Flush()
	c.q.EndFeedHold()
	c.releaseAxis()

	c.m.SetModal(gcode.ModalGroupCoordinateSystem, c.saved.coordSystem)
	c.m.SetModal(gcode.ModalGroupUnits, c.saved.units)
	c.m.SetModal(gcode.ModalGroupDistanceMode, c.saved.distanceMode)
	c.m.SetModal(gcode.ModalGroupFeedRateMode, c.saved.feedRateMode)
	c.m.SetFeedRate(c.saved.feedRate)
	c.m.SetModal(gcode.ModalGroupMotion, gcode.MotionCancel)
	c.m.EndCycle()

	c.active = false
	if c.phase != PhaseErrorExit {
		c.phase = PhaseFinalize
	}
}
