package machine

import (
	"github.com/mastercactapus/homecnc/coord"
	"github.com/mastercactapus/homecnc/gcode"
	"github.com/mastercactapus/homecnc/homing"
	"github.com/mastercactapus/homecnc/planner"
)

// Cycle is the canonical machine cycle indicator.
type Cycle int

const (
	CycleNone Cycle = iota
	CycleHoming
)

func (c Cycle) String() string {
	if c == CycleHoming {
		return "homing"
	}
	return "none"
}

// AxisConfig is the machine configuration of one axis.
type AxisConfig struct {
	homing.AxisConfig

	// Jerk is the nominal jerk of the axis.
	Jerk float64
}

// canonical is the machine model seen by the homing cycle. It is not
// safe for concurrent use; Machine serializes access.
type canonical struct {
	vm *gcode.VM
	p  Planner

	axes [coord.AxisCount]AxisConfig
	jerk [coord.AxisCount]float64

	homed        coord.Flags
	machineHomed bool
	requested    coord.Flags
	cycle        Cycle
}

var (
	_ homing.Model       = &canonical{}
	_ homing.MotionQueue = &canonical{}
)

func newCanonical(p Planner, axes [coord.AxisCount]AxisConfig) *canonical {
	c := &canonical{vm: gcode.NewVM(), p: p, axes: axes}
	for a, cfg := range axes {
		c.jerk[a] = cfg.Jerk
	}
	c.vm.SetMPos(p.Position())
	return c
}

func (c *canonical) Modal(g gcode.ModalGroup) float64         { return c.vm.Modal(g) }
func (c *canonical) SetModal(g gcode.ModalGroup, val float64) { c.vm.SetModal(g, val) }
func (c *canonical) FeedRate() float64                        { return c.vm.FeedRate() }
func (c *canonical) SetFeedRate(feed float64)                 { c.vm.SetFeedRate(feed) }

func (c *canonical) Jerk(a coord.Axis) float64          { return c.jerk[a] }
func (c *canonical) SetJerk(a coord.Axis, jerk float64) { c.jerk[a] = jerk }

// SetAxisPosition redefines one axis in both the model and the runtime.
func (c *canonical) SetAxisPosition(a coord.Axis, pos float64) {
	rt := c.p.Position()
	rt[a] = pos
	c.p.SetPosition(rt)
	c.vm.SetAxisPosition(a, pos)
}

func (c *canonical) WorkPosition(a coord.Axis) float64 {
	return c.p.Position()[a] - c.vm.WCO()[a]
}

func (c *canonical) AxisConfig(a coord.Axis) homing.AxisConfig { return c.axes[a].AxisConfig }
func (c *canonical) Requested() coord.Flags                    { return c.requested }
func (c *canonical) SetHomed(a coord.Axis, homed bool)         { c.homed[a] = homed }
func (c *canonical) SetMachineHomed(homed bool)                { c.machineHomed = homed }
func (c *canonical) BeginHomingCycle()                         { c.cycle = CycleHoming }
func (c *canonical) InHomingCycle() bool                       { return c.cycle == CycleHoming }
func (c *canonical) EndCycle()                                 { c.cycle = CycleNone }

// feedMM is the model feed rate in mm/min.
func (c *canonical) feedMM() float64 {
	if c.vm.Inches() {
		return c.vm.FeedRate() * 25.4
	}
	return c.vm.FeedRate()
}

// StraightFeed queues an incremental feed of the flagged axes at the
// model feed rate.
func (c *canonical) StraightFeed(v coord.Vector, flags coord.Flags) error {
	delta := v.Masked(flags)
	err := c.p.Enqueue(planner.Move{Delta: delta, Feed: c.feedMM()})
	if err != nil {
		return err
	}
	c.vm.SetMPos(c.vm.MPos().Add(delta))
	return nil
}

// Flush drops queued motion and brings the model back to where the
// runtime stopped.
func (c *canonical) Flush() {
	c.p.Flush()
	c.vm.SetMPos(c.p.Position())
}

func (c *canonical) Busy() bool   { return c.p.Busy() }
func (c *canonical) EndFeedHold() { c.p.EndFeedHold() }
