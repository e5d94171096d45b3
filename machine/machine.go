package machine

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/mastercactapus/homecnc/coord"
	"github.com/mastercactapus/homecnc/gcode"
	"github.com/mastercactapus/homecnc/homing"
	"github.com/mastercactapus/homecnc/planner"
)

var (
	// ErrCycleActive is returned by Run while a homing cycle owns the
	// motion queue.
	ErrCycleActive = errors.New("homing cycle active")
	// ErrNoMotionMode is returned for axis words with motion cancelled (G80).
	ErrNoMotionMode = errors.New("axis words without a motion mode")
	// ErrAborted is reported when a cycle is stopped with Abort.
	ErrAborted = errors.New("aborted")
	// ErrHeld is reported when a feed hold interrupts a homing cycle.
	ErrHeld = errors.New("feed hold during homing")
)

// Machine is the canonical machine: it interprets commands, owns the
// homed flags and cycle indicator and drives the homing cycle from Tick.
// It is safe for concurrent use.
type Machine struct {
	mx sync.Mutex

	c    *canonical
	home *homing.Controller

	last    State
	lastErr error

	state chan State
	diags chan homing.Diagnostic
}

// State is a snapshot of the machine for status reports.
type State struct {
	Status       string
	MPos         coord.Vector
	WCO          coord.Vector
	Homed        coord.Flags
	MachineHomed bool
	Cycle        string
	Phase        string `json:",omitempty"`
	Axis         string `json:",omitempty"`
	Error        string `json:",omitempty"`
}

// Config wires a Machine to its backends.
type Config struct {
	Planner Planner
	Inputs  homing.Inputs
	Axes    [coord.AxisCount]AxisConfig
	// Order is the homing priority order; homing.DefaultOrder if empty.
	Order []coord.Axis
}

// NewMachine creates a machine idle at the planner's position.
func NewMachine(cfg Config) *Machine {
	m := &Machine{
		c:     newCanonical(cfg.Planner, cfg.Axes),
		state: make(chan State, 1),
		diags: make(chan homing.Diagnostic, 16),
	}
	m.home = homing.NewController(homing.Config{
		Model:    m.c,
		Queue:    m.c,
		Inputs:   cfg.Inputs,
		Reporter: homing.ReporterFunc(m.report),
		Order:    cfg.Order,
	})
	m.last = m.snapshot()
	return m
}

// report runs with m.mx held, from inside the controller.
func (m *Machine) report(d homing.Diagnostic) {
	homing.LogReporter{}.Report(d)
	select {
	case m.diags <- d:
	default:
	}
}

// State returns a channel receiving state changes. Slow readers miss
// intermediate states.
func (m *Machine) State() chan State { return m.state }

// Diagnostics returns a channel receiving homing failure diagnostics.
func (m *Machine) Diagnostics() chan homing.Diagnostic { return m.diags }

// CurrentState returns the state as of the last change.
func (m *Machine) CurrentState() State {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.last
}

// Order returns the homing priority order.
func (m *Machine) Order() []coord.Axis { return m.home.Order() }

func (m *Machine) snapshot() State {
	s := State{
		MPos:         m.c.p.Position(),
		WCO:          m.c.vm.WCO(),
		Homed:        m.c.homed,
		MachineHomed: m.c.machineHomed,
		Cycle:        m.c.cycle.String(),
	}
	switch {
	case m.c.InHomingCycle():
		s.Status = "Home"
		s.Phase = m.home.Phase().String()
		if m.home.Axis().Valid() {
			s.Axis = m.home.Axis().String()
		}
	case m.c.p.Held():
		s.Status = "Hold"
	case m.c.p.Busy():
		s.Status = "Run"
	default:
		s.Status = "Idle"
	}
	if m.lastErr != nil {
		s.Error = m.lastErr.Error()
	}
	return s
}

// publish runs with m.mx held.
func (m *Machine) publish() {
	s := m.snapshot()
	if s == m.last {
		return
	}
	m.last = s
	select {
	case <-m.state:
	default:
	}
	select {
	case m.state <- s:
	default:
	}
}

// Run interprets one block. G28.2 and G28.4 start a homing cycle over
// the axes named in the block; their values are ignored. Everything is
// refused while a cycle is active.
func (m *Machine) Run(b gcode.Block) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	defer m.publish()

	if m.c.InHomingCycle() {
		return ErrCycleActive
	}

	switch {
	case b.Has(gcode.Word{W: 'G', Arg: gcode.HomeCommit}):
		return m.startHoming(b, true)
	case b.Has(gcode.Word{W: 'G', Arg: gcode.HomeNoSet}):
		return m.startHoming(b, false)
	}

	vm := *m.c.vm
	err := vm.Run(b)
	if err != nil {
		return err
	}
	delta := vm.MPos().Sub(m.c.vm.MPos())
	if delta.Length() == 0 {
		*m.c.vm = vm
		return nil
	}

	move := planner.Move{Delta: delta}
	switch vm.Modal(gcode.ModalGroupMotion) {
	case gcode.MotionRapid:
		move.Rapid = true
	case gcode.MotionFeed:
		move.Feed = vm.FeedRate()
		if vm.Inches() {
			move.Feed *= 25.4
		}
	default:
		return ErrNoMotionMode
	}
	err = m.c.p.Enqueue(move)
	if err != nil {
		return err
	}
	*m.c.vm = vm
	return nil
}

func (m *Machine) startHoming(b gcode.Block, commit bool) error {
	for _, w := range b {
		if w.W == 'G' && (w.Arg == gcode.HomeCommit || w.Arg == gcode.HomeNoSet) {
			continue
		}
		if !w.IsAxis() {
			return fmt.Errorf("%w: %s with homing", gcode.ErrUnsupported, w)
		}
	}
	_, m.c.requested = b.Axes()
	m.lastErr = nil
	log.Printf("Homing %s (commit=%t)", m.c.requested, commit)
	if skip := m.home.Skipped(m.c.requested); skip.Any() {
		log.Printf("WARNING: not in homing order %v, skipping: %s", m.home.Order(), skip)
	}
	return m.home.Start(commit)
}

// Home starts a homing cycle over axes, as G28.2 (commit) or G28.4.
func (m *Machine) Home(axes []coord.Axis, commit bool) error {
	g := gcode.HomeNoSet
	if commit {
		g = gcode.HomeCommit
	}
	b := gcode.Block{{W: 'G', Arg: g}}
	for _, a := range axes {
		b = append(b, gcode.Word{W: a.Char(), Arg: 0})
	}
	return m.Run(b)
}

// Tick advances the homing cycle by one poll.
func (m *Machine) Tick() (homing.Result, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	defer m.publish()

	res, err := m.home.Poll()
	switch res {
	case homing.Complete:
		log.Printf("Homing complete, homed: %s", m.c.homed)
	case homing.Failed:
		m.lastErr = err
	}
	return res, err
}

// FeedHold stops motion. A homing cycle cannot tell a hold from its
// switch tripping, so a hold during one ends the cycle with ErrHeld and
// nothing queued.
func (m *Machine) FeedHold() {
	m.mx.Lock()
	defer m.mx.Unlock()
	defer m.publish()

	m.c.p.FeedHold()
	if !m.c.InHomingCycle() {
		return
	}
	m.c.Flush()
	res, err := m.home.Abort(ErrHeld)
	if res == homing.Failed {
		m.lastErr = err
	}
}

// Resume ends a feed hold outside a homing cycle.
func (m *Machine) Resume() error {
	m.mx.Lock()
	defer m.mx.Unlock()
	defer m.publish()
	if m.c.InHomingCycle() {
		return ErrCycleActive
	}
	m.c.p.EndFeedHold()
	return nil
}

// Abort stops motion, drops everything queued and ends a homing cycle
// through its error path.
func (m *Machine) Abort() {
	m.mx.Lock()
	defer m.mx.Unlock()
	defer m.publish()

	m.c.p.FeedHold()
	m.c.Flush()
	res, err := m.home.Abort(ErrAborted)
	if res == homing.Failed {
		m.lastErr = err
	}
	m.c.p.EndFeedHold()
}

// SetWCO sets the work coordinate offset.
func (m *Machine) SetWCO(wco coord.Vector) {
	m.mx.Lock()
	defer m.mx.Unlock()
	defer m.publish()
	m.c.vm.SetWCO(wco)
}
