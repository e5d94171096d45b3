// Package input reads reference switches from host GPIO pins.
package input

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Line binds an input id to a pin. Switches are wired to ground with the
// pull-up enabled, so a low level is active unless Invert is set.
type Line struct {
	ID     int
	Pin    gpio.PinIn
	Invert bool
}

type line struct {
	Line
	active bool
}

// GPIO is a set of digital inputs. It implements homing.Inputs.
type GPIO struct {
	mx     sync.Mutex
	lines  map[int]*line
	homing map[int]bool
}

// Open initializes the host drivers and configures the named pins
// (e.g. "GPIO17") as inputs. Keys are input ids.
func Open(pins map[int]string, invert bool) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "init host gpio")
	}

	ids := make([]int, 0, len(pins))
	for id := range pins {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	lines := make([]Line, 0, len(pins))
	for _, id := range ids {
		p := gpioreg.ByName(pins[id])
		if p == nil {
			return nil, errors.Errorf("input %d: unknown pin '%s'", id, pins[id])
		}
		lines = append(lines, Line{ID: id, Pin: p, Invert: invert})
	}
	return New(lines)
}

// New configures the given pins as pulled-up inputs.
func New(lines []Line) (*GPIO, error) {
	g := &GPIO{
		lines:  make(map[int]*line, len(lines)),
		homing: make(map[int]bool),
	}
	for _, l := range lines {
		if l.ID <= 0 {
			return nil, errors.Errorf("input id must be positive, got %d", l.ID)
		}
		if _, ok := g.lines[l.ID]; ok {
			return nil, errors.Errorf("input %d: bound twice", l.ID)
		}
		err := l.Pin.In(gpio.PullUp, gpio.NoEdge)
		if err != nil {
			return nil, errors.Wrapf(err, "input %d: configure %s", l.ID, l.Pin)
		}
		ln := &line{Line: l}
		ln.active = ln.read()
		g.lines[l.ID] = ln
	}
	return g, nil
}

func (l *line) read() bool {
	return (l.Pin.Read() == gpio.Low) != l.Invert
}

func (g *GPIO) Bound(id int) bool {
	g.mx.Lock()
	defer g.mx.Unlock()
	_, ok := g.lines[id]
	return ok
}

// Active reads the pin directly.
func (g *GPIO) Active(id int) bool {
	g.mx.Lock()
	defer g.mx.Unlock()
	l, ok := g.lines[id]
	if !ok {
		return false
	}
	l.active = l.read()
	return l.active
}

func (g *GPIO) SetHomingMode(id int, enabled bool) {
	g.mx.Lock()
	defer g.mx.Unlock()
	if !enabled {
		delete(g.homing, id)
		return
	}
	g.homing[id] = true
}

// Poll samples every pin and returns true if an input in homing mode
// changed state since the last sample.
func (g *GPIO) Poll() bool {
	g.mx.Lock()
	defer g.mx.Unlock()
	hold := false
	for id, l := range g.lines {
		a := l.read()
		if a != l.active && g.homing[id] {
			hold = true
		}
		l.active = a
	}
	return hold
}

// Close halts every pin.
func (g *GPIO) Close() error {
	g.mx.Lock()
	defer g.mx.Unlock()
	var err error
	for _, l := range g.lines {
		err = multierr.Append(err, l.Pin.Halt())
	}
	return err
}
