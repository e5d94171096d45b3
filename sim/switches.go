// Package sim simulates the reference switches of a machine driven by the
// host planner, so homing can run without hardware.
package sim

import (
	"sort"
	"sync"

	"github.com/mastercactapus/homecnc/coord"
)

// Switch is a limit switch at a fixed carriage travel on one axis.
type Switch struct {
	Axis coord.Axis
	// Position is where the switch closes, in travel from power-up.
	Position float64
	// Max means the switch is closed at and beyond Position, otherwise at
	// and below it.
	Max bool
}

func (sw Switch) closed(travel coord.Vector) bool {
	if sw.Max {
		return travel[sw.Axis] >= sw.Position
	}
	return travel[sw.Axis] <= sw.Position
}

// Switches is a set of simulated inputs keyed by input id. It implements
// homing.Inputs and is fed by planner.Planner.Observe.
type Switches struct {
	mx sync.Mutex

	sw     map[int]Switch
	travel coord.Vector
	closed map[int]bool
	homing map[int]bool

	onEdge func(id int, active bool)
}

// NewSwitches creates switches with the carriage at zero travel.
func NewSwitches(sw map[int]Switch) *Switches {
	s := &Switches{
		sw:     make(map[int]Switch, len(sw)),
		closed: make(map[int]bool, len(sw)),
		homing: make(map[int]bool),
	}
	for id, v := range sw {
		s.sw[id] = v
		s.closed[id] = v.closed(s.travel)
	}
	return s
}

// OnEdge sets a function called for every switch state change.
func (s *Switches) OnEdge(fn func(id int, active bool)) {
	s.mx.Lock()
	s.onEdge = fn
	s.mx.Unlock()
}

// IDs returns the configured input ids in order.
func (s *Switches) IDs() []int {
	s.mx.Lock()
	defer s.mx.Unlock()
	ids := make([]int, 0, len(s.sw))
	for id := range s.sw {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (s *Switches) Bound(id int) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	_, ok := s.sw[id]
	return ok
}

func (s *Switches) Active(id int) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.closed[id]
}

func (s *Switches) SetHomingMode(id int, enabled bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if !enabled {
		delete(s.homing, id)
		return
	}
	s.homing[id] = true
}

// HomingMode reports whether edges on id request a feed hold.
func (s *Switches) HomingMode(id int) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.homing[id]
}

// Observe updates every switch for the new carriage travel. It returns
// true if a switch in homing mode changed state.
func (s *Switches) Observe(travel coord.Vector) bool {
	type edge struct {
		id     int
		active bool
	}

	s.mx.Lock()
	s.travel = travel
	var edges []edge
	hold := false
	for id, sw := range s.sw {
		c := sw.closed(travel)
		if c == s.closed[id] {
			continue
		}
		s.closed[id] = c
		edges = append(edges, edge{id, c})
		if s.homing[id] {
			hold = true
		}
	}
	fn := s.onEdge
	s.mx.Unlock()

	if fn != nil {
		for _, e := range edges {
			fn(e.id, e.active)
		}
	}
	return hold
}
