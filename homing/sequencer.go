package homing

import "github.com/mastercactapus/homecnc/coord"

// Priority orders for homing. Z always goes first so the tool is clear
// of the work before the other axes move.
var (
	DefaultOrder  = []coord.Axis{coord.Z, coord.X, coord.Y, coord.A}
	ExtendedOrder = []coord.Axis{coord.Z, coord.X, coord.Y, coord.A, coord.B, coord.C}
)

// Sequence describes what Sequencer.Next found.
type Sequence int

const (
	// SequenceAxis means an axis was returned.
	SequenceAxis Sequence = iota
	// SequenceComplete means no requested axis remains after current.
	SequenceComplete
	// NoAxisRequested means nothing in the order was requested.
	NoAxisRequested
)

// Sequencer picks the next axis to home from a fixed priority order.
type Sequencer struct {
	Order []coord.Axis
}

// Next returns the next requested axis after current in priority order.
// Pass coord.AxisNone to get the first one.
func (s Sequencer) Next(current coord.Axis, requested coord.Flags) (coord.Axis, Sequence) {
	start := 0
	if current != coord.AxisNone {
		start = len(s.Order)
		for i, a := range s.Order {
			if a == current {
				start = i + 1
				break
			}
		}
	}

	for _, a := range s.Order[start:] {
		if a.Valid() && requested[a] {
			return a, SequenceAxis
		}
	}

	if current == coord.AxisNone {
		return coord.AxisNone, NoAxisRequested
	}
	return coord.AxisNone, SequenceComplete
}

// Skipped returns the requested axes that are not in the order and so
// are never homed.
func (s Sequencer) Skipped(requested coord.Flags) coord.Flags {
	for _, a := range s.Order {
		if a.Valid() {
			requested[a] = false
		}
	}
	return requested
}
