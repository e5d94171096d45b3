package homing

import (
	"testing"

	"github.com/mastercactapus/homecnc/coord"
	"github.com/stretchr/testify/assert"
)

func TestSequencer_Next(t *testing.T) {
	seq := Sequencer{Order: DefaultOrder}

	check := func(req coord.Flags, expected ...coord.Axis) {
		t.Helper()
		var got []coord.Axis
		cur := coord.AxisNone
		for i := 0; i < 10; i++ {
			a, s := seq.Next(cur, req)
			if s != SequenceAxis {
				assert.Equal(t, SequenceComplete, s)
				break
			}
			got = append(got, a)
			cur = a
		}
		assert.Equal(t, expected, got, "requested %s", req)
	}

	check(coord.FlagsOf(coord.X, coord.Y, coord.Z, coord.A), coord.Z, coord.X, coord.Y, coord.A)
	check(coord.FlagsOf(coord.X, coord.Z), coord.Z, coord.X)
	check(coord.FlagsOf(coord.A, coord.Y), coord.Y, coord.A)
	check(coord.FlagsOf(coord.X), coord.X)

	// B and C are not in the default order
	check(coord.FlagsOf(coord.B, coord.X), coord.X)
}

func TestSequencer_AllSubsets(t *testing.T) {
	for _, order := range [][]coord.Axis{DefaultOrder, ExtendedOrder} {
		seq := Sequencer{Order: order}
		for bits := 0; bits < 1<<coord.AxisCount; bits++ {
			var req coord.Flags
			for a := range req {
				req[a] = bits&(1<<a) != 0
			}
			var expected []coord.Axis
			for _, a := range order {
				if req[a] {
					expected = append(expected, a)
				}
			}

			var got []coord.Axis
			cur := coord.AxisNone
			a, s := seq.Next(cur, req)
			for s == SequenceAxis && len(got) <= len(order) {
				got = append(got, a)
				cur = a
				a, s = seq.Next(cur, req)
			}

			assert.Equal(t, expected, got, "order %v requested %s", order, req)
			if len(expected) == 0 {
				assert.Equal(t, NoAxisRequested, s, "requested %s", req)
			} else {
				assert.Equal(t, SequenceComplete, s, "requested %s", req)
			}
		}
	}
}

func TestSequencer_Skipped(t *testing.T) {
	seq := Sequencer{Order: DefaultOrder}
	assert.Equal(t, coord.FlagsOf(coord.B), seq.Skipped(coord.FlagsOf(coord.X, coord.B)))
	assert.Equal(t, coord.Flags{}, seq.Skipped(coord.FlagsOf(coord.Z, coord.A)))

	seq = Sequencer{Order: ExtendedOrder}
	assert.Equal(t, coord.Flags{}, seq.Skipped(coord.FlagsOf(coord.B, coord.C)))
}

func TestSequencer_NoAxis(t *testing.T) {
	seq := Sequencer{Order: DefaultOrder}

	a, s := seq.Next(coord.AxisNone, coord.Flags{})
	assert.Equal(t, NoAxisRequested, s)
	assert.Equal(t, coord.AxisNone, a)

	a, s = seq.Next(coord.AxisNone, coord.FlagsOf(coord.C))
	assert.Equal(t, NoAxisRequested, s)
	assert.Equal(t, coord.AxisNone, a)
}

func TestSequencer_Extended(t *testing.T) {
	seq := Sequencer{Order: ExtendedOrder}
	req := coord.FlagsOf(coord.C, coord.B, coord.Z)

	a, s := seq.Next(coord.AxisNone, req)
	assert.Equal(t, SequenceAxis, s)
	assert.Equal(t, coord.Z, a)

	a, _ = seq.Next(a, req)
	assert.Equal(t, coord.B, a)

	a, _ = seq.Next(a, req)
	assert.Equal(t, coord.C, a)

	_, s = seq.Next(a, req)
	assert.Equal(t, SequenceComplete, s)
}

func TestSequencer_UnknownCurrent(t *testing.T) {
	seq := Sequencer{Order: DefaultOrder}
	_, s := seq.Next(coord.C, coord.FlagsOf(coord.X))
	assert.Equal(t, SequenceComplete, s)
}
