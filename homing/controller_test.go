package homing

import (
	"errors"
	"testing"

	"github.com/mastercactapus/homecnc/coord"
	"github.com/mastercactapus/homecnc/gcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	modal     map[gcode.ModalGroup]float64
	feed      float64
	jerk      [coord.AxisCount]float64
	pos       coord.Vector
	offset    coord.Vector
	cfg       [coord.AxisCount]AxisConfig
	requested coord.Flags
	homed     coord.Flags

	machineHomed bool
	cycle        bool
	ended        int
}

func newFakeModel() *fakeModel {
	m := &fakeModel{
		modal: map[gcode.ModalGroup]float64{
			gcode.ModalGroupMotion:           gcode.MotionFeed,
			gcode.ModalGroupUnits:            gcode.UnitsInches,
			gcode.ModalGroupCoordinateSystem: 55,
			gcode.ModalGroupDistanceMode:     gcode.DistanceAbsolute,
			gcode.ModalGroupFeedRateMode:     gcode.FeedRateInverseTime,
		},
		feed: 1234,
	}
	for a := range m.jerk {
		m.jerk[a] = 50
	}
	return m
}

func (m *fakeModel) Modal(g gcode.ModalGroup) float64         { return m.modal[g] }
func (m *fakeModel) SetModal(g gcode.ModalGroup, val float64) { m.modal[g] = val }
func (m *fakeModel) FeedRate() float64                        { return m.feed }
func (m *fakeModel) SetFeedRate(feed float64)                 { m.feed = feed }
func (m *fakeModel) Jerk(a coord.Axis) float64                { return m.jerk[a] }
func (m *fakeModel) SetJerk(a coord.Axis, jerk float64)       { m.jerk[a] = jerk }
func (m *fakeModel) SetAxisPosition(a coord.Axis, pos float64) {
	m.pos[a] = pos
}
func (m *fakeModel) WorkPosition(a coord.Axis) float64   { return m.pos[a] - m.offset[a] }
func (m *fakeModel) AxisConfig(a coord.Axis) AxisConfig  { return m.cfg[a] }
func (m *fakeModel) Requested() coord.Flags              { return m.requested }
func (m *fakeModel) SetHomed(a coord.Axis, homed bool)   { m.homed[a] = homed }
func (m *fakeModel) SetMachineHomed(homed bool)          { m.machineHomed = homed }
func (m *fakeModel) BeginHomingCycle()                   { m.cycle = true }
func (m *fakeModel) InHomingCycle() bool                 { return m.cycle }
func (m *fakeModel) EndCycle()                           { m.cycle = false; m.ended++ }

type move struct {
	v     coord.Vector
	flags coord.Flags
	feed  float64
}

type fakeQueue struct {
	m       *fakeModel
	moves   []move
	busy    bool
	err     error
	flushes int
}

func (q *fakeQueue) StraightFeed(v coord.Vector, flags coord.Flags) error {
	if q.err != nil {
		return q.err
	}
	q.moves = append(q.moves, move{v: v, flags: flags, feed: q.m.feed})
	return nil
}
func (q *fakeQueue) Flush()       { q.flushes++ }
func (q *fakeQueue) Busy() bool   { return q.busy }
func (q *fakeQueue) EndFeedHold() {}

type fakeInputs struct {
	bound  map[int]bool
	active map[int]bool
	homing map[int]bool
}

func (in *fakeInputs) Bound(id int) bool                  { return in.bound[id] }
func (in *fakeInputs) Active(id int) bool                 { return in.active[id] }
func (in *fakeInputs) SetHomingMode(id int, enabled bool) { in.homing[id] = enabled }

type harness struct {
	m     *fakeModel
	q     *fakeQueue
	in    *fakeInputs
	diags []Diagnostic
	c     *Controller
}

func axisCfg(input int, dir Direction) AxisConfig {
	return AxisConfig{
		HomingInput:    input,
		SearchVelocity: 500,
		LatchVelocity:  50,
		LatchBackoff:   5,
		ZeroBackoff:    2,
		TravelMin:      0,
		TravelMax:      100,
		HomingDir:      dir,
		JerkHigh:       200,
	}
}

func newHarness() *harness {
	h := &harness{
		m: newFakeModel(),
		in: &fakeInputs{
			bound:  map[int]bool{1: true, 2: true, 3: true, 4: true},
			active: map[int]bool{},
			homing: map[int]bool{},
		},
	}
	h.q = &fakeQueue{m: h.m}
	h.m.cfg[coord.X] = axisCfg(1, ToMin)
	h.m.cfg[coord.Y] = axisCfg(2, ToMin)
	h.m.cfg[coord.Z] = axisCfg(3, ToMax)
	h.m.cfg[coord.A] = axisCfg(4, ToMin)
	h.c = NewController(Config{
		Model:    h.m,
		Queue:    h.q,
		Inputs:   h.in,
		Reporter: ReporterFunc(func(d Diagnostic) { h.diags = append(h.diags, d) }),
	})
	return h
}

// run polls until the cycle leaves the Again state.
func (h *harness) run(t *testing.T) (Result, error) {
	t.Helper()
	for i := 0; i < 200; i++ {
		res, err := h.c.Poll()
		if res != Again {
			return res, err
		}
	}
	t.Fatal("homing cycle did not finish")
	return Again, nil
}

func (h *harness) assertRestored(t *testing.T) {
	t.Helper()
	assert.False(t, h.m.cycle, "cycle indicator")
	assert.False(t, h.c.Active())
	assert.EqualValues(t, gcode.UnitsInches, h.m.modal[gcode.ModalGroupUnits])
	assert.EqualValues(t, 55, h.m.modal[gcode.ModalGroupCoordinateSystem])
	assert.EqualValues(t, gcode.DistanceAbsolute, h.m.modal[gcode.ModalGroupDistanceMode])
	assert.EqualValues(t, gcode.FeedRateInverseTime, h.m.modal[gcode.ModalGroupFeedRateMode])
	assert.EqualValues(t, gcode.MotionCancel, h.m.modal[gcode.ModalGroupMotion])
	assert.EqualValues(t, 1234, h.m.feed)
	for a := range h.m.jerk {
		assert.EqualValues(t, 50, h.m.jerk[a], "jerk %s", coord.Axis(a))
	}
	for id, on := range h.in.homing {
		assert.False(t, on, "homing mode on input %d", id)
	}
}

func TestController_SingleAxis(t *testing.T) {
	h := newHarness()
	h.m.requested = coord.FlagsOf(coord.Z)
	h.m.pos[coord.Z] = 42

	require.NoError(t, h.c.Home())
	assert.True(t, h.c.Active())
	assert.EqualValues(t, gcode.UnitsMillimeters, h.m.modal[gcode.ModalGroupUnits])
	assert.EqualValues(t, gcode.DistanceIncremental, h.m.modal[gcode.ModalGroupDistanceMode])
	assert.EqualValues(t, gcode.CoordSystemMachine, h.m.modal[gcode.ModalGroupCoordinateSystem])
	assert.EqualValues(t, gcode.FeedRateUnitsPerMinute, h.m.modal[gcode.ModalGroupFeedRateMode])

	res, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, Complete, res)
	assert.Equal(t, PhaseFinalize, h.c.Phase())

	require.Len(t, h.q.moves, 3)
	assert.Equal(t, coord.Single(coord.Z, 105), h.q.moves[0].v)
	assert.EqualValues(t, 500, h.q.moves[0].feed)
	assert.Equal(t, coord.Single(coord.Z, -5), h.q.moves[1].v)
	assert.EqualValues(t, 50, h.q.moves[1].feed)
	assert.Equal(t, coord.Single(coord.Z, -2), h.q.moves[2].v)
	assert.EqualValues(t, 500, h.q.moves[2].feed)

	assert.EqualValues(t, 0, h.m.pos[coord.Z])
	assert.True(t, h.m.homed[coord.Z])
	assert.True(t, h.m.machineHomed)
	assert.Equal(t, 1, h.m.ended)
	assert.Empty(t, h.diags)
	h.assertRestored(t)

	res, err = h.c.Poll()
	assert.NoError(t, err)
	assert.Equal(t, NoOp, res)
}

func TestController_ClearSwitch(t *testing.T) {
	h := newHarness()
	h.m.requested = coord.FlagsOf(coord.X)
	h.in.active[1] = true

	require.NoError(t, h.c.Home())
	res, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, Complete, res)

	require.Len(t, h.q.moves, 4)
	// X homes to min, so backing off is positive
	assert.Equal(t, coord.Single(coord.X, 5), h.q.moves[0].v)
	assert.EqualValues(t, 500, h.q.moves[0].feed)
	assert.Equal(t, coord.Single(coord.X, -105), h.q.moves[1].v)
	assert.Equal(t, coord.Single(coord.X, 5), h.q.moves[2].v)
	assert.EqualValues(t, 50, h.q.moves[2].feed)
	assert.Equal(t, coord.Single(coord.X, 2), h.q.moves[3].v)
	h.assertRestored(t)
}

func TestController_SharedSwitch(t *testing.T) {
	h := newHarness()
	h.m.cfg[coord.Y].HomingInput = 1
	h.m.requested = coord.FlagsOf(coord.X, coord.Y)
	h.in.active[1] = true

	require.NoError(t, h.c.Home())
	res, err := h.run(t)
	assert.Equal(t, Failed, res)
	assert.True(t, errors.Is(err, ErrSharedSwitch))
	assert.Equal(t, PhaseErrorExit, h.c.Phase())

	assert.Empty(t, h.q.moves)
	assert.False(t, h.m.machineHomed)
	h.assertRestored(t)

	require.Len(t, h.diags, 1)
	assert.Equal(t, coord.X, h.diags[0].Axis)
	assert.Equal(t, CodeMustClearSwitchesBeforeHoming, h.diags[0].Code)
	assert.Equal(t, "X axis Homing Error - Must clear switches before homing", h.diags[0].Message)
}

func TestController_SharedSwitchNotRequested(t *testing.T) {
	h := newHarness()
	h.m.cfg[coord.Y].HomingInput = 1
	h.m.requested = coord.FlagsOf(coord.X)
	h.in.active[1] = true

	require.NoError(t, h.c.Home())
	res, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, Complete, res)
	assert.Len(t, h.q.moves, 4)
}

func TestController_Order(t *testing.T) {
	h := newHarness()
	h.m.requested = coord.FlagsOf(coord.X, coord.Z)

	require.NoError(t, h.c.Home())
	res, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, Complete, res)

	require.Len(t, h.q.moves, 6)
	for i, mv := range h.q.moves {
		expected := coord.Z
		if i >= 3 {
			expected = coord.X
		}
		assert.Equal(t, coord.FlagsOf(expected), mv.flags, "move %d", i)
		assert.Equal(t, coord.FlagsOf(expected), mv.v.NonZero(), "move %d", i)
	}
	assert.True(t, h.m.homed[coord.Z])
	assert.True(t, h.m.homed[coord.X])
	assert.False(t, h.m.homed[coord.Y])
}

func TestController_AllAxesSingleAxisMoves(t *testing.T) {
	h := newHarness()
	h.m.requested = coord.FlagsOf(coord.X, coord.Y, coord.Z, coord.A)
	h.in.active[2] = true

	require.NoError(t, h.c.Home())
	res, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, Complete, res)

	assert.Len(t, h.q.moves, 13)
	for i, mv := range h.q.moves {
		nz := mv.v.NonZero()
		n := 0
		for _, set := range nz {
			if set {
				n++
			}
		}
		assert.Equal(t, 1, n, "move %d", i)
		assert.Equal(t, mv.flags, nz, "move %d", i)
	}
	h.assertRestored(t)
}

func TestController_ZeroDistanceSkipped(t *testing.T) {
	tests := []struct {
		name   string
		mod    func(*AxisConfig)
		expect []coord.Vector
	}{
		{"zero backoff", func(c *AxisConfig) { c.ZeroBackoff = 0 },
			[]coord.Vector{coord.Single(coord.Z, 105), coord.Single(coord.Z, -5)}},
		{"latch backoff", func(c *AxisConfig) { c.LatchBackoff = 0 },
			[]coord.Vector{coord.Single(coord.Z, 100), coord.Single(coord.Z, -2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.m.requested = coord.FlagsOf(coord.Z)
			tt.mod(&h.m.cfg[coord.Z])

			require.NoError(t, h.c.Home())
			res, err := h.run(t)
			require.NoError(t, err)
			assert.Equal(t, Complete, res)
			assert.True(t, h.m.homed[coord.Z])

			require.Len(t, h.q.moves, 2)
			for i, mv := range h.q.moves {
				assert.Equal(t, tt.expect[i], mv.v, "move %d", i)
				assert.Equal(t, coord.FlagsOf(coord.Z), mv.v.NonZero(), "move %d", i)
			}
			h.assertRestored(t)
		})
	}
}

func TestController_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mod    func(*AxisConfig)
		expect error
	}{
		{"no input", func(c *AxisConfig) { c.HomingInput = 0 }, ErrInputMisconfigured},
		{"unbound input", func(c *AxisConfig) { c.HomingInput = 9 }, ErrInputMisconfigured},
		{"search velocity", func(c *AxisConfig) { c.SearchVelocity = 0 }, ErrZeroSearchVelocity},
		{"latch velocity", func(c *AxisConfig) { c.LatchVelocity = 0.000001 }, ErrZeroLatchVelocity},
		{"latch backoff", func(c *AxisConfig) { c.LatchBackoff = -1 }, ErrNegativeLatchBackoff},
		{"travel", func(c *AxisConfig) { c.TravelMin, c.TravelMax, c.LatchBackoff = 10, 10, 0 }, ErrTravelMinMaxIdentical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.m.requested = coord.FlagsOf(coord.Y)
			tt.mod(&h.m.cfg[coord.Y])

			require.NoError(t, h.c.Home())
			res, err := h.run(t)
			assert.Equal(t, Failed, res)
			assert.True(t, errors.Is(err, tt.expect), "got %v", err)

			var herr *Error
			require.True(t, errors.As(err, &herr))
			assert.Equal(t, coord.Y, herr.Axis)

			assert.Empty(t, h.q.moves)
			assert.False(t, h.m.homed[coord.Y])
			h.assertRestored(t)
		})
	}
}

func TestController_NegativeVelocity(t *testing.T) {
	h := newHarness()
	h.m.requested = coord.FlagsOf(coord.X)
	h.m.cfg[coord.X].SearchVelocity = -500

	require.NoError(t, h.c.Home())
	_, err := h.run(t)
	require.NoError(t, err)
	require.NotEmpty(t, h.q.moves)
	assert.EqualValues(t, 500, h.q.moves[0].feed)
}

func TestController_NoAxis(t *testing.T) {
	h := newHarness()

	require.NoError(t, h.c.Home())
	res, err := h.run(t)
	assert.Equal(t, Failed, res)
	assert.True(t, errors.Is(err, ErrBadOrNoAxis))
	assert.Empty(t, h.q.moves)

	require.Len(t, h.diags, 1)
	assert.Equal(t, coord.AxisNone, h.diags[0].Axis)
	assert.Equal(t, "Homing error - Bad or no axis(es) specified", h.diags[0].Message)
	h.assertRestored(t)
}

func TestController_Busy(t *testing.T) {
	h := newHarness()
	h.m.requested = coord.FlagsOf(coord.Z)
	require.NoError(t, h.c.Home())

	res, err := h.c.Poll()
	require.NoError(t, err)
	assert.Equal(t, Again, res)
	assert.Equal(t, PhaseClearSwitch, h.c.Phase())

	h.q.busy = true
	for i := 0; i < 5; i++ {
		res, err = h.c.Poll()
		assert.NoError(t, err)
		assert.Equal(t, Again, res)
		assert.Equal(t, PhaseClearSwitch, h.c.Phase())
	}
	assert.Empty(t, h.q.moves)

	h.q.busy = false
	_, err = h.c.Poll()
	require.NoError(t, err)
	assert.Equal(t, PhaseSearch, h.c.Phase())
}

func TestController_OneMovePerPoll(t *testing.T) {
	h := newHarness()
	h.m.requested = coord.FlagsOf(coord.X, coord.Y)
	h.in.active[1] = true
	require.NoError(t, h.c.Home())

	for {
		before := len(h.q.moves)
		res, err := h.c.Poll()
		require.NoError(t, err)
		assert.LessOrEqual(t, len(h.q.moves)-before, 1)
		if res != Again {
			break
		}
	}
}

func TestController_QueueError(t *testing.T) {
	h := newHarness()
	h.m.requested = coord.FlagsOf(coord.Z)
	qerr := errors.New("planner buffer full")
	h.q.err = qerr

	require.NoError(t, h.c.Home())
	res, err := h.run(t)
	assert.Equal(t, Failed, res)
	assert.Equal(t, qerr, err)

	require.Len(t, h.diags, 1)
	assert.Equal(t, CodeCycleFailed, h.diags[0].Code)
	assert.Equal(t, "Z axis planner buffer full", h.diags[0].Message)
	h.assertRestored(t)
}

func TestController_HomeNoSet(t *testing.T) {
	h := newHarness()
	h.m.requested = coord.FlagsOf(coord.Z)
	h.m.pos[coord.Z] = 7
	h.m.offset[coord.Z] = 3

	require.NoError(t, h.c.HomeNoSet())
	assert.False(t, h.c.CommitZero())
	res, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, Complete, res)

	assert.EqualValues(t, 4, h.m.pos[coord.Z])
	assert.False(t, h.m.homed[coord.Z])
	h.assertRestored(t)
}

func TestController_Abort(t *testing.T) {
	h := newHarness()
	h.m.requested = coord.FlagsOf(coord.Z)

	res, err := h.c.Abort(nil)
	assert.NoError(t, err)
	assert.Equal(t, NoOp, res)

	require.NoError(t, h.c.Home())
	assert.Equal(t, ErrCycleActive, h.c.Home())

	// into the search, jerk raised and switch armed
	for i := 0; i < 3; i++ {
		_, err = h.c.Poll()
		require.NoError(t, err)
	}
	assert.Equal(t, PhaseLatch, h.c.Phase())
	assert.EqualValues(t, 200, h.m.jerk[coord.Z])
	assert.True(t, h.in.homing[3])

	res, err = h.c.Abort(nil)
	assert.Equal(t, Failed, res)
	assert.True(t, errors.Is(err, ErrCycleFailed))
	h.assertRestored(t)

	res, err = h.c.Abort(nil)
	assert.NoError(t, err)
	assert.Equal(t, NoOp, res)
	assert.Equal(t, 1, h.m.ended)
}

func TestController_NotRunning(t *testing.T) {
	h := newHarness()
	res, err := h.c.Poll()
	assert.NoError(t, err)
	assert.Equal(t, NoOp, res)
	assert.Empty(t, h.q.moves)
}
