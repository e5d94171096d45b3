package gcode

import (
	"errors"
	"fmt"

	"github.com/mastercactapus/homecnc/coord"
)

// ErrUnsupported is returned by Run for words the VM does not interpret.
var ErrUnsupported = errors.New("unsupported code")

// VM tracks modal state and position while interpreting gcode.
//
// Positions are kept in millimeters; the units mode only affects how
// block arguments are read.
type VM struct {
	pos coord.Vector
	wco coord.Vector

	modal [256]float64

	feed float64
}

// NewVM constructs a new VM with default state.
func NewVM() *VM {
	vm := &VM{}

	// using grbl defaults
	vm.modal[ModalGroupMotion] = MotionRapid
	vm.modal[ModalGroupCoordinateSystem] = CoordSystemG54
	vm.modal[ModalGroupPlaneSelection] = 17
	vm.modal[ModalGroupDistanceMode] = DistanceAbsolute
	vm.modal[ModalGroupArcDistanceMode] = 91.1
	vm.modal[ModalGroupFeedRateMode] = FeedRateUnitsPerMinute
	vm.modal[ModalGroupUnits] = UnitsMillimeters
	vm.modal[ModalGroupCutterCompensationMode] = 40
	vm.modal[ModalGroupToolLength] = 49
	vm.modal[ModalGroupStopping] = 0
	vm.modal[ModalGroupSpindle] = 5
	vm.modal[ModalGroupCoolant] = 9

	return vm
}

func (vm VM) Inches() bool         { return vm.modal[ModalGroupUnits] == UnitsInches }
func (vm VM) RelativeMotion() bool { return vm.modal[ModalGroupDistanceMode] == DistanceIncremental }
func (vm VM) MachineCoords() bool  { return vm.modal[ModalGroupCoordinateSystem] == CoordSystemMachine }

// Modal returns the current value of a modal group.
func (vm VM) Modal(g ModalGroup) float64 { return vm.modal[g] }

// SetModal sets the value of a modal group directly.
func (vm *VM) SetModal(g ModalGroup, val float64) { vm.modal[g] = val }

// FeedRate is in the units of the current units mode.
func (vm VM) FeedRate() float64         { return vm.feed }
func (vm *VM) SetFeedRate(feed float64) { vm.feed = feed }

func (vm VM) WPos() coord.Vector {
	return vm.pos.Sub(vm.wco)
}
func (vm VM) MPos() coord.Vector {
	return vm.pos
}
func (vm *VM) SetMPos(p coord.Vector) {
	vm.pos = p
}

// SetAxisPosition sets the machine position of one axis.
func (vm *VM) SetAxisPosition(a coord.Axis, val float64) {
	if a.Valid() {
		vm.pos[a] = val
	}
}
func (vm *VM) SetWCO(p coord.Vector) {
	vm.wco = p
}
func (vm VM) WCO() coord.Vector {
	return vm.wco
}

func isSupported(g Word) bool {
	if g.IsAxis() {
		return true
	}

	if g.W == 'G' {
		switch g.Arg {
		case 0, 1, 20, 21, 53, 54, 55, 56, 57, 58, 59, 80, 90, 91, 93, 94:
			return true
		}
	} else if g.W == 'F' {
		return true
	} else if g.W == 'M' {
		switch g.Arg {
		case 3, 5:
			return true
		}
	}

	return false
}

func applyBlock(p coord.Vector, b Block, mul float64) coord.Vector {
	v, f := b.Axes()
	for i := range p {
		if f[i] {
			p[i] = v[i] * mul
		}
	}

	return p
}

// Target returns the machine position a block would move to, without
// changing the VM.
func (vm VM) Target(b Block) (coord.Vector, error) {
	err := vm.Run(b)
	if err != nil {
		return coord.Vector{}, err
	}
	return vm.pos, nil
}

func (vm *VM) Run(b Block) error {
	err := b.Validate()
	if err != nil {
		return err
	}
	machineCoords := vm.MachineCoords()
	for _, g := range b {
		if !isSupported(g) {
			return fmt.Errorf("%w: %s", ErrUnsupported, g.String())
		}
	}
	for _, g := range b {
		mg := g.ModalGroup()
		if g == (Word{W: 'G', Arg: 53.0}) {
			machineCoords = true
		} else if mg != ModalGroupNone && mg != ModalGroupNonModal && mg != ModalGroupFeedRate {
			vm.modal[mg] = g.Arg
		}
		if g.W == 'F' {
			vm.feed = g.Arg
		}
	}

	args := b.Args()
	if len(args) == 0 {
		return nil
	}

	mul := 1.0
	if vm.Inches() {
		mul = 25.4
	}
	// apply motion
	if vm.RelativeMotion() {
		vm.pos = vm.pos.Add(applyBlock(coord.Vector{}, args, mul))
	} else if machineCoords {
		vm.pos = applyBlock(vm.pos, args, mul)
	} else {
		vm.pos = applyBlock(vm.WPos(), args, mul).Add(vm.wco)
	}

	return nil
}
