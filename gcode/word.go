package gcode

import (
	"strconv"
	"strings"

	"github.com/mastercactapus/homecnc/coord"
)

type Word struct {
	W   byte
	Arg float64
}

func (w Word) IsAxis() bool {
	_, ok := coord.ParseAxis(w.W)
	return ok
}

// Axis returns the axis addressed by an axis word.
func (w Word) Axis() (coord.Axis, bool) {
	return coord.ParseAxis(w.W)
}

func (w Word) IsValid() bool {
	return w.W >= 'A' && w.W <= 'Z'
}

func formatFloat(f float64, prec int) string {
	s := strconv.FormatFloat(f, 'f', prec, 64)
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(s, "0")
	}
	return strings.TrimRight(s, ".")
}

func (w Word) String() string {
	return string(w.W) + formatFloat(w.Arg, 3)
}
