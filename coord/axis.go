package coord

import "fmt"

// Axis identifies one machine axis.
type Axis int

const (
	X Axis = iota
	Y
	Z
	A
	B
	C

	// AxisCount is the number of axes a Vector carries.
	AxisCount = 6
)

// AxisNone marks "no axis selected yet".
const AxisNone Axis = -1

const axisChars = "XYZABC"

// Valid returns true if a is one of the machine axes.
func (a Axis) Valid() bool { return a >= 0 && a < AxisCount }

// Char returns the G-code letter for the axis, or '?' if a is not valid.
func (a Axis) Char() byte {
	if !a.Valid() {
		return '?'
	}
	return axisChars[a]
}

func (a Axis) String() string {
	if a == AxisNone {
		return "none"
	}
	if !a.Valid() {
		return fmt.Sprintf("Axis(%d)", int(a))
	}
	return string(a.Char())
}

// ParseAxis returns the axis for a G-code letter (upper or lower case).
func ParseAxis(c byte) (Axis, bool) {
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	for i := 0; i < AxisCount; i++ {
		if axisChars[i] == c {
			return Axis(i), true
		}
	}
	return AxisNone, false
}

// ParseAxes parses a list of axis letters like "zx" into an ordered slice.
func ParseAxes(s string) ([]Axis, error) {
	res := make([]Axis, 0, len(s))
	var seen Flags
	for i := 0; i < len(s); i++ {
		if s[i] == ',' || s[i] == ' ' {
			continue
		}
		a, ok := ParseAxis(s[i])
		if !ok {
			return nil, fmt.Errorf("unknown axis '%c'", s[i])
		}
		if seen[a] {
			return nil, fmt.Errorf("axis %s repeated", a)
		}
		seen[a] = true
		res = append(res, a)
	}
	return res, nil
}

// Flags holds one boolean per axis.
type Flags [AxisCount]bool

// FlagsOf returns a Flags with the given axes set.
func FlagsOf(axes ...Axis) Flags {
	var f Flags
	for _, a := range axes {
		if a.Valid() {
			f[a] = true
		}
	}
	return f
}

// Any returns true if at least one flag is set.
func (f Flags) Any() bool {
	for _, v := range f {
		if v {
			return true
		}
	}
	return false
}

// String returns the set axes as letters, e.g. "XZ".
func (f Flags) String() string {
	b := make([]byte, 0, AxisCount)
	for i, v := range f {
		if v {
			b = append(b, axisChars[i])
		}
	}
	return string(b)
}
