package grbl

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mastercactapus/homecnc/coord"
)

// Report is a parsed grbl status report.
type Report struct {
	State string

	MPos    coord.Vector
	HasMPos bool
	WPos    coord.Vector
	HasWPos bool
	WCO     coord.Vector
	HasWCO  bool

	// Pins holds the input letters of the Pn field, e.g. "XZP".
	Pins string
}

func parseCoords(data string) (p coord.Vector, err error) {
	parts := strings.Split(data, ",")
	if len(parts) < 3 || len(parts) > coord.AxisCount {
		return p, errors.Errorf("invalid number of elements in '%s'", data)
	}
	for i, s := range parts {
		p[i], err = strconv.ParseFloat(s, 64)
		if err != nil {
			return p, errors.Wrapf(err, "axis %s", coord.Axis(i))
		}
	}
	return p, nil
}

// parseStatus parses a report like <Idle|MPos:1.000,2.000,0.000|Pn:XZ>.
func parseStatus(data string) (*Report, error) {
	data = strings.TrimSpace(data)
	if !strings.HasPrefix(data, "<") || !strings.HasSuffix(data, ">") {
		return nil, errors.Errorf("not a status report: %s", data)
	}
	data = strings.TrimPrefix(data, "<")
	data = strings.TrimSuffix(data, ">")
	parts := strings.Split(data, "|")

	var rep Report
	rep.State = parts[0]
	var err error
	for _, s := range parts[1:] {
		sParts := strings.SplitN(s, ":", 2)
		if len(sParts) != 2 {
			continue
		}
		switch sParts[0] {
		case "MPos":
			rep.MPos, err = parseCoords(sParts[1])
			rep.HasMPos = true
		case "WPos":
			rep.WPos, err = parseCoords(sParts[1])
			rep.HasWPos = true
		case "WCO":
			rep.WCO, err = parseCoords(sParts[1])
			rep.HasWCO = true
		case "Pn":
			rep.Pins = sParts[1]
		}
		if err != nil {
			return nil, errors.Wrap(err, sParts[0])
		}
	}
	return &rep, nil
}

// pinInput maps a Pn letter to an input id: axes X through C are 1-6,
// the probe is 7.
func pinInput(c byte) (int, bool) {
	if c == 'P' {
		return ProbeInput, true
	}
	a, ok := coord.ParseAxis(c)
	if !ok {
		return 0, false
	}
	return int(a) + 1, true
}
