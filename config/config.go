// Package config loads machine and axis parameters from a configuration
// file. Sample:
//
//	[machine]
//	order=zxya
//	inputs=sim
//
//	[z]
//	input=3
//	search_velocity=400
//	latch_velocity=25
//	latch_backoff=4
//	zero_backoff=2
//	travel_min=-95
//	travel_max=0
//	direction=max
//	jerk=50
//	jerk_high=500
//
// Axis sections are named by the lower case axis letter. Missing keys keep
// their defaults.
package config

import (
	"strings"

	"github.com/aamcrae/config"
	"github.com/pkg/errors"

	"github.com/mastercactapus/homecnc/coord"
	"github.com/mastercactapus/homecnc/homing"
)

// Input backends.
const (
	InputsSim  = "sim"
	InputsGPIO = "gpio"
	InputsGrbl = "grbl"
)

// Axis is the configuration of one axis.
type Axis struct {
	homing.AxisConfig

	// Jerk is the nominal jerk, restored after homing.
	Jerk float64

	// VelocityMax and FeedRateMax limit rapids and feeds in mm/min.
	VelocityMax float64
	FeedRateMax float64

	// Pin is the GPIO pin name of the homing input.
	Pin string

	// Switch is where a simulated switch closes, in carriage travel
	// from power-up.
	Switch float64
}

// Machine is the whole machine configuration.
type Machine struct {
	Order  []coord.Axis
	Inputs string
	// InvertInputs treats a high pin level as active.
	InvertInputs bool

	Axes [coord.AxisCount]Axis
	// Configured marks axes that had a section in the file.
	Configured coord.Flags
}

// Default is a three axis machine homing Z up and X and Y to their
// minimum, running on simulated switches.
func Default() *Machine {
	m := &Machine{
		Order:  homing.DefaultOrder,
		Inputs: InputsSim,
	}
	set := func(a coord.Axis, input int, min, max float64, dir homing.Direction, sw float64) {
		m.Configured[a] = true
		m.Axes[a] = Axis{
			AxisConfig: homing.AxisConfig{
				HomingInput:    input,
				SearchVelocity: 800,
				LatchVelocity:  50,
				LatchBackoff:   5,
				ZeroBackoff:    2,
				TravelMin:      min,
				TravelMax:      max,
				HomingDir:      dir,
				JerkHigh:       1000,
			},
			Jerk:        100,
			VelocityMax: 3000,
			FeedRateMax: 2000,
			Switch:      sw,
		}
	}
	set(coord.X, 1, 0, 300, homing.ToMin, -150)
	set(coord.Y, 2, 0, 200, homing.ToMin, -100)
	set(coord.Z, 3, -100, 0, homing.ToMax, 40)
	return m
}

// Load reads a configuration file on top of Default.
func Load(path string) (*Machine, error) {
	conf, err := config.ParseFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "parse config '%s'", path)
	}
	return FromConfig(conf)
}

// FromConfig reads a parsed configuration on top of Default. Only axes
// with a section are configured; the defaults for the others are dropped.
func FromConfig(conf *config.Config) (*Machine, error) {
	m := Default()

	if s := conf.GetSection("machine"); s != nil {
		sec := section{s: s, name: "machine"}
		if v, ok := sec.arg("order"); ok {
			order, err := coord.ParseAxes(v)
			if err != nil {
				return nil, errors.Wrap(err, "[machine] order")
			}
			if len(order) == 0 {
				return nil, errors.New("[machine] order: no axes")
			}
			m.Order = order
		}
		if v, ok := sec.arg("inputs"); ok {
			switch v {
			case InputsSim, InputsGPIO, InputsGrbl:
				m.Inputs = v
			default:
				return nil, errors.Errorf("[machine] inputs: unknown backend '%s'", v)
			}
		}
		if err := sec.bool("invert", &m.InvertInputs); err != nil {
			return nil, err
		}
	}

	var configured coord.Flags
	var axes [coord.AxisCount]Axis
	for a := coord.Axis(0); a < coord.AxisCount; a++ {
		name := strings.ToLower(a.String())
		s := conf.GetSection(name)
		if s == nil {
			continue
		}
		ax := m.Axes[a]
		if !m.Configured[a] {
			ax = Default().Axes[coord.X]
			ax.HomingInput = 0
			ax.Switch = 0
		}
		if err := parseAxis(section{s: s, name: name}, &ax); err != nil {
			return nil, err
		}
		axes[a] = ax
		configured[a] = true
	}
	if configured.Any() {
		m.Axes = axes
		m.Configured = configured
	}

	return m, nil
}

func parseAxis(s section, ax *Axis) error {
	if err := s.int("input", &ax.HomingInput); err != nil {
		return err
	}
	floats := []struct {
		key string
		dst *float64
	}{
		{"search_velocity", &ax.SearchVelocity},
		{"latch_velocity", &ax.LatchVelocity},
		{"latch_backoff", &ax.LatchBackoff},
		{"zero_backoff", &ax.ZeroBackoff},
		{"travel_min", &ax.TravelMin},
		{"travel_max", &ax.TravelMax},
		{"jerk", &ax.Jerk},
		{"jerk_high", &ax.JerkHigh},
		{"velocity_max", &ax.VelocityMax},
		{"feedrate_max", &ax.FeedRateMax},
		{"switch", &ax.Switch},
	}
	for _, f := range floats {
		if err := s.float(f.key, f.dst); err != nil {
			return err
		}
	}

	if v, ok := s.arg("direction"); ok {
		switch strings.ToLower(v) {
		case "min", "-":
			ax.HomingDir = homing.ToMin
		case "max", "+":
			ax.HomingDir = homing.ToMax
		default:
			return errors.Errorf("[%s] direction: expected 'min' or 'max', got '%s'", s.name, v)
		}
	}
	if v, ok := s.arg("pin"); ok {
		ax.Pin = v
	}
	return nil
}

// section reads optional single values from a config section.
type section struct {
	s    *config.Section
	name string
}

func (s section) arg(key string) (string, bool) {
	v, err := s.s.GetArg(key)
	if err != nil {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// scan reads key into dst with a single verb format, leaving dst alone
// if key is unset.
func (s section) scan(key, format string, dst interface{}) error {
	if _, ok := s.arg(key); !ok {
		return nil
	}
	n, err := s.s.Parse(key, format, dst)
	if err != nil {
		return errors.Wrapf(err, "[%s] %s", s.name, key)
	}
	if n != 1 {
		return errors.Errorf("[%s] %s: argument count", s.name, key)
	}
	return nil
}

func (s section) float(key string, dst *float64) error { return s.scan(key, "%f", dst) }
func (s section) int(key string, dst *int) error       { return s.scan(key, "%d", dst) }
func (s section) bool(key string, dst *bool) error     { return s.scan(key, "%t", dst) }
