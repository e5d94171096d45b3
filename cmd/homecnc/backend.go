package main

import (
	"io"
	"log"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/mastercactapus/homecnc/config"
	"github.com/mastercactapus/homecnc/coord"
	"github.com/mastercactapus/homecnc/homing"
	"github.com/mastercactapus/homecnc/input"
	"github.com/mastercactapus/homecnc/machine"
	"github.com/mastercactapus/homecnc/machine/grbl"
	"github.com/mastercactapus/homecnc/planner"
	"github.com/mastercactapus/homecnc/sim"
	"github.com/mastercactapus/homecnc/spjs"
)

// Motion backends.
const (
	BackendSim  = "sim"
	BackendGrbl = "grbl"
	BackendSPJS = "spjs"
)

type backendOptions struct {
	Kind    string
	Port    string
	Baud    int
	SPJSURL string
}

// backend is the motion and input side of the machine.
type backend struct {
	planner machine.Planner
	inputs  homing.Inputs

	// poll runs every tick before the machine is ticked.
	poll func(dt time.Duration)

	closers []io.Closer
}

func (b *backend) Close() error {
	var err error
	for i := len(b.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, b.closers[i].Close())
	}
	return err
}

func simSwitches(conf *config.Machine) *sim.Switches {
	sw := make(map[int]sim.Switch)
	for a, ax := range conf.Axes {
		if !conf.Configured[a] || ax.HomingInput <= 0 {
			continue
		}
		sw[ax.HomingInput] = sim.Switch{
			Axis:     coord.Axis(a),
			Position: ax.Switch,
			Max:      ax.HomingDir == homing.ToMax,
		}
	}
	s := sim.NewSwitches(sw)
	s.OnEdge(func(id int, active bool) {
		log.Printf("input %d active=%t", id, active)
	})
	log.Printf("Simulating switches on inputs %v", s.IDs())
	return s
}

func gpioInputs(conf *config.Machine) (*input.GPIO, error) {
	pins := make(map[int]string)
	for a, ax := range conf.Axes {
		if !conf.Configured[a] || ax.Pin == "" {
			continue
		}
		pins[ax.HomingInput] = ax.Pin
	}
	return input.Open(pins, conf.InvertInputs)
}

func plannerLimits(conf *config.Machine) planner.Limits {
	var l planner.Limits
	for a, ax := range conf.Axes {
		l.VelocityMax[a] = ax.VelocityMax
		l.FeedRateMax[a] = ax.FeedRateMax
	}
	return l
}

func newBackend(conf *config.Machine, opts backendOptions) (*backend, error) {
	switch opts.Kind {
	case BackendSim:
		return newSimBackend(conf)
	case BackendGrbl, BackendSPJS:
		return newGrblBackend(conf, opts)
	}
	return nil, errors.Errorf("unknown backend '%s'", opts.Kind)
}

func newSimBackend(conf *config.Machine) (*backend, error) {
	p := planner.New(planner.DefaultSize, plannerLimits(conf))
	b := &backend{
		planner: p,
		poll:    p.Step,
	}

	switch conf.Inputs {
	case config.InputsSim:
		sw := simSwitches(conf)
		p.Observe(sw.Observe)
		b.inputs = sw
	case config.InputsGPIO:
		g, err := gpioInputs(conf)
		if err != nil {
			return nil, err
		}
		p.Observe(func(coord.Vector) bool { return g.Poll() })
		b.inputs = g
		b.closers = append(b.closers, g)
	default:
		return nil, errors.Errorf("inputs '%s' need the grbl backend", conf.Inputs)
	}
	return b, nil
}

func newGrblBackend(conf *config.Machine, opts backendOptions) (*backend, error) {
	b := &backend{poll: func(time.Duration) {}}

	var t grbl.Transport
	if opts.Kind == BackendSPJS {
		sp := spjs.NewSPJS(opts.SPJSURL)
		b.closers = append(b.closers, sp)
		t = grbl.NewSPJSTransport(sp, opts.Port, opts.Baud)
	} else {
		conn, err := grbl.OpenSerial(opts.Port, opts.Baud)
		if err != nil {
			return nil, err
		}
		t = conn
	}
	d := grbl.NewDriver(t, grbl.DefaultOptions)
	b.closers = append(b.closers, d)
	b.planner = d

	switch conf.Inputs {
	case config.InputsGrbl:
		b.inputs = d
	case config.InputsGPIO:
		g, err := gpioInputs(conf)
		if err != nil {
			return nil, multierr.Append(err, b.Close())
		}
		b.closers = append(b.closers, g)
		b.inputs = g
		b.poll = func(time.Duration) {
			if g.Poll() {
				d.FeedHold()
			}
		}
	default:
		return nil, multierr.Append(
			errors.Errorf("inputs '%s' cannot be used with grbl", conf.Inputs),
			b.Close(),
		)
	}
	return b, nil
}

func machineConfig(conf *config.Machine, b *backend) machine.Config {
	cfg := machine.Config{
		Planner: b.planner,
		Inputs:  b.inputs,
		Order:   conf.Order,
	}
	for a, ax := range conf.Axes {
		if !conf.Configured[a] {
			continue
		}
		cfg.Axes[a] = machine.AxisConfig{AxisConfig: ax.AxisConfig, Jerk: ax.Jerk}
	}
	return cfg
}
