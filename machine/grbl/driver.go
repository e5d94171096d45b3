// Package grbl drives an external grbl controller as the machine's motion
// backend and digital inputs.
package grbl

import (
	"bufio"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/mastercactapus/homecnc/coord"
	"github.com/mastercactapus/homecnc/gcode"
	"github.com/mastercactapus/homecnc/machine"
	"github.com/mastercactapus/homecnc/planner"
)

// ProbeInput is the input id of the grbl probe pin.
const ProbeInput = 7

// Realtime commands.
const (
	cmdStatus    = '?'
	cmdFeedHold  = '!'
	cmdResume    = '~'
	cmdJogCancel = 0x85
)

const epsilon = 0.00001

// A Transport carries lines to and from a grbl controller.
type Transport interface {
	// WriteLine sends one line and returns once it was acknowledged.
	WriteLine(line string) error
	// WriteByte sends a realtime command.
	WriteByte(b byte) error
	// Lines returns everything the controller sends.
	Lines() <-chan string
	Close() error
}

// Options configure a Driver.
type Options struct {
	// PollInterval is how often a status report is requested.
	PollInterval time.Duration
	// RapidFeed is the jog feed used for rapid moves, in mm/min.
	RapidFeed float64
	// QueueSize is the number of moves held before ErrBufferFull.
	QueueSize int
	// Init is sent once on start.
	Init []gcode.Block
}

// DefaultOptions poll fast enough for the host to stop on switch edges.
var DefaultOptions = Options{
	PollInterval: 50 * time.Millisecond,
	RapidFeed:    3000,
	QueueSize:    16,
	Init:         gcode.MustParse("G21G90G94\n"),
}

// Driver runs moves on grbl as jog commands, so a flush is a jog cancel,
// and reads the reference switches from status reports. It implements
// machine.Planner and homing.Inputs.
type Driver struct {
	t    Transport
	opts Options

	queue chan string
	done  chan struct{}
	wg    sync.WaitGroup

	mx sync.Mutex

	state  string
	mpos   coord.Vector
	wco    coord.Vector
	offset coord.Vector
	pins   map[int]bool
	homing map[int]bool

	pending   int
	hold      bool
	reports   uint64
	ackReport uint64
	err       error
}

var _ machine.Planner = &Driver{}

// NewDriver starts a Driver on t.
func NewDriver(t Transport, opts Options) *Driver {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions.PollInterval
	}
	if opts.RapidFeed <= 0 {
		opts.RapidFeed = DefaultOptions.RapidFeed
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions.QueueSize
	}
	d := &Driver{
		t:      t,
		opts:   opts,
		queue:  make(chan string, opts.QueueSize),
		done:   make(chan struct{}),
		pins:   make(map[int]bool),
		homing: make(map[int]bool),
	}

	d.wg.Add(3)
	go d.writeLoop()
	go d.readLoop()
	go d.pollLoop()

	if len(opts.Init) > 0 {
		err := d.sendBlocks(opts.Init)
		if err != nil {
			log.Printf("ERROR: grbl init: %+v", err)
		}
	}
	return d
}

// Close stops the driver and closes the transport.
func (d *Driver) Close() error {
	close(d.done)
	err := d.t.Close()
	d.wg.Wait()
	d.mx.Lock()
	defer d.mx.Unlock()
	return multierr.Append(err, d.err)
}

// Err returns the last transport error, if any.
func (d *Driver) Err() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.err
}

// sendBlocks queues plain G-code lines.
func (d *Driver) sendBlocks(blocks []gcode.Block) error {
	scan := bufio.NewScanner(gcode.NewBuffer(&gcode.BlocksReader{Blocks: blocks}))
	for scan.Scan() {
		err := d.push(scan.Text())
		if err != nil {
			return err
		}
	}
	return errors.Wrap(scan.Err(), "read blocks")
}

func (d *Driver) push(line string) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.pending >= d.opts.QueueSize {
		return planner.ErrBufferFull
	}
	d.pending++
	d.queue <- line
	return nil
}

func (d *Driver) writeLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case line := <-d.queue:
			err := d.t.WriteLine(line)
			d.mx.Lock()
			if d.pending > 0 {
				d.pending--
			}
			d.ackReport = d.reports
			if err != nil {
				d.err = errors.Wrapf(err, "send '%s'", line)
				log.Printf("ERROR: grbl: %+v", d.err)
			}
			d.mx.Unlock()
		}
	}
}

func (d *Driver) readLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case line, ok := <-d.t.Lines():
			if !ok {
				return
			}
			d.handleLine(line)
		}
	}
}

func (d *Driver) pollLoop() {
	defer d.wg.Done()
	t := time.NewTicker(d.opts.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-d.done:
			return
		case <-t.C:
			err := d.t.WriteByte(cmdStatus)
			if err != nil {
				log.Printf("ERROR: grbl status request: %+v", err)
			}
		}
	}
}

func (d *Driver) handleLine(line string) {
	switch {
	case line == "":
	case line[0] == '<':
		rep, err := parseStatus(line)
		if err != nil {
			log.Println("ERROR: parse status:", err)
			return
		}
		d.update(rep)
	case strings.HasPrefix(line, "ALARM:"):
		log.Println("ERROR: grbl", line)
		d.mx.Lock()
		d.err = errors.New(line)
		d.mx.Unlock()
	case strings.HasPrefix(line, "Grbl"):
		log.Println("grbl reset:", line)
		d.mx.Lock()
		d.err = ErrGrblReset
		d.hold = false
		d.mx.Unlock()
	}
}

func (d *Driver) update(rep *Report) {
	d.mx.Lock()
	defer d.mx.Unlock()

	d.state = rep.State
	if rep.HasWCO {
		d.wco = rep.WCO
	}
	switch {
	case rep.HasMPos:
		d.mpos = rep.MPos
	case rep.HasWPos:
		d.mpos = rep.WPos.Add(d.wco)
	}

	var edge bool
	pins := make(map[int]bool, len(rep.Pins))
	for i := 0; i < len(rep.Pins); i++ {
		if id, ok := pinInput(rep.Pins[i]); ok {
			pins[id] = true
		}
	}
	for id := range d.homing {
		if pins[id] != d.pins[id] {
			edge = true
		}
	}
	d.pins = pins
	d.reports++

	if edge && !d.hold {
		d.hold = true
		err := d.t.WriteByte(cmdFeedHold)
		if err != nil {
			log.Printf("ERROR: grbl feed hold: %+v", err)
		}
	}
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%.4f", f)
}

// jogLine formats an incremental move as a grbl jog command.
func (d *Driver) jogLine(m planner.Move) string {
	var sb strings.Builder
	sb.WriteString("$J=G91G21")
	for a, v := range m.Delta {
		if v == 0 {
			continue
		}
		sb.WriteByte(coord.Axis(a).Char())
		sb.WriteString(formatFloat(v))
	}
	feed := m.Feed
	if m.Rapid {
		feed = d.opts.RapidFeed
	}
	sb.WriteByte('F')
	sb.WriteString(formatFloat(feed))
	return sb.String()
}

// Enqueue sends a move as a jog command.
func (d *Driver) Enqueue(m planner.Move) error {
	if m.Delta.Length() < epsilon {
		return planner.ErrMinimumLengthMove
	}
	if !m.Rapid && m.Feed <= 0 {
		return planner.ErrZeroFeed
	}
	return d.push(d.jogLine(m))
}

// Flush drops unsent moves and cancels the running jog.
func (d *Driver) Flush() {
	d.mx.Lock()
	defer d.mx.Unlock()
drain:
	for {
		select {
		case <-d.queue:
			d.pending--
		default:
			break drain
		}
	}
	err := d.t.WriteByte(cmdJogCancel)
	if err != nil {
		log.Printf("ERROR: grbl jog cancel: %+v", err)
	}
	// wait for a report showing the cancel
	d.ackReport = d.reports
}

// Busy is true while a line is unacknowledged, no status report arrived
// since the last acknowledgement, or grbl reports motion.
func (d *Driver) Busy() bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.pending > 0 || d.reports <= d.ackReport {
		return true
	}
	switch d.state {
	case "Run", "Jog", "Hold:1":
		return true
	}
	return false
}

// Held reports a feed hold requested by the host or shown by grbl.
func (d *Driver) Held() bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.hold || strings.HasPrefix(d.state, "Hold")
}

func (d *Driver) FeedHold() {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.hold = true
	err := d.t.WriteByte(cmdFeedHold)
	if err != nil {
		log.Printf("ERROR: grbl feed hold: %+v", err)
	}
}

func (d *Driver) EndFeedHold() {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.hold && !strings.HasPrefix(d.state, "Hold") {
		return
	}
	d.hold = false
	err := d.t.WriteByte(cmdResume)
	if err != nil {
		log.Printf("ERROR: grbl resume: %+v", err)
	}
}

// Position is grbl's machine position shifted by the host offset.
func (d *Driver) Position() coord.Vector {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.mpos.Add(d.offset)
}

// SetPosition redefines the host position; grbl's own is left alone.
func (d *Driver) SetPosition(pos coord.Vector) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.offset = pos.Sub(d.mpos)
}

// State returns the last reported grbl state.
func (d *Driver) State() string {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.state
}

func (d *Driver) Bound(id int) bool {
	return id >= 1 && id <= ProbeInput
}

func (d *Driver) Active(id int) bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.pins[id]
}

func (d *Driver) SetHomingMode(id int, enabled bool) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !enabled {
		delete(d.homing, id)
		return
	}
	d.homing[id] = true
}
