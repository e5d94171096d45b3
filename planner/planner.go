// Package planner is a host-side motion queue: a bounded buffer of
// straight moves executed against wall-clock time by Step.
package planner

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/mastercactapus/homecnc/coord"
)

// DefaultSize is the number of moves the planner holds by default.
const DefaultSize = 28

const epsilon = 0.00001

var (
	// ErrMinimumLengthMove is returned for moves with no movement at all.
	ErrMinimumLengthMove = errors.New("planner: minimum length move")
	// ErrBufferFull is returned when every planner buffer is in use.
	ErrBufferFull = errors.New("planner: buffer full")
	// ErrZeroFeed is returned for a feed move without a feed rate.
	ErrZeroFeed = errors.New("planner: feed rate is zero")
)

// Move is one incremental straight move.
type Move struct {
	Delta coord.Vector
	// Feed is the path feed rate in mm/min. Ignored for rapids.
	Feed  float64
	Rapid bool
}

// Limits are per-axis maximum rates in mm/min. Zero means unlimited.
type Limits struct {
	VelocityMax coord.Vector
	FeedRateMax coord.Vector
}

// ObserveFunc is called after every step with the distance travelled
// since the planner was created. SetPosition does not change it, so it
// follows the physical carriage. Returning true puts the planner in feed
// hold.
type ObserveFunc func(travel coord.Vector) bool

type segment struct {
	move        Move
	start       coord.Vector
	travelStart coord.Vector
	duration    time.Duration
	elapsed     time.Duration
}

// Planner queues and executes moves. It is safe for concurrent use.
type Planner struct {
	mx sync.Mutex

	size      int
	limits    Limits
	queue     []*segment
	pos       coord.Vector
	end       coord.Vector
	travel    coord.Vector
	travelEnd coord.Vector
	hold      bool
	observe   ObserveFunc
}

// New creates a Planner holding up to size moves.
func New(size int, limits Limits) *Planner {
	if size <= 0 {
		size = DefaultSize
	}
	return &Planner{size: size, limits: limits}
}

// Observe sets the function called after every step.
func (p *Planner) Observe(fn ObserveFunc) {
	p.mx.Lock()
	p.observe = fn
	p.mx.Unlock()
}

// MoveTime returns how long m takes: the slowest of the path feed and
// every axis' own limit.
func (p *Planner) MoveTime(m Move) time.Duration {
	minutes := 0.0
	if !m.Rapid && m.Feed > 0 {
		minutes = m.Delta.Length() / m.Feed
	}
	for a, d := range m.Delta {
		max := p.limits.FeedRateMax[a]
		if m.Rapid {
			max = p.limits.VelocityMax[a]
		}
		if max <= 0 {
			continue
		}
		minutes = math.Max(minutes, math.Abs(d)/max)
	}
	return time.Duration(minutes * float64(time.Minute))
}

// Enqueue adds a move to the end of the queue.
func (p *Planner) Enqueue(m Move) error {
	if m.Delta.Length() < epsilon {
		return ErrMinimumLengthMove
	}
	if !m.Rapid && m.Feed <= 0 {
		return ErrZeroFeed
	}

	p.mx.Lock()
	defer p.mx.Unlock()
	if len(p.queue) >= p.size {
		return ErrBufferFull
	}

	seg := &segment{move: m, start: p.end, travelStart: p.travelEnd, duration: p.MoveTime(m)}
	if seg.duration <= 0 {
		// rapid with no limits configured; one step finishes it
		seg.duration = time.Nanosecond
	}
	p.end = p.end.Add(m.Delta)
	p.travelEnd = p.travelEnd.Add(m.Delta)
	p.queue = append(p.queue, seg)
	return nil
}

// Len returns the number of queued moves, including the running one.
func (p *Planner) Len() int {
	p.mx.Lock()
	defer p.mx.Unlock()
	return len(p.queue)
}

// Flush drops all queued motion, including the remainder of a held move.
// The planner position stays where motion stopped.
func (p *Planner) Flush() {
	p.mx.Lock()
	p.queue = p.queue[:0]
	p.end = p.pos
	p.travelEnd = p.travel
	p.mx.Unlock()
}

// Busy is true while there is motion to run and the planner is not held.
func (p *Planner) Busy() bool {
	p.mx.Lock()
	defer p.mx.Unlock()
	return !p.hold && len(p.queue) > 0
}

// FeedHold stops motion at the current position.
func (p *Planner) FeedHold() {
	p.mx.Lock()
	p.hold = true
	p.mx.Unlock()
}

// EndFeedHold resumes whatever is left in the queue.
func (p *Planner) EndFeedHold() {
	p.mx.Lock()
	p.hold = false
	p.mx.Unlock()
}

// Held reports whether the planner is in feed hold.
func (p *Planner) Held() bool {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.hold
}

// Position returns the runtime machine position.
func (p *Planner) Position() coord.Vector {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.pos
}

// Travel returns the distance travelled since the planner was created.
func (p *Planner) Travel() coord.Vector {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.travel
}

// SetPosition redefines the current position. Queued moves keep their
// relative distances.
func (p *Planner) SetPosition(pos coord.Vector) {
	p.mx.Lock()
	defer p.mx.Unlock()
	shift := pos.Sub(p.pos)
	p.pos = pos
	p.end = p.end.Add(shift)
	for _, seg := range p.queue {
		seg.start = seg.start.Add(shift)
	}
}

// Step advances motion by dt. A move finishing early in the step hands
// the remaining time to the next one.
func (p *Planner) Step(dt time.Duration) {
	p.mx.Lock()
	defer p.mx.Unlock()

	for dt > 0 && !p.hold && len(p.queue) > 0 {
		seg := p.queue[0]
		adv := seg.duration - seg.elapsed
		if dt < adv {
			adv = dt
		}
		seg.elapsed += adv
		dt -= adv

		delta := seg.move.Delta
		if seg.elapsed >= seg.duration {
			p.queue = p.queue[1:]
		} else {
			delta = delta.Mul(float64(seg.elapsed) / float64(seg.duration))
		}
		p.pos = seg.start.Add(delta)
		p.travel = seg.travelStart.Add(delta)

		if p.observe != nil && p.observe(p.travel) {
			p.hold = true
		}
	}
}
