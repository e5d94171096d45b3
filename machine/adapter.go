package machine

import (
	"github.com/mastercactapus/homecnc/coord"
	"github.com/mastercactapus/homecnc/planner"
)

// A Planner is the motion backend the machine drives. It is implemented
// by the host planner and by external controllers.
type Planner interface {
	Enqueue(planner.Move) error
	// Flush drops queued motion, including the rest of a held move.
	Flush()
	// Busy is true while a move is running or queued and not held.
	Busy() bool
	Held() bool
	FeedHold()
	EndFeedHold()

	Position() coord.Vector
	SetPosition(coord.Vector)
}

var _ Planner = &planner.Planner{}
