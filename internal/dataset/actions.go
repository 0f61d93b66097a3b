package dataset

import "math"

// Control action labels stored with each sample. The codes match the label
// vocabulary the downstream policy trainer expects.
const (
	ActionRight     = 0
	ActionLeft      = 1
	ActionForward   = 2
	ActionBackward  = 3
	ActionUp        = 4
	ActionDown      = 5
	ActionTurnRight = 6
	ActionTurnLeft  = 7
	ActionHover     = 8
)

var actionNames = map[int]string{
	ActionRight:     "right",
	ActionLeft:      "left",
	ActionForward:   "forward",
	ActionBackward:  "backward",
	ActionUp:        "up",
	ActionDown:      "down",
	ActionTurnRight: "turn-right",
	ActionTurnLeft:  "turn-left",
	ActionHover:     "hover",
}

// ActionName returns a human-readable name for an action code.
func ActionName(code int) string {
	if name, ok := actionNames[code]; ok {
		return name
	}
	return "unknown"
}

const (
	moveDeadband   = 0.1
	rotateDeadband = 0.01
)

// MoveAction maps a translation command to an action label by dominant axis.
// ok is false when the command is inside the deadband and the label should
// not change.
func MoveAction(dx, dy, dz float64) (label int, ok bool) {
	ax, ay, az := math.Abs(dx), math.Abs(dy), math.Abs(dz)
	if ax <= moveDeadband && ay <= moveDeadband && az <= moveDeadband {
		return 0, false
	}
	switch m := math.Max(ax, math.Max(ay, az)); m {
	case ax:
		if dx > 0 {
			return ActionRight, true
		}
		return ActionLeft, true
	case ay:
		if dy > 0 {
			return ActionForward, true
		}
		return ActionBackward, true
	default:
		if dz > 0 {
			return ActionUp, true
		}
		return ActionDown, true
	}
}

// RotateAction maps a yaw-rate command to an action label. Commands inside
// the deadband mean hover.
func RotateAction(delta float64) int {
	if math.Abs(delta) <= rotateDeadband {
		return ActionHover
	}
	if delta > 0 {
		return ActionTurnRight
	}
	return ActionTurnLeft
}
