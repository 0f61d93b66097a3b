// Package sampler decides, once per simulation frame, whether to emit a
// dataset capture. Two independent policies feed the decision: a periodic
// frame counter, and an edge-triggered anomaly when the target distance
// crosses below a threshold.
package sampler

import "fmt"

// Reason records which policy accepted (or skipped) a frame.
type Reason int

const (
	ReasonSkipped Reason = iota
	ReasonPeriodic
	ReasonAnomaly
)

func (r Reason) String() string {
	switch r {
	case ReasonSkipped:
		return "skipped"
	case ReasonPeriodic:
		return "periodic"
	case ReasonAnomaly:
		return "anomaly"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Decision is the per-frame outcome. Ephemeral; never persisted.
type Decision struct {
	Accept bool
	Reason Reason
}

// Frame is the per-frame input to Observe. PoseOK/TargetOK report transient
// collaborator availability; a frame missing either is skipped without being
// treated as an error (expected near scene resets).
type Frame struct {
	Distance float64
	PoseOK   bool
	TargetOK bool
}

// Sampler holds the periodic counter and the anomaly debounce state. Not safe
// for concurrent use; it belongs to the simulation goroutine.
type Sampler struct {
	captureEvery uint64
	frames       uint64
	trigger      Trigger
}

// New returns a sampler accepting every captureEvery-th frame, with an
// anomaly trigger at the given distance threshold. captureEvery < 1 is
// treated as 1 (capture every frame).
func New(captureEvery int, threshold float64) *Sampler {
	if captureEvery < 1 {
		captureEvery = 1
	}
	return &Sampler{
		captureEvery: uint64(captureEvery),
		trigger:      NewTrigger(threshold),
	}
}

// Observe evaluates one frame. The frame counter advances on every call, even
// when the frame is skipped. An anomaly forces a capture this frame,
// bypassing the periodic counter.
func (s *Sampler) Observe(f Frame) Decision {
	s.frames++

	if !f.PoseOK || !f.TargetOK {
		return Decision{Reason: ReasonSkipped}
	}
	if s.trigger.Crossed(f.Distance) {
		return Decision{Accept: true, Reason: ReasonAnomaly}
	}
	if s.frames%s.captureEvery == 0 {
		return Decision{Accept: true, Reason: ReasonPeriodic}
	}
	return Decision{Reason: ReasonSkipped}
}

// FrameCount returns the number of frames observed so far.
func (s *Sampler) FrameCount() uint64 { return s.frames }

// Reset clears the frame counter and re-arms the trigger, for a new capture
// session.
func (s *Sampler) Reset() {
	s.frames = 0
	s.trigger.Reset()
}
