package sampler

// Trigger is the edge-triggered, debounced threshold detector for target
// proximity. It fires once when the distance crosses below the threshold and
// will not fire again until the distance has risen back to or above the
// threshold (re-arming). A continuous near-target dwell therefore produces
// one event, not one per frame.
type Trigger struct {
	threshold float64
	armed     bool
}

// NewTrigger returns an armed trigger. A threshold <= 0 disables the trigger.
func NewTrigger(threshold float64) Trigger {
	return Trigger{threshold: threshold, armed: true}
}

// Crossed feeds one distance observation and reports whether the trigger
// fired on this observation.
func (t *Trigger) Crossed(distance float64) bool {
	if t.threshold <= 0 {
		return false
	}
	if distance >= t.threshold {
		t.armed = true
		return false
	}
	if !t.armed {
		return false
	}
	t.armed = false
	return true
}

// Reset re-arms the trigger.
func (t *Trigger) Reset() { t.armed = true }
