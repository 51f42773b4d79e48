package voice

// Transition is what one energy observation did to the silence timer.
type Transition int

const (
	// TransitionNone leaves the timer as it was.
	TransitionNone Transition = iota
	// TransitionArm starts the timer: energy dropped below the threshold.
	TransitionArm
	// TransitionCancel stops the timer: energy rose back above the threshold.
	TransitionCancel
)

// SilenceDetector tracks whether the silence timer should be running.
// The caller owns the timer itself.
type SilenceDetector struct {
	threshold float64
	armed     bool
}

// NewSilenceDetector creates a detector for the given threshold.
func NewSilenceDetector(threshold float64) *SilenceDetector {
	return &SilenceDetector{threshold: threshold}
}

// Observe feeds one energy level.
func (d *SilenceDetector) Observe(level float64) Transition {
	quiet := level < d.threshold
	switch {
	case quiet && !d.armed:
		d.armed = true
		return TransitionArm
	case !quiet && d.armed:
		d.armed = false
		return TransitionCancel
	default:
		return TransitionNone
	}
}

// Armed reports whether the timer should be running.
func (d *SilenceDetector) Armed() bool { return d.armed }

// Reset disarms the detector.
func (d *SilenceDetector) Reset() { d.armed = false }
