package movement

import "pacemakerfw/core"

// MaxAxes bounds the axis table size, matching the original firmware's
// MAX_STEPPERS.
const MaxAxes = 8

// AxisConfig is the fixed-after-configuration portion of an axis: output
// ports, rate limits, and the endstop masks that stop motion in each
// direction. Immutable once the configuration freeze precedes the first
// enqueue (§5), so it needs no locking.
type AxisConfig struct {
	InUse bool

	Enable PortBit
	Dir    PortBit
	Step   PortBit

	MaxRate          uint16 // steps/s
	UnderrunMaxRate  uint16 // steps/s
	UnderrunAccelRate uint32 // steps/s^2

	// StepsToStopFromUnderrun is steps_to_stop_from_underrun_rate (§4.6):
	// how many step events it takes to decelerate from underrun_max_rate to
	// a dead stop at underrun_accel_rate. Depends only on per-axis
	// configuration, so it's precomputed once here rather than per move.
	StepsToStopFromUnderrun uint32

	MinEndstops uint8 // bitmask over the endstop table
	MaxEndstops uint8
}

// AxisRuntime is mutated only by the movement ISR after initialization.
type AxisRuntime struct {
	StepEventCounter int32 // Bresenham accumulator, signed
	CurrentDir       bool  // last direction bit written, to skip redundant writes
	DirValid         bool
	StepsEmitted     uint32 // running total for movement_get_position
	Enabled          bool
}

// AxisTable owns every axis' config+runtime state, the owned
// array-of-structs the design notes ask for in place of raw function-
// pointer arrays.
type AxisTable struct {
	Config  [MaxAxes]AxisConfig
	Runtime [MaxAxes]AxisRuntime
	// StepperEnableState: one bit per axis, latched so redundant enable
	// writes are skipped. Written by the ISR only; main-loop reads are
	// naturally-aligned single bytes (§5).
	enableState uint8
}

// ConfigureAxis wires an axis' step/dir/enable pins and rate limits. Must
// run before the first enqueue; this is the "configuration freeze" the
// rest of the engine assumes.
func (t *AxisTable) ConfigureAxis(axis uint8, driver core.GPIODriver,
	enablePin, dirPin, stepPin core.GPIOPin,
	enableInvert, dirInvert, stepInvert bool,
	maxRate, underrunMaxRate uint16, underrunAccelRate uint32,
	minEndstops, maxEndstops uint8) error {

	if axis >= MaxAxes {
		return newError(ErrInvalidDeviceNumber, "axis out of range")
	}
	c := &t.Config[axis]
	if err := c.Enable.Bind(driver, enablePin, enableInvert); err != nil {
		return err
	}
	if err := c.Dir.Bind(driver, dirPin, dirInvert); err != nil {
		return err
	}
	if err := c.Step.Bind(driver, stepPin, stepInvert); err != nil {
		return err
	}
	c.MaxRate = maxRate
	c.UnderrunMaxRate = underrunMaxRate
	c.UnderrunAccelRate = underrunAccelRate
	c.MinEndstops = minEndstops
	c.MaxEndstops = maxEndstops
	if underrunAccelRate > 0 {
		c.StepsToStopFromUnderrun = uint32(underrunMaxRate) * uint32(underrunMaxRate) / (2 * underrunAccelRate)
	}
	c.InUse = true
	t.Runtime[axis] = AxisRuntime{}
	return nil
}

// IsInUse reports whether an axis has been configured.
func (t *AxisTable) IsInUse(axis uint8) bool {
	return axis < MaxAxes && t.Config[axis].InUse
}

// SetEnable writes an axis' enable output, skipping the write if the
// latched state already matches (StepperEnableState).
func (t *AxisTable) SetEnable(axis uint8, on bool) {
	if axis >= MaxAxes || !t.Config[axis].InUse {
		return
	}
	bit := uint8(1) << axis
	was := t.enableState&bit != 0
	if was == on {
		return
	}
	if on {
		t.enableState |= bit
	} else {
		t.enableState &^= bit
	}
	t.Config[axis].Enable.Write(on)
	t.Runtime[axis].Enabled = on
}

// SetEnableAll applies SetEnable to every configured axis.
func (t *AxisTable) SetEnableAll(on bool) {
	for i := uint8(0); i < MaxAxes; i++ {
		if t.Config[i].InUse {
			t.SetEnable(i, on)
		}
	}
}

// SetDirection writes an axis' direction output, skipping the write if the
// direction cache already matches (§4.4 "Update direction outputs").
func (t *AxisTable) SetDirection(axis uint8, positive bool) {
	rt := &t.Runtime[axis]
	if rt.DirValid && rt.CurrentDir == positive {
		return
	}
	t.Config[axis].Dir.Write(positive)
	rt.CurrentDir = positive
	rt.DirValid = true
}
