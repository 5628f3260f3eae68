package movement

import "pacemakerfw/core"

// MaxEndstops bounds the endstop table size, matching the original
// firmware's MAX_ENDSTOPS.
const MaxEndstops = 8

// EndstopTable is the global endstop state §3 describes: enable_mask,
// trigger_level_mask, and the live hit_mask, plus the input PortBits used
// to sample each bit. This is distinct from the teacher's per-oid
// `core.Endstop` objects (core/endstop.go), which address independent
// debounced switches by oid for the Klipper-style command family; this
// table is the ISR-scheduled set the movement engine's axis config
// references by bit position (see DESIGN.md).
type EndstopTable struct {
	Pins             [MaxEndstops]PortBit
	configured       uint8 // bitmask: which endstops have a bound pin
	EnableMask       uint8
	TriggerLevelMask uint8
	HitMask          uint8

	// previousSample supports the two-sample debounce described in §4.4:
	// a rising-edge hit requires the new sample AND the previous sample
	// both read as a hit.
	previousSample uint8
}

// ConfigureEndstop binds an endstop index to an input pin.
func (e *EndstopTable) ConfigureEndstop(index uint8, driver core.GPIODriver, pin core.GPIOPin, triggerHigh bool) error {
	if index >= MaxEndstops {
		return newError(ErrInvalidDeviceNumber, "endstop out of range")
	}
	if err := e.Pins[index].BindInput(driver, pin, false, true); err != nil {
		return err
	}
	e.configured |= 1 << index
	if triggerHigh {
		e.TriggerLevelMask |= 1 << index
	} else {
		e.TriggerLevelMask &^= 1 << index
	}
	return nil
}

// SampleAndDebounce samples every enabled, bit-set-of-interest endstop and
// returns the set of endstops with a confirmed (two-sample) rising-edge
// hit this call. Must be called at most once per ISR entry (§4.4: "once
// per ISR entry, not per inner step").
func (e *EndstopTable) SampleAndDebounce(ofInterest uint8) uint8 {
	mask := ofInterest & e.EnableMask & e.configured
	var sample uint8
	for i := uint8(0); i < MaxEndstops; i++ {
		bit := uint8(1) << i
		if mask&bit == 0 {
			continue
		}
		hit := e.Pins[i].Read() == (e.TriggerLevelMask&bit != 0)
		if hit {
			sample |= bit
		}
	}
	confirmed := sample & e.previousSample & mask
	e.HitMask |= confirmed
	e.previousSample = sample
	return confirmed
}

// ClearHit clears the latched hit bits for the given mask (used once
// their axes have been stopped).
func (e *EndstopTable) ClearHit(mask uint8) {
	e.HitMask &^= mask
}
