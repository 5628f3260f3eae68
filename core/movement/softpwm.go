package movement

import "pacemakerfw/core"

// PwmGroupSize is the number of devices per soft-PWM group (heaters, PWM
// outputs), matching the original firmware's 8-device bitmask groups.
const PwmGroupSize = 8

// AlwaysOnDuty is the wire-level sentinel (0xFF) meaning "always on",
// mapped internally to the full duty-cycle count.
const AlwaysOnDuty = 0xFF

// PwmIsrCountMask: pwm_isr_count is a free-running 7-bit counter that
// wraps at 0x80 (§4.7).
const PwmIsrCountMask = 0x7F

// PwmGroup is one of the two soft-PWM device groups (heaters or PWM
// outputs) described in §4.7: an 8-device bitmask of which devices are
// configured, each with a target duty (0-128) and the phase-aligned
// latched count that produces a duty cycle without per-device timer
// hardware.
type PwmGroup struct {
	Pins  [PwmGroupSize]PortBit
	Power [PwmGroupSize]uint8 // target duty_target, 0..128
	count [PwmGroupSize]uint8
	Mask  uint8 // bitmask: which devices are bound/active
}

// Configure binds a group slot to an output pin.
func (g *PwmGroup) Configure(device uint8, driver core.GPIODriver, pin core.GPIOPin, invert bool) error {
	if device >= PwmGroupSize {
		return newError(ErrInvalidDeviceNumber, "pwm device out of range")
	}
	if err := g.Pins[device].Bind(driver, pin, invert); err != nil {
		return err
	}
	g.Mask |= 1 << device
	return nil
}

// SetPower sets a device's target duty (0-128, or 0xFF for always-on).
func (g *PwmGroup) SetPower(device uint8, duty uint8) error {
	if device >= PwmGroupSize || g.Mask&(1<<device) == 0 {
		return newError(ErrInvalidDeviceNumber, "pwm device not configured")
	}
	if duty == AlwaysOnDuty {
		duty = 128
	}
	g.Power[device] = duty
	return nil
}

// tick runs one phase-aligned soft-PWM step for every configured device
// in the group, per §4.7's latch-at-zero / clear-when-exceeded algorithm.
func (g *PwmGroup) tick(isrCount uint8) {
	for i := uint8(0); i < PwmGroupSize; i++ {
		if g.Mask&(1<<i) == 0 {
			continue
		}
		if isrCount == 0 {
			g.count[i] = g.Power[i]
		}
		if g.count[i] <= isrCount {
			g.Pins[i].Clear()
		} else {
			g.Pins[i].Set()
		}
	}
}

// OversampleNR is the number of full ADC sweeps accumulated before a
// temperature sample is published (§4.7's OVERSAMPLENR, typically 16).
const OversampleNR = 16

// MaxSensors bounds the temperature-sensor table, matching MAX_STEPPERS'
// sibling constant in the original firmware (8 thermal channels).
const MaxSensors = 8

// TempPoint is one entry of a per-sensor raw-ADC-to-temperature lookup
// table; LookupTemp interpolates linearly between adjacent entries.
type TempPoint struct {
	Raw     uint32
	Tenths  int16 // degrees C x10
}

// TempSensor is one oversampled ADC temperature channel.
type TempSensor struct {
	Pin        uint32
	Table      []TempPoint
	MaxTempRaw uint32 // raw threshold stored with the sensor; neither Fire nor RunHeaterCadence compares readings against it (the fault limit applied is Heater.MaxTempTenths)

	accum  uint32
	sweeps uint8
	raw    uint32
	valid  bool
}

// LookupTemp converts a raw ADC accumulation to tenths-of-a-degree-C via
// linear interpolation between the two bracketing table entries. The
// table may be ascending or descending in Raw (thermistors commonly
// produce a descending raw-to-temperature curve); both are handled.
func LookupTemp(table []TempPoint, raw uint32) int16 {
	if len(table) == 0 {
		return 0
	}
	ascending := len(table) > 1 && table[1].Raw > table[0].Raw
	if ascending {
		if raw <= table[0].Raw {
			return table[0].Tenths
		}
		if raw >= table[len(table)-1].Raw {
			return table[len(table)-1].Tenths
		}
		for i := 0; i < len(table)-1; i++ {
			a, b := table[i], table[i+1]
			if raw >= a.Raw && raw <= b.Raw {
				return interpolateTenths(a, b, raw)
			}
		}
	} else {
		if raw >= table[0].Raw {
			return table[0].Tenths
		}
		if raw <= table[len(table)-1].Raw {
			return table[len(table)-1].Tenths
		}
		for i := 0; i < len(table)-1; i++ {
			a, b := table[i], table[i+1]
			if raw <= a.Raw && raw >= b.Raw {
				return interpolateTenths(a, b, raw)
			}
		}
	}
	return table[len(table)-1].Tenths
}

func interpolateTenths(a, b TempPoint, raw uint32) int16 {
	if a.Raw == b.Raw {
		return a.Tenths
	}
	span := int64(b.Raw) - int64(a.Raw)
	frac := int64(raw) - int64(a.Raw)
	delta := int64(b.Tenths) - int64(a.Tenths)
	return a.Tenths + int16(delta*frac/span)
}

// SoftPWM owns the two PWM device groups and the oversampled ADC
// temperature sampler, both driven from the ~1kHz second timer of §4.7.
// It is a package-local analogue of the original firmware's
// Timer0-compare-B ISR, kept deliberately separate from the movement
// Engine's ISR A since the spec calls out that the two ISRs never share
// data with each other (§5).
type SoftPWM struct {
	Heaters PwmGroup
	Outputs PwmGroup

	Scale uint8 // soft_pwm_scale: isr_count increments by 1<<Scale per fire
	isrCount uint8

	Sensors     [MaxSensors]TempSensor
	NumSensors  int
	sensorIndex int

	measReady bool
}

// ConfigureSensor installs a temperature channel's ADC pin and lookup
// table. Sensors must be configured before the first Fire call.
func (s *SoftPWM) ConfigureSensor(index uint8, pin uint32, table []TempPoint) error {
	if int(index) >= MaxSensors {
		return newError(ErrInvalidDeviceNumber, "sensor index out of range")
	}
	s.Sensors[index] = TempSensor{Pin: pin, Table: table}
	if int(index)+1 > s.NumSensors {
		s.NumSensors = int(index) + 1
	}
	return core.ADCSetup(pin)
}

// Fire runs one ~1kHz ISR-B entry: advance the soft-PWM phase counters
// and progress the oversampled ADC sweep by one step (§4.7).
func (s *SoftPWM) Fire() {
	s.Heaters.tick(s.isrCount)
	s.Outputs.tick(s.isrCount)
	s.isrCount = (s.isrCount + (1 << s.Scale)) & PwmIsrCountMask

	if s.NumSensors == 0 {
		return
	}
	cycle := s.NumSensors
	if cycle < MaxSensors {
		cycle = MaxSensors
	}

	if s.NumSensors <= 4 {
		// Setup and sample for the same sensor happen on consecutive
		// ticks, alternating every other tick regardless of NumSensors
		// (we loop through the fixed 8-tick cycle every ~8ms either way).
		i := s.sensorIndex / 2
		if i < s.NumSensors {
			sensor := &s.Sensors[i]
			if s.sensorIndex%2 == 0 {
				core.ADCSetup(sensor.Pin)
			} else {
				if v, ready := core.ADCSample(sensor.Pin); ready {
					sensor.accum += uint32(v)
				}
			}
		}
	} else {
		readIdx := (s.sensorIndex - 1 + cycle) % cycle
		startIdx := s.sensorIndex % cycle
		if readIdx < s.NumSensors {
			if v, ready := core.ADCSample(s.Sensors[readIdx].Pin); ready {
				s.Sensors[readIdx].accum += uint32(v)
			}
		}
		if startIdx < s.NumSensors {
			core.ADCSetup(s.Sensors[startIdx].Pin)
		}
	}

	s.sensorIndex = (s.sensorIndex + 1) % cycle
	if s.sensorIndex == 0 {
		consumed := !s.measReady
		for i := 0; i < s.NumSensors; i++ {
			sensor := &s.Sensors[i]
			sensor.sweeps++
			if sensor.sweeps >= OversampleNR {
				if consumed {
					sensor.raw = sensor.accum
					sensor.valid = true
				}
				sensor.accum = 0
				sensor.sweeps = 0
				s.measReady = true
			}
		}
	}
}

// ConsumeReadings clears temp_meas_ready and returns the latest raw
// sample for every configured sensor, exactly as the main-loop side of
// §4.7 is specified to: the flag is cleared here, inside the single call
// a real ISR-shared critical section would wrap, since this module's
// "ISR" and main loop both just run as Go calls with no real concurrent
// preemption to race against.
func (s *SoftPWM) ConsumeReadings() (raws [MaxSensors]uint32, ready bool) {
	ready = s.measReady
	if !ready {
		return
	}
	for i := 0; i < s.NumSensors; i++ {
		raws[i] = s.Sensors[i].raw
	}
	s.measReady = false
	return
}
