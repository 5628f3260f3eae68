package movement

// InvalidTemp marks a heater's target or a sensor's last reading as not
// currently meaningful - the sentinel spec.md §4.8 calls "target
// invalid" (used both for "no target set" and "forced invalid on fault").
const InvalidTemp int16 = -32768

// HeaterMode selects which control law RunHeaterCadence applies.
type HeaterMode uint8

const (
	HeaterOff HeaterMode = iota
	HeaterBangBang
	HeaterPID
)

// PIDGainScale is the fixed-point scale config_heater's wire values use
// for the PID gains (the VLQ codec only carries integers): a wire value
// of 1500 means a gain of 1.5.
const PIDGainScale = 1000.0

// PIDParams are the tuning constants of the §4.8 PID law. P/I/D/K1 are
// kept as float64: the original fixed-point PID_dT scaling is an AVR
// cycle-budget concern this engine doesn't share, and plain floats make
// the control law read the way the spec states it.
type PIDParams struct {
	P, I, D, K1     float64
	FunctionalRange int16 // tenths C
}

// Heater is one controlled heating element: a temperature sensor, a
// soft-PWM output device, and the bang-bang or PID law driving it.
type Heater struct {
	Mode   HeaterMode
	Sensor uint8 // index into SoftPWM.Sensors
	Device uint8 // index into the PwmGroup driving this heater

	Target       int16 // tenths C; InvalidTemp = no target
	MaxTempTenths int16 // thermal-runaway ceiling; 0 = unconfigured
	Hysteresis   int16 // tenths C, bang-bang only
	PowerOnLevel uint8 // duty applied when heating (0..128)

	PID                      PIDParams
	AdvancedMaxPidPowerLevel uint8 // duty ceiling (0..128), PID only

	heating   bool
	iState    float64
	dTermPrev float64
	tPrev     int16
	hasPrev   bool
	Fault     bool
}

// HeaterBank owns every configured heater plus the per-sensor
// temperature cache populated each time the soft-PWM sampler publishes
// a fresh oversampled batch.
type HeaterBank struct {
	Heaters    [MaxSensors]Heater
	configured uint8

	temps      [MaxSensors]int16
	tempsValid [MaxSensors]bool
}

// Configure installs a heater's control law and limits in heater slot
// idx. The heater reads sensor h.Sensor and drives PWM-group device
// h.Device.
func (b *HeaterBank) Configure(idx uint8, h Heater) error {
	if int(idx) >= MaxSensors {
		return newError(ErrInvalidDeviceNumber, "heater index out of range")
	}
	h.Target = InvalidTemp
	b.Heaters[idx] = h
	b.configured |= 1 << idx
	return nil
}

// SetTarget sets a heater's target temperature, or InvalidTemp to turn it
// off (§4.8: "for each heater with a valid target").
func (b *HeaterBank) SetTarget(idx uint8, target int16) error {
	if idx >= MaxSensors || b.configured&(1<<idx) == 0 {
		return newError(ErrInvalidDeviceNumber, "heater not configured")
	}
	b.Heaters[idx].Target = target
	if target == InvalidTemp {
		b.Heaters[idx].heating = false
		b.Heaters[idx].iState = 0
	}
	return nil
}

// RunHeaterCadence is the main-loop-cadence heater control loop of
// §4.8: it first drains any fresh oversampled batch from the soft-PWM
// sampler into the per-sensor temperature cache, then runs each
// configured heater's control law against that cache, writing the
// resulting duty into its PWM group device.
func (b *HeaterBank) RunHeaterCadence(s *SoftPWM, pwm *PwmGroup) {
	if raws, ready := s.ConsumeReadings(); ready {
		for i := 0; i < s.NumSensors; i++ {
			sensor := &s.Sensors[i]
			b.temps[i] = LookupTemp(sensor.Table, raws[i])
			b.tempsValid[i] = true
		}
	}

	for i := uint8(0); i < MaxSensors; i++ {
		if b.configured&(1<<i) == 0 {
			continue
		}
		h := &b.Heaters[i]
		if h.Target == InvalidTemp {
			pwm.SetPower(h.Device, 0)
			continue
		}

		var valid bool
		var t int16
		if int(h.Sensor) < MaxSensors {
			valid = b.tempsValid[h.Sensor]
			t = b.temps[h.Sensor]
		}
		if !valid || (h.MaxTempTenths != 0 && t > h.MaxTempTenths) {
			h.Target = InvalidTemp
			h.Fault = true
			h.heating = false
			h.iState = 0
			pwm.SetPower(h.Device, 0)
			continue
		}

		var duty uint8
		switch h.Mode {
		case HeaterBangBang:
			duty = h.runBangBang(t)
		case HeaterPID:
			duty = h.runPID(t)
		}
		pwm.SetPower(h.Device, duty)
	}
}

func (h *Heater) runBangBang(t int16) uint8 {
	if h.heating && t > h.Target+h.Hysteresis {
		h.heating = false
	} else if !h.heating && t < h.Target-h.Hysteresis {
		h.heating = true
	}
	if h.heating {
		return h.PowerOnLevel
	}
	return 0
}

func (h *Heater) runPID(t int16) uint8 {
	err := float64(h.Target - t)
	maxPower := h.AdvancedMaxPidPowerLevel

	if absf(err) > float64(h.PID.FunctionalRange) {
		h.iState = 0
		if err > 0 {
			h.hasPrev = true
			h.tPrev = t
			return h.PowerOnLevel
		}
		h.hasPrev = true
		h.tPrev = t
		return 0
	}

	iMax := 0.0
	if h.PID.I > 0 {
		iMax = float64(maxPower) / h.PID.I
	}
	h.iState += err
	if h.iState < 0 {
		h.iState = 0
	}
	if h.iState > iMax {
		h.iState = iMax
	}

	var dTerm float64
	if h.hasPrev {
		dTerm = float64(t-h.tPrev)*h.PID.D*(1-h.PID.K1) + h.PID.K1*h.dTermPrev
	}
	h.dTermPrev = dTerm
	h.tPrev = t
	h.hasPrev = true

	out := h.PID.P*err + h.PID.I*h.iState - dTerm
	if out < 0 {
		out = 0
	}
	if out > float64(maxPower) {
		out = float64(maxPower)
	}
	return uint8(out)
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
