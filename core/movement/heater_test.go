package movement

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaterBangBangHysteresis(t *testing.T) {
	h := &Heater{Target: 2000, Hysteresis: 50, PowerOnLevel: 128}

	require.EqualValues(t, 128, h.runBangBang(1900), "below target - hysteresis must heat at full power")
	require.True(t, h.heating)

	require.EqualValues(t, 128, h.runBangBang(2020), "within the hysteresis band must keep heating once latched on")

	require.EqualValues(t, 0, h.runBangBang(2060), "above target + hysteresis must turn off")
	require.False(t, h.heating)

	require.EqualValues(t, 0, h.runBangBang(2010), "within the band while off must stay off")
}

func TestHeaterPIDOutsideFunctionalRangeAppliesPowerOnLevel(t *testing.T) {
	h := &Heater{
		Target:                   2500,
		PID:                      PIDParams{P: 10, I: 0, D: 0, K1: 0, FunctionalRange: 50},
		AdvancedMaxPidPowerLevel: 100,
	}
	// Error 2500-0 = 2500 tenths C, far outside FunctionalRange (50):
	// the bang-bang fallback branch applies full PowerOnLevel, which the
	// PID power ceiling (AdvancedMaxPidPowerLevel) does not limit.
	h.PowerOnLevel = 128
	duty := h.runPID(0)
	require.EqualValues(t, 128, duty)
}

func TestHeaterPIDWithinFunctionalRangeUsesProportionalTerm(t *testing.T) {
	h := &Heater{
		Target:                   2020,
		PID:                      PIDParams{P: 1, I: 0, D: 0, K1: 0, FunctionalRange: 50},
		AdvancedMaxPidPowerLevel: 100,
	}
	duty := h.runPID(2000) // err = 20, within the functional range
	require.EqualValues(t, 20, duty)
}

func TestHeaterPIDNeverExceedsMaxPidPowerLevel(t *testing.T) {
	h := &Heater{
		Target:                   2100,
		PID:                      PIDParams{P: 1000, I: 0, D: 0, K1: 0, FunctionalRange: 500},
		AdvancedMaxPidPowerLevel: 80,
	}
	duty := h.runPID(2000)
	require.LessOrEqual(t, int(duty), 80)
}

func TestHeaterBankSetTargetRejectsUnconfiguredHeater(t *testing.T) {
	b := &HeaterBank{}
	err := b.SetTarget(0, 2000)
	require.Error(t, err)
}

func TestHeaterBankConfigureStartsWithInvalidTarget(t *testing.T) {
	b := &HeaterBank{}
	require.NoError(t, b.Configure(0, Heater{Mode: HeaterBangBang, Device: 0, Sensor: 0}))
	require.Equal(t, InvalidTemp, b.Heaters[0].Target)

	require.NoError(t, b.SetTarget(0, 2000))
	require.EqualValues(t, 2000, b.Heaters[0].Target)

	require.NoError(t, b.SetTarget(0, InvalidTemp))
	require.Equal(t, InvalidTemp, b.Heaters[0].Target)
}

func TestHeaterBankTripsFaultAboveMaxTemp(t *testing.T) {
	b := &HeaterBank{}
	require.NoError(t, b.Configure(0, Heater{Mode: HeaterBangBang, MaxTempTenths: 2500, PowerOnLevel: 128}))
	require.NoError(t, b.SetTarget(0, 2000))

	pwm := &PwmGroup{}
	require.NoError(t, pwm.Configure(0, newFakeGPIODriver(), 1, false))

	soft := &SoftPWM{}
	require.NoError(t, soft.ConfigureSensor(0, 0, []TempPoint{{Raw: 0, Tenths: 0}, {Raw: 1000, Tenths: 3000}}))
	// Force a ready reading above the fault threshold without driving a
	// full oversampled ADC sweep through SoftPWM.Fire.
	soft.Sensors[0].raw = 900
	soft.measReady = true

	b.RunHeaterCadence(soft, pwm)

	require.True(t, b.Heaters[0].Fault)
	require.Equal(t, InvalidTemp, b.Heaters[0].Target)
	require.EqualValues(t, 0, pwm.Power[0])
}
