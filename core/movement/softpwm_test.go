package movement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pacemakerfw/core"
)

func TestLookupTempAscendingInterpolates(t *testing.T) {
	table := []TempPoint{{Raw: 0, Tenths: 0}, {Raw: 1000, Tenths: 1000}}
	assert.EqualValues(t, 0, LookupTemp(table, 0))
	assert.EqualValues(t, 500, LookupTemp(table, 500))
	assert.EqualValues(t, 1000, LookupTemp(table, 1000))
}

func TestLookupTempAscendingClampsOutOfRange(t *testing.T) {
	table := []TempPoint{{Raw: 100, Tenths: 200}, {Raw: 200, Tenths: 400}}
	assert.EqualValues(t, 200, LookupTemp(table, 0), "below the table's lowest Raw clamps to its Tenths")
	assert.EqualValues(t, 400, LookupTemp(table, 999), "above the table's highest Raw clamps to its Tenths")
}

func TestLookupTempDescendingInterpolates(t *testing.T) {
	// Thermistor-shaped table: raw ADC counts fall as temperature rises.
	table := []TempPoint{{Raw: 1000, Tenths: 0}, {Raw: 0, Tenths: 2000}}
	assert.EqualValues(t, 0, LookupTemp(table, 1000))
	assert.EqualValues(t, 1000, LookupTemp(table, 500))
	assert.EqualValues(t, 2000, LookupTemp(table, 0))
}

func TestLookupTempDescendingClampsOutOfRange(t *testing.T) {
	table := []TempPoint{{Raw: 900, Tenths: 100}, {Raw: 100, Tenths: 900}}
	assert.EqualValues(t, 100, LookupTemp(table, 1000), "above the table's highest Raw clamps to its lowest Tenths")
	assert.EqualValues(t, 900, LookupTemp(table, 0), "below the table's lowest Raw clamps to its highest Tenths")
}

func TestLookupTempEmptyTableReturnsZero(t *testing.T) {
	assert.EqualValues(t, 0, LookupTemp(nil, 500))
}

func TestPwmGroupTickLatchesAtPhaseZeroAndClearsWhenExceeded(t *testing.T) {
	g := &PwmGroup{}
	driver := newFakeGPIODriver()
	require.NoError(t, g.Configure(0, driver, 5, false))
	require.NoError(t, g.SetPower(0, 3))

	g.tick(0) // latches count[0]=3, isrCount(0) < count -> pin set
	assert.True(t, g.Pins[0].Read())

	g.tick(1)
	assert.True(t, g.Pins[0].Read())

	g.tick(2)
	assert.True(t, g.Pins[0].Read())

	g.tick(3) // isrCount == count -> cleared
	assert.False(t, g.Pins[0].Read())

	g.tick(4)
	assert.False(t, g.Pins[0].Read())
}

func TestPwmGroupTickAlwaysOnStaysSetAcrossFullPhase(t *testing.T) {
	g := &PwmGroup{}
	driver := newFakeGPIODriver()
	require.NoError(t, g.Configure(0, driver, 5, false))
	require.NoError(t, g.SetPower(0, AlwaysOnDuty))
	require.EqualValues(t, 128, g.Power[0])

	for isrCount := uint8(0); isrCount < 128; isrCount++ {
		g.tick(isrCount)
		require.True(t, g.Pins[0].Read(), "always-on duty must never clear the pin within the phase")
	}
}

func TestPwmGroupTickSkipsUnconfiguredDevices(t *testing.T) {
	g := &PwmGroup{}
	// No Configure call: Mask stays zero, so tick must not touch Pins[0]
	// (an unbound PortBit) at all.
	require.NotPanics(t, func() { g.tick(0) })
}

func TestSoftPWMFirePublishesReadingAfterFullOversampleSweep(t *testing.T) {
	s := &SoftPWM{}
	require.NoError(t, s.ConfigureSensor(0, 0, []TempPoint{{Raw: 0, Tenths: 0}, {Raw: 1000, Tenths: 1000}}))

	_, ready := s.ConsumeReadings()
	require.False(t, ready, "no reading should be available before any Fire calls")

	for i := 0; i < OversampleNR*MaxSensors+MaxSensors; i++ {
		s.Fire()
	}

	raws, ready := s.ConsumeReadings()
	require.True(t, ready, "a full oversample sweep across all sensor slots must publish a reading")
	_ = raws[0]

	_, readyAgain := s.ConsumeReadings()
	require.False(t, readyAgain, "ConsumeReadings must clear the ready flag once drained")
}

// TestSoftPWMFireAlternatesSetupAndSampleForEachSensor guards against
// selecting the sensor via sensorIndex % NumSensors (which, for 2-4
// configured sensors, makes the setup/sample phase parity pick the same
// sensor every tick instead of cycling through all of them - see
// temperature_ISR.cpp's temp_index/2). With two sensors on distinct
// pins, both must accumulate their own distinctly-valued samples once a
// full oversample sweep completes.
func TestSoftPWMFireAlternatesSetupAndSampleForEachSensor(t *testing.T) {
	prevSetup, prevSample := core.ADCSetup, core.ADCSample
	defer func() { core.ADCSetup, core.ADCSample = prevSetup, prevSample }()

	const pinA, pinB = uint32(10), uint32(20)
	const valA, valB = uint16(111), uint16(222)
	setupCalls := map[uint32]int{}
	core.ADCSetup = func(pin uint32) error {
		setupCalls[pin]++
		return nil
	}
	core.ADCSample = func(pin uint32) (uint16, bool) {
		switch pin {
		case pinA:
			return valA, true
		case pinB:
			return valB, true
		default:
			return 0, true
		}
	}

	s := &SoftPWM{}
	require.NoError(t, s.ConfigureSensor(0, pinA, []TempPoint{{Raw: 0, Tenths: 0}, {Raw: 10000, Tenths: 1000}}))
	require.NoError(t, s.ConfigureSensor(1, pinB, []TempPoint{{Raw: 0, Tenths: 0}, {Raw: 10000, Tenths: 1000}}))

	for i := 0; i < OversampleNR*8; i++ {
		s.Fire()
	}

	raws, ready := s.ConsumeReadings()
	require.True(t, ready)
	assert.EqualValues(t, OversampleNR*uint32(valA), raws[0], "sensor 0 must accumulate its own sampled value")
	assert.EqualValues(t, OversampleNR*uint32(valB), raws[1], "sensor 1 must accumulate its own sampled value, not sensor 0's")
	assert.Greater(t, setupCalls[pinA], 0, "sensor 0 must be prepared via ADCSetup")
	assert.Greater(t, setupCalls[pinB], 0, "sensor 1 must be prepared via ADCSetup")
}
