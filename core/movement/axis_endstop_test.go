package movement

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigureAxisBindsPortsAndComputesStopDistance(t *testing.T) {
	driver := newFakeGPIODriver()
	axes := &AxisTable{}

	err := axes.ConfigureAxis(0, driver, 1, 2, 3, false, false, false,
		4000, 1000, 20000, 0x01, 0x02)
	require.NoError(t, err)
	require.True(t, axes.IsInUse(0))

	cfg := axes.Config[0]
	require.True(t, cfg.Enable.Bound())
	require.True(t, cfg.Dir.Bound())
	require.True(t, cfg.Step.Bound())
	// steps_to_stop_from_underrun_rate = underrun_max_rate^2 / (2*underrun_accel_rate)
	require.EqualValues(t, (1000*1000)/(2*20000), cfg.StepsToStopFromUnderrun)
}

func TestConfigureAxisRejectsOutOfRangeIndex(t *testing.T) {
	driver := newFakeGPIODriver()
	axes := &AxisTable{}
	err := axes.ConfigureAxis(MaxAxes, driver, 1, 2, 3, false, false, false, 1, 1, 1, 0, 0)
	require.Error(t, err)
}

func TestAxisSetEnableSkipsRedundantWrites(t *testing.T) {
	driver := newFakeGPIODriver()
	axes := &AxisTable{}
	require.NoError(t, axes.ConfigureAxis(0, driver, 1, 2, 3, false, false, false, 1000, 500, 1000, 0, 0))

	axes.SetEnable(0, true)
	require.True(t, axes.Runtime[0].Enabled)
	require.True(t, driver.state[1])

	// Flip the pin behind the table's back to prove a redundant SetEnable
	// call really is a no-op rather than happening to agree.
	driver.set(1, false)
	axes.SetEnable(0, true)
	require.False(t, driver.state[1], "SetEnable(true) while latched true must not rewrite the pin")

	axes.SetEnable(0, false)
	require.False(t, driver.state[1])
	require.False(t, axes.Runtime[0].Enabled)
}

func TestAxisSetDirectionSkipsRedundantWrites(t *testing.T) {
	driver := newFakeGPIODriver()
	axes := &AxisTable{}
	require.NoError(t, axes.ConfigureAxis(0, driver, 1, 2, 3, false, false, false, 1000, 500, 1000, 0, 0))

	axes.SetDirection(0, true)
	require.True(t, driver.state[2])

	driver.set(2, false)
	axes.SetDirection(0, true)
	require.False(t, driver.state[2], "SetDirection with an unchanged direction must not rewrite the pin")

	axes.SetDirection(0, false)
	require.False(t, driver.state[2])
}

func TestEndstopDebounceRequiresTwoConsecutiveSamples(t *testing.T) {
	driver := newFakeGPIODriver()
	endstops := &EndstopTable{}
	require.NoError(t, endstops.ConfigureEndstop(0, driver, 5, true))
	endstops.EnableMask = 0x01

	driver.set(5, true)
	hits := endstops.SampleAndDebounce(0x01)
	require.Zero(t, hits, "a single sample must not yet confirm a hit")

	hits = endstops.SampleAndDebounce(0x01)
	require.EqualValues(t, 0x01, hits, "two consecutive hit samples must confirm the hit")
	require.EqualValues(t, 0x01, endstops.HitMask)
}

func TestEndstopDebounceResetsOnDroppedSample(t *testing.T) {
	driver := newFakeGPIODriver()
	endstops := &EndstopTable{}
	require.NoError(t, endstops.ConfigureEndstop(0, driver, 5, true))
	endstops.EnableMask = 0x01

	driver.set(5, true)
	endstops.SampleAndDebounce(0x01)
	driver.set(5, false)
	hits := endstops.SampleAndDebounce(0x01)
	require.Zero(t, hits)

	driver.set(5, true)
	hits = endstops.SampleAndDebounce(0x01)
	require.Zero(t, hits, "a hit sample right after a dropped sample must not confirm immediately")
}

func TestEndstopClearHit(t *testing.T) {
	endstops := &EndstopTable{HitMask: 0x03}
	endstops.ClearHit(0x01)
	require.EqualValues(t, 0x02, endstops.HitMask)
}
