package movement

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateToTimerZeroRateIsIdle(t *testing.T) {
	ticks, loops := RateToTimer(0)
	assert.EqualValues(t, IdleTimerTicks, ticks)
	assert.EqualValues(t, 1, loops)
}

func TestRateToTimerClampsToMaxStepFrequency(t *testing.T) {
	ticksAtMax, loopsAtMax := RateToTimer(MaxStepFrequency)
	ticksOverMax, loopsOverMax := RateToTimer(MaxStepFrequency * 10)
	assert.Equal(t, ticksAtMax, ticksOverMax)
	assert.Equal(t, loopsAtMax, loopsOverMax)
}

func TestRateToTimerStepLoopsSelection(t *testing.T) {
	_, loops := RateToTimer(5000)
	assert.EqualValues(t, 1, loops)

	_, loops = RateToTimer(15000)
	assert.EqualValues(t, 2, loops)

	_, loops = RateToTimer(25000)
	assert.EqualValues(t, 4, loops)
}

// TestRateToTimerMonotonicDecreasing checks the trapezoid speed phases'
// core assumption: within a single step_loops region, a higher step rate
// always yields a timer interval no larger than a lower one, so accel/
// decel phases never fire slower as they speed up. step_loops itself
// changes the ticks/loops basis at its own boundaries (20000, 10000), so
// each region is checked independently rather than across the whole range.
func TestRateToTimerMonotonicDecreasing(t *testing.T) {
	regions := [][2]uint32{{1, 10000}, {10001, 20000}, {20001, MaxStepFrequency}}
	for _, region := range regions {
		var prev uint32 = ^uint32(0)
		var prevLoops uint8
		for rate := region[0]; rate <= region[1]; rate += 7 {
			ticks, loops := RateToTimer(rate)
			if prevLoops != 0 {
				assert.Equal(t, prevLoops, loops, "step_loops changed mid-region at rate %d", rate)
				assert.GreaterOrEqual(t, int(prev), int(ticks),
					"ticks rose from %d to %d going from a lower to a higher rate near %d", prev, ticks, rate)
			}
			prev, prevLoops = ticks, loops
		}
	}
}

func TestRateToTimerNeverBelowMinTimerTicks(t *testing.T) {
	for rate := uint32(1); rate <= MaxStepFrequency; rate += 37 {
		ticks, _ := RateToTimer(rate)
		assert.GreaterOrEqual(t, ticks, uint32(MinTimerTicks))
	}
}
