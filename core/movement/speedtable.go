package movement

// Movement ISR runs from a free-running counter at this base rate; ticks
// hereafter are 0.5us units (§4.3).
const TimerFreqTicks = 2000000

// MaxStepFrequency is the fastest sustained per-axis step rate the engine
// will schedule (§5: "up to 40 kHz (max step events/sec)").
const MaxStepFrequency = 40000

// IdleTimerTicks is the OCR value used when there's nothing to do
// (1ms @ 2MHz).
const IdleTimerTicks = 2000

// MinTimerTicks is the minimum timer interval rate_to_timer will ever
// return (50us @ 2MHz).
const MinTimerTicks = 100

// fastRegionStart is where the coarse interpolated table takes over from
// exact per-unit computation; below this, every integer rate is computed
// directly (the "slow region" of §4.4 naturally wants fine resolution
// since 1/rate changes fastest there).
const fastRegionStart = 1000
const fastRegionEnd = 10000
const fastRegionStep = 64

var fastTable []uint32

func init() {
	n := (fastRegionEnd-fastRegionStart)/fastRegionStep + 1
	fastTable = make([]uint32, n)
	for i := range fastTable {
		rate := uint32(fastRegionStart + i*fastRegionStep)
		fastTable[i] = exactTicks(rate)
	}
}

func exactTicks(rate uint32) uint32 {
	if rate == 0 {
		return IdleTimerTicks
	}
	ticks := TimerFreqTicks / rate
	if ticks > 2 {
		ticks -= 2 // the 2-tick minimum period offset (§4.4)
	}
	if ticks < MinTimerTicks {
		ticks = MinTimerTicks
	}
	return ticks
}

// ticksForSubRate maps an already step_loops-divided rate (<=10000) to a
// timer interval, using exact computation below fastRegionStart and a
// precomputed two-point-interpolated table above it.
func ticksForSubRate(rate uint32) uint32 {
	if rate == 0 {
		return IdleTimerTicks
	}
	if rate < fastRegionStart {
		return exactTicks(rate)
	}
	if rate > fastRegionEnd {
		rate = fastRegionEnd
	}
	idx := (rate - fastRegionStart) / fastRegionStep
	rem := (rate - fastRegionStart) % fastRegionStep
	if int(idx) >= len(fastTable)-1 || rem == 0 {
		if int(idx) >= len(fastTable) {
			idx = uint32(len(fastTable) - 1)
		}
		return fastTable[idx]
	}
	lo, hi := fastTable[idx], fastTable[idx+1]
	// lo > hi (ticks decrease as rate increases); linear interpolation.
	delta := int64(hi) - int64(lo)
	interp := int64(lo) + delta*int64(rem)/int64(fastRegionStep)
	return uint32(interp)
}

// RateToTimer implements the §4.4 "rate-to-timer mapping": clamps to
// MaxStepFrequency, picks step_loops from the magnitude of rate, divides
// rate down into the table's domain, and returns the timer interval plus
// the chosen step_loops multiplier.
func RateToTimer(rate uint32) (ticks uint32, stepLoops uint8) {
	if rate > MaxStepFrequency {
		rate = MaxStepFrequency
	}
	switch {
	case rate > 20000:
		stepLoops = 4
		rate /= 4
	case rate > 10000:
		stepLoops = 2
		rate /= 2
	default:
		stepLoops = 1
	}
	return ticksForSubRate(rate), stepLoops
}
