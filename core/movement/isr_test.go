package movement

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, driver *fakeGPIODriver) *Engine {
	t.Helper()
	e := NewEngine(4096)
	require.NoError(t, e.Axes.ConfigureAxis(0, driver, 1, 2, 3, false, false, false,
		4000, 1000, 20000, 0, 0))
	return e
}

func singleAxisMoveRequest(steps uint16, accel, decel uint16, nominalFrac, finalFrac uint8, positive bool) *LinearMoveRequest {
	return &LinearMoveRequest{
		AxisRefs:         []uint8{0},
		Directions:       []bool{positive},
		PrimaryAxisIndex: 0,
		NominalFrac:      nominalFrac,
		FinalFrac:        finalFrac,
		AccelCount:       accel,
		DecelCount:       decel,
		StepCounts:       []uint16{steps},
	}
}

// runToIdle drives RunOneFire until nothing is active, the queue is
// empty, and no delay is pending, bounding the loop at maxFires so a
// logic error shows up as a test failure rather than a hang.
func runToIdle(t *testing.T, e *Engine, maxFires int) {
	t.Helper()
	var now uint32
	for i := 0; i < maxFires; i++ {
		if e.active == nil && !e.delayActive && e.CurrentCount() == 0 {
			return
		}
		now += e.RunOneFire(now)
	}
	t.Fatalf("engine did not reach idle within %d fires", maxFires)
}

// TestEngineCompletesSingleAxisMove exercises a full enqueue-through-
// completion cycle: the ring buffer round-trips the compiled record, the
// Bresenham pump emits exactly one pulse per step for a 1:1 axis, and the
// completion bookkeeping (StepsExecuted, axis position) matches.
func TestEngineCompletesSingleAxisMove(t *testing.T) {
	driver := newFakeGPIODriver()
	e := newTestEngine(t, driver)

	req := singleAxisMoveRequest(100, 10, 10, 255, 0, true)
	_, err := e.EnqueueLinearMove(req)
	require.NoError(t, err)
	require.EqualValues(t, 1, e.CurrentCount())

	runToIdle(t, e, 500)

	require.Nil(t, e.active)
	require.EqualValues(t, 0, e.CurrentCount())
	require.EqualValues(t, 100, e.Axes.Runtime[0].StepsEmitted)
	require.EqualValues(t, 100, e.StepsExecuted())
}

// TestEngineEntrySpeedContinuity checks §4.4's "initial_rate <- previous
// move's final_rate": the moveState loaded for a move immediately after
// another one completes must start from exactly the step_rate the prior
// move finished at, not from zero or the record's own nominal rate.
func TestEngineEntrySpeedContinuity(t *testing.T) {
	driver := newFakeGPIODriver()
	e := newTestEngine(t, driver)

	first := singleAxisMoveRequest(100, 10, 10, 255, 128, true)
	_, err := e.EnqueueLinearMove(first)
	require.NoError(t, err)
	runToIdle(t, e, 500)

	exitRate := e.lastStepRate

	second := singleAxisMoveRequest(100, 10, 10, 255, 0, true)
	_, err = e.EnqueueLinearMove(second)
	require.NoError(t, err)

	// Load (but do not run) the second move, then inspect the moveState
	// beginMove just built.
	require.True(t, e.loadNextRecord(0))
	require.NotNil(t, e.active)
	require.Equal(t, exitRate, e.active.initialRate)
}

// TestEngineNonHomingEndstopHitStopsMachine checks §4.4's non-homing
// endstop response: a confirmed (two-sample-debounced) hit on a move
// without the homing bit asserts the global stop and abandons the move
// mid-flight, rather than continuing to step.
func TestEngineNonHomingEndstopHitStopsMachine(t *testing.T) {
	driver := newFakeGPIODriver()
	e := newTestEngine(t, driver)
	e.Axes.Config[0].MaxEndstops = 0x01
	require.NoError(t, e.Endstops.ConfigureEndstop(0, driver, 9, true))
	e.Endstops.EnableMask = 0x01

	req := singleAxisMoveRequest(100, 10, 10, 255, 0, true)
	_, err := e.EnqueueLinearMove(req)
	require.NoError(t, err)

	driver.set(9, true)

	now := e.RunOneFire(0) // fire 1: loads the move, samples (unconfirmed), steps once
	_ = now
	require.NotNil(t, e.active, "a single hit sample must not yet stop the move")
	require.EqualValues(t, 1, e.Axes.Runtime[0].StepsEmitted)

	e.RunOneFire(0) // fire 2: confirms the hit, stops before stepping further

	require.True(t, e.IsStopped())
	require.Nil(t, e.active)
	require.EqualValues(t, 1, e.Axes.Runtime[0].StepsEmitted)
	require.EqualValues(t, 1, e.EndstopHitCount())
}

// TestEngineQueueFullRejectsEnqueue checks that a ring too small for the
// compiled record's body reports a queue-full error rather than
// corrupting the ring or silently dropping the move.
func TestEngineQueueFullRejectsEnqueue(t *testing.T) {
	driver := newFakeGPIODriver()
	e := NewEngine(4)
	require.NoError(t, e.Axes.ConfigureAxis(0, driver, 1, 2, 3, false, false, false,
		4000, 1000, 20000, 0, 0))

	req := singleAxisMoveRequest(100, 10, 10, 255, 0, true)
	_, err := e.EnqueueLinearMove(req)
	require.Error(t, err)
	require.EqualValues(t, 0, e.CurrentCount())
}

// TestBresenhamEventDistributesStepsProportionally exercises the §4.4
// per-step Bresenham accumulator directly against a synthetic two-axis
// record, independent of the trapezoid speed dynamics: an axis with
// StepCount proportional to total_steps must emit exactly that many
// pulses over total_steps events.
func TestBresenhamEventDistributesStepsProportionally(t *testing.T) {
	driver := newFakeGPIODriver()
	e := NewEngine(64)
	require.NoError(t, e.Axes.ConfigureAxis(0, driver, 1, 2, 3, false, false, false, 4000, 1000, 20000, 0, 0))
	require.NoError(t, e.Axes.ConfigureAxis(1, driver, 4, 5, 6, false, false, false, 4000, 1000, 20000, 0, 0))

	const total = 8
	rec := &LinearMoveRecord{
		NumAxes:    2,
		TotalSteps: total,
	}
	rec.Axes[0] = AxisMove{AxisRef: 0, StepCount: total}
	rec.Axes[1] = AxisMove{AxisRef: 1, StepCount: 3}

	m := &moveState{rec: rec}
	e.Axes.Runtime[0].StepEventCounter = -int32(total) / 2
	e.Axes.Runtime[1].StepEventCounter = -int32(total) / 2

	for i := 0; i < total; i++ {
		e.bresenhamEvent(m)
	}

	require.EqualValues(t, total, e.Axes.Runtime[0].StepsEmitted)
	require.EqualValues(t, 3, e.Axes.Runtime[1].StepsEmitted)
}

// alwaysUnderrunThresholds guarantees underrunCondition's first branch
// (count < LowLevel && queuedTime < HighTime) fires regardless of the
// record's own block time or queue occupancy, for tests that want to
// force underrun avoidance on without depending on realistic queue depth.
var alwaysUnderrunThresholds = Thresholds{LowLevel: 1 << 20, HighTime: 1 << 60, LowTime: 1 << 60}

// TestEngineTightThresholdsEngageUnderrunOnEntry checks §4.6 scenario 3's
// entry condition: a move loaded while the queue is shallow enough to
// trip the underrun predicate starts directly in underrun mode rather
// than the normal phase-1 trapezoid.
func TestEngineTightThresholdsEngageUnderrunOnEntry(t *testing.T) {
	driver := newFakeGPIODriver()
	e := newTestEngine(t, driver)
	e.Thresholds = alwaysUnderrunThresholds

	req := singleAxisMoveRequest(200, 10, 10, 255, 0, true)
	_, err := e.EnqueueLinearMove(req)
	require.NoError(t, err)

	require.True(t, e.loadNextRecord(0))
	require.NotNil(t, e.active)
	require.True(t, e.active.underrunActive, "tight thresholds must engage underrun avoidance the moment the move is loaded")
}

// TestEngineCheckpointSuppressesUnderrunOnNextMove checks §4.2/§4.6
// scenario 4: a move immediately preceded by a checkpoint must not
// engage underrun avoidance even under thresholds that would otherwise
// trigger it on entry, since is_checkpoint_last marks the shallow queue
// as intentional rather than starved.
func TestEngineCheckpointSuppressesUnderrunOnNextMove(t *testing.T) {
	driver := newFakeGPIODriver()
	e := newTestEngine(t, driver)
	e.Thresholds = alwaysUnderrunThresholds

	req := singleAxisMoveRequest(200, 10, 10, 255, 0, true)
	_, err := e.EnqueueLinearMove(req)
	require.NoError(t, err)
	require.NoError(t, e.EnqueueCheckpoint())

	require.True(t, e.loadNextRecord(0))
	require.NotNil(t, e.active)
	require.False(t, e.active.underrunActive, "a checkpointed move must start in the normal trapezoid, not underrun mode")
	require.EqualValues(t, 1, e.active.phase)
}

// TestRunUnderrunControllerReshapesToPlateauThenHopsToFinalRate drives
// runUnderrunController directly against a hand-built moveState, the way
// TestBresenhamEventDistributesStepsProportionally bypasses the full
// trapezoid/timer dynamics: §4.6 scenario 3 says a move stuck in
// underrun mode decelerates to the underrun plateau (underrun_max_rate)
// and, as it nears the end of the block, hops down further to
// final_rate. UnderrunAccelRate is chosen as exactly 1<<24 so
// mulShift24(rate, t) == t, making the accel-formula arithmetic exact
// without needing to run the timer/ISR loop.
func TestRunUnderrunControllerReshapesToPlateauThenHopsToFinalRate(t *testing.T) {
	driver := newFakeGPIODriver()
	e := NewEngine(64)
	require.NoError(t, e.Axes.ConfigureAxis(0, driver, 1, 2, 3, false, false, false,
		4000, 1000, 1<<24, 0, 0))
	e.Thresholds = alwaysUnderrunThresholds

	rec := &LinearMoveRecord{
		NumAxes:                           1,
		TotalSteps:                        10000,
		NominalRate:                       4000,
		FinalRate:                         200,
		NominalBlockTime:                  100,
		StepsToFinalSpeedFromUnderrunRate: 5000,
	}
	rec.Axes[0] = AxisMove{AxisRef: 0, StepCount: 10000}

	m := &moveState{rec: rec, stepEventsRemaining: 10000, underrunActive: true, stepRate: 3000}

	// Call 1: stepRate (3000) is above underrun_max_rate (1000), so the
	// controller picks a deceleration target and latches the sign change -
	// the very first call only registers the direction, it doesn't yet
	// move step_rate (accel_time is still 0).
	e.runUnderrunController(m)
	require.EqualValues(t, 1, e.UnderrunEngagedCount())
	require.EqualValues(t, -1, m.accelSign)
	require.EqualValues(t, 3000, m.accelStartRate)
	require.EqualValues(t, 3000, m.stepRate, "the sign-change call must not itself move step_rate")
	require.False(t, m.isFinalRate)

	// Call 2: simulate 2000 ticks of accel_time elapsing (the caller's
	// job in stepPumpFire) with step_events_remaining still far from the
	// end - step_rate must ramp down and land exactly on the plateau.
	m.accelTime = 2000
	e.runUnderrunController(m)
	require.EqualValues(t, 1000, m.stepRate, "step_rate must reshape to the underrun plateau")
	require.False(t, m.isFinalRate)

	// Call 3: step_events_remaining drops to within
	// StepsToFinalSpeedFromUnderrunRate of the end, and enough further
	// accel_time has elapsed to walk step_rate down to final_rate exactly.
	m.stepEventsRemaining = 3000
	m.accelTime = 2800
	e.runUnderrunController(m)
	require.EqualValues(t, 200, m.stepRate, "nearing block end must hop step_rate down to final_rate")
	require.True(t, m.isFinalRate)
	require.EqualValues(t, 3, e.UnderrunEngagedCount())
}

// homingTwoAxisMoveRequest builds a homing move where axis 0 is primary
// and carries the endstop, and axis 1 has no endstop configured - used
// to check that a triggering endstop on one axis doesn't abort the
// other axis' motion.
func homingTwoAxisMoveRequest(steps uint16) *LinearMoveRequest {
	return &LinearMoveRequest{
		AxisRefs:         []uint8{0, 1},
		Directions:       []bool{true, true},
		PrimaryAxisIndex: 0,
		Homing:           true,
		NominalFrac:      255,
		FinalFrac:        0,
		AccelCount:       10,
		DecelCount:       10,
		StepCounts:       []uint16{steps, steps},
	}
}

// TestEngineHomingEndstopStopsOnlyTriggeringAxis checks §4.4 scenario 5:
// a confirmed homing-endstop hit on one axis zeroes only that axis'
// StepCount (so it stops contributing Bresenham pulses), while an axis
// with no endstop in its direction of travel keeps stepping until the
// move completes normally.
func TestEngineHomingEndstopStopsOnlyTriggeringAxis(t *testing.T) {
	driver := newFakeGPIODriver()
	e := NewEngine(4096)
	require.NoError(t, e.Axes.ConfigureAxis(0, driver, 1, 2, 3, false, false, false,
		4000, 1000, 20000, 0, 0x01))
	require.NoError(t, e.Axes.ConfigureAxis(1, driver, 4, 5, 6, false, false, false,
		4000, 1000, 20000, 0, 0))
	require.NoError(t, e.Endstops.ConfigureEndstop(0, driver, 9, true))
	e.Endstops.EnableMask = 0x01

	req := homingTwoAxisMoveRequest(100)
	_, err := e.EnqueueLinearMove(req)
	require.NoError(t, err)

	driver.set(9, true)

	runToIdle(t, e, 500)

	require.EqualValues(t, 1, e.Axes.Runtime[0].StepsEmitted,
		"the triggering axis must stop right after its hit is confirmed")
	require.EqualValues(t, 100, e.Axes.Runtime[1].StepsEmitted,
		"the axis with no endstop in its direction of travel must finish the move")
	require.EqualValues(t, 100, e.StepsExecuted())
	require.False(t, e.IsStopped(), "a homing stop on one axis must not assert the global stop")
}
