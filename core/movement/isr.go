package movement

// ALLOWED_SPEED_DIFF: the come-to-stop-and-flush predicate (§4.3) treats
// the machine as stopped once step_rate is within this many steps/s of
// zero, rather than demanding an exact zero (matching the original's
// ALLOWED_SPEED_DIFF).
const AllowedSpeedDiff = 4

// MaxRecordsPerEntry bounds how many back-to-back non-suspending records
// (instantaneous output/heater/enable/etc. commands) the dispatcher will
// consume in a single ISR entry before forcing a short reschedule, so
// serial-RX polling always gets a turn (§4.3).
const MaxRecordsPerEntry = 4

// ShortRescheduleTicks is the 50us "yield" reschedule used after
// MaxRecordsPerEntry back-to-back records.
const ShortRescheduleTicks = 100 // 50us @ 2MHz

// moveState is the ISR-private per-LinearMove execution state of §4.4.
type moveState struct {
	rec *LinearMoveRecord

	stepEventsRemaining uint16
	phase               uint8 // 1, 2, or 3

	stepRate     uint32
	stepLoops    uint8
	accelTime    uint32
	initialRate  uint32

	nominalRateTimer     uint32
	nominalRateStepLoops uint8

	// underrun controller state (§4.6)
	underrunActive bool
	accelSign      int8
	accelStartRate uint32
	hopStepsToEnd  uint32
	isFinalRate    bool
}

// Thresholds configures the underrun predicate (§4.6), one set per system.
type Thresholds struct {
	LowLevel uint32 // current_count
	HighLevel uint32
	LowTime  uint64 // queued_time, in microseconds
	HighTime uint64
}

// Engine owns every piece of live movement state: the axis/endstop
// tables, the ring buffer handles, the active record, and the
// underrun/stop flags. A single package-level *Engine is wired at boot
// (core/movement/movement.go), mirroring the teacher's gpioDriver/
// pwmDriver singleton pattern - ISRs on this class of target can't carry
// user data any other way.
type Engine struct {
	Axes     *AxisTable
	Endstops *EndstopTable

	producer *Producer
	consumer *Consumer

	Thresholds Thresholds

	SerialPoll func() // called at least once per ISR entry (§4.3)

	// Outputs and Heaters let dispatchInstantaneous apply
	// SetPwmOutput/SetBuzzer/SetHeaterTarget records to the soft-PWM
	// output group (a buzzer is just another PWM-output device) and the
	// heater bank those commands actually target; movement.go wires both
	// in at Init time. Both are nil-safe: a record dispatched before
	// wiring (or in a unit test with neither configured) is parsed and
	// silently dropped, same as SetOutputSwitch's device pool.
	Outputs *PwmGroup
	Heaters *HeaterBank

	active     *moveState
	delayUntil uint32
	delayActive bool

	isStopped              bool
	comeToStopAndFlushQueue bool

	// queued_microseconds_remaining / queued_steps_remaining (§4.6):
	// running totals across every record currently sitting in the ring
	// buffer plus the record in progress, maintained incrementally.
	queuedMicrosRemaining uint64
	queuedStepsRemaining  uint64

	// lastStepRate is the step_rate the previous move exited at - §4.4's
	// "initial_rate <- previous move's final_rate, left as the current
	// step_rate by the prior move's exit".
	lastStepRate uint32

	// stats (§12 of SPEC_FULL.md's supplemented-features query command)
	stepsExecuted        uint64
	underrunEngagedCount uint64
	endstopHitCount      uint64
}

// NewEngine builds an Engine around a freshly allocated ring buffer.
func NewEngine(ringSize int) *Engine {
	p, c := NewRing(ringSize)
	return &Engine{
		Axes:     &AxisTable{},
		Endstops: &EndstopTable{},
		producer: p,
		consumer: c,
	}
}

// Stop asserts the global is_stopped flag: the current move aborts at
// final speed 0 and the queue is drained (§5).
func (e *Engine) Stop() {
	e.isStopped = true
	e.producer.SetLastFinalSpeed(0)
	e.lastStepRate = 0
	e.flushNow()
}

// ComeToStopAndFlush asserts the softer stop: the current move
// decelerates through underrun avoidance to <= ALLOWED_SPEED_DIFF, then
// the queue drains (§5).
func (e *Engine) ComeToStopAndFlush() {
	e.comeToStopAndFlushQueue = true
}

// IsStopped reports the global stop flag.
func (e *Engine) IsStopped() bool { return e.isStopped }

// Resume clears the stop flags, acknowledging the stop condition.
func (e *Engine) Resume() {
	e.isStopped = false
	e.comeToStopAndFlushQueue = false
}

func (e *Engine) flushNow() {
	e.consumer.Flush()
	e.active = nil
	e.delayActive = false
	e.queuedMicrosRemaining = 0
	e.queuedStepsRemaining = 0
}

// Enqueue* wrappers add to the queued_microseconds_remaining/
// queued_steps_remaining running totals and reserve+commit a record body.

func (e *Engine) reserveAndCommit(body []byte) error {
	slot, ok := e.producer.Reserve(len(body))
	if !ok {
		return newError(ErrQueueFull, "queue full")
	}
	copy(slot, body)
	e.producer.Commit()
	return nil
}

// EnqueueLinearMove validates, compiles and enqueues req (ValidateAndCompile
// commits the record to the ring buffer), then updates the queued-totals
// the underrun predicate depends on.
func (e *Engine) EnqueueLinearMove(req *LinearMoveRequest) (*LinearMoveRecord, error) {
	rec, err := ValidateAndCompile(e.Axes, e.producer, req)
	if err != nil {
		return nil, err
	}
	e.queuedMicrosRemaining += uint64(rec.NominalBlockTime) * 100
	e.queuedStepsRemaining += uint64(rec.TotalSteps)
	return rec, nil
}

func (e *Engine) EnqueueCheckpoint() error { return Checkpoint(e.producer) }

func (e *Engine) EnqueueDelay(micros uint32) error {
	return e.reserveAndCommit(encodeDelay(&DelayRecord{Micros: micros}))
}

func (e *Engine) EnqueueSetOutputSwitch(r *SetOutputSwitchRecord) error {
	return e.reserveAndCommit(encodeSetOutputSwitch(r))
}

func (e *Engine) EnqueueSetPwmOutput(device, value uint8) error {
	return e.reserveAndCommit(encodeSetPwmOutput(&SetPwmOutputRecord{Device: device, Value: value}))
}

func (e *Engine) EnqueueSetBuzzer(device, value uint8) error {
	return e.reserveAndCommit(encodeSetBuzzer(&SetBuzzerRecord{Device: device, Value: value}))
}

func (e *Engine) EnqueueSetHeaterTarget(heater uint8, tenths int16) error {
	return e.reserveAndCommit(encodeSetHeaterTarget(&SetHeaterTargetRecord{Heater: heater, TargetTenths: tenths}))
}

func (e *Engine) EnqueueSetStepperEnable(stepper uint8, on bool) error {
	return e.reserveAndCommit(encodeSetStepperEnable(&SetStepperEnableRecord{Stepper: stepper, On: on}))
}

func (e *Engine) EnqueueSetEndstopEnable(maskToChange, newState uint8) error {
	return e.reserveAndCommit(encodeSetEndstopEnable(&SetEndstopEnableRecord{MaskToChange: maskToChange, NewState: newState}))
}

func (e *Engine) EnqueueSetActiveToolhead(toolhead uint8) error {
	return e.reserveAndCommit(encodeSetActiveToolhead(&SetActiveToolheadRecord{Toolhead: toolhead}))
}

// CurrentCount / QueueStats expose ring occupancy for the
// movement_get_stats query command (§12 of SPEC_FULL.md).
func (e *Engine) CurrentCount() int32 { return e.consumer.CurrentCount() }
func (e *Engine) AttemptedTotal() uint64 { return e.consumer.AttemptedTotal() }
func (e *Engine) StepsExecuted() uint64 { return e.stepsExecuted }
func (e *Engine) UnderrunEngagedCount() uint64 { return e.underrunEngagedCount }
func (e *Engine) EndstopHitCount() uint64 { return e.endstopHitCount }

// FreeSlots reports the ring buffer's remaining byte capacity, used for
// the Pacemaker enqueue response's remaining_slots field (§6).
func (e *Engine) FreeSlots() uint32 { return e.producer.Free() }

// IsCheckpointLast reports whether the most recently compiled/enqueued
// record was a bare checkpoint, per §4.2's checkpoint bookkeeping.
func (e *Engine) IsCheckpointLast() bool { return e.producer.IsCheckpointLast() }

// underrunCondition implements the §4.6 predicate. currentBlockTime is
// nominal_block_time_of_current: the NominalBlockTime of whichever
// record is presently occupying the ISR (the move about to be loaded,
// at move entry; the active move, during recalculation).
func (e *Engine) underrunCondition(currentBlockTime uint16) bool {
	if e.comeToStopAndFlushQueue {
		return true
	}
	if e.producer.IsCheckpointLast() {
		return false
	}
	queuedTime := e.queuedMicrosRemaining + uint64(currentBlockTime)*100
	count := uint32(e.consumer.CurrentCount())
	if count < e.Thresholds.LowLevel && queuedTime < e.Thresholds.HighTime {
		return true
	}
	if queuedTime < e.Thresholds.LowTime {
		return true
	}
	return false
}

// dispatchInstantaneous applies the effect of any non-suspending record
// (every tag except Delay and LinearMove, which loadNextRecord handles
// directly since they need more than one ISR fire to finish).
func (e *Engine) dispatchInstantaneous(tag RecordTag, body []byte) {
	switch tag {
	case TagSetOutputSwitch:
		r := decodeSetOutputSwitch(body)
		_ = r // device-pool wiring is an external collaborator (§1 out of scope);
		// the movement engine only needs to have correctly parsed and
		// dispatched the record, per the component boundary in spec.md §1.
	case TagSetPwmOutput:
		r := decodeSetPwmOutput(body)
		if e.Outputs != nil {
			e.Outputs.SetPower(r.Device, r.Value)
		}
	case TagSetBuzzer:
		r := decodeSetBuzzer(body)
		if e.Outputs != nil {
			e.Outputs.SetPower(r.Device, r.Value)
		}
	case TagSetHeaterTarget:
		r := decodeSetHeaterTarget(body)
		if e.Heaters != nil {
			e.Heaters.SetTarget(r.Heater, r.TargetTenths)
		}
	case TagSetStepperEnable:
		r := decodeSetStepperEnable(body)
		if r.Stepper == StepperAll {
			e.Axes.SetEnableAll(r.On)
		} else {
			e.Axes.SetEnable(r.Stepper, r.On)
		}
	case TagSetEndstopEnable:
		r := decodeSetEndstopEnable(body)
		e.Endstops.EnableMask = (e.Endstops.EnableMask &^ r.MaskToChange) | (r.NewState & r.MaskToChange)
	case TagSetActiveToolhead:
		decodeSetActiveToolhead(body)
	}
}

// loadNextRecord pops and dispatches records until something suspending
// is loaded (Delay or LinearMove) or the queue empties. Returns false if
// there is nothing active and the queue is empty.
func (e *Engine) loadNextRecord(now uint32) bool {
	if e.active != nil || e.delayActive {
		return true
	}
	for i := 0; i < MaxRecordsPerEntry; i++ {
		if e.SerialPoll != nil {
			e.SerialPoll()
		}
		if e.isStopped {
			e.flushNow()
			return false
		}
		if e.comeToStopAndFlushQueue {
			// The current move (if any) has already been decelerated to
			// a stop by the underrun controller; anything still queued
			// behind it is discarded rather than run (§5).
			e.flushNow()
			e.comeToStopAndFlushQueue = false
			return false
		}
		body, ok := e.consumer.Pop()
		if !ok {
			return false
		}
		tag := RecordTag(body[0])
		if tag == TagDelay {
			d := decodeDelay(body)
			e.delayActive = true
			e.delayUntil = now + d.Micros*2 // 2 ticks/us at the 2MHz base
			return true
		}
		if tag == TagLinearMove {
			rec := decodeLinearMove(body)
			e.beginMove(rec)
			return true
		}
		e.dispatchInstantaneous(tag, body)
	}
	return true
}

// beginMove sets up moveState for a newly loaded LinearMove (§4.4
// "On entering a new move").
func (e *Engine) beginMove(rec *LinearMoveRecord) {
	m := &moveState{rec: rec, stepEventsRemaining: rec.TotalSteps, phase: 1}
	m.initialRate = e.lastStepRate

	e.queuedMicrosRemaining -= min64(e.queuedMicrosRemaining, uint64(rec.NominalBlockTime)*100)
	e.queuedStepsRemaining -= min64(e.queuedStepsRemaining, uint64(rec.TotalSteps))

	m.nominalRateTimer, m.nominalRateStepLoops = RateToTimer(uint32(rec.NominalRate))

	if e.underrunCondition(rec.NominalBlockTime) {
		e.setupUnderrunMode(m)
	} else {
		m.stepRate = m.initialRate
		_, loops := RateToTimer(m.stepRate)
		m.accelTime = 0
		m.stepLoops = loops
	}

	for i := 0; i < int(rec.NumAxes); i++ {
		am := rec.Axes[i]
		positive := rec.Directions&(1<<uint(i)) != 0
		e.Axes.SetDirection(am.AxisRef, positive)
		if am.StepCount > 0 && !e.Axes.Runtime[am.AxisRef].Enabled {
			e.Axes.SetEnable(am.AxisRef, true)
		}
		e.Axes.Runtime[am.AxisRef].StepEventCounter = -int32(rec.TotalSteps) / 2
	}

	e.active = m
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxUint8(a, b uint8) uint8 {
	if a > b {
		return a
	}
	return b
}

// primaryAxisConfig returns the axis configuration of a move's primary
// axis, the one whose max_rate/underrun_rate govern the whole move (§4.2).
func (e *Engine) primaryAxisConfig(m *moveState) *AxisConfig {
	ref := m.rec.Axes[m.rec.PrimaryAxisIndex].AxisRef
	return &e.Axes.Config[ref]
}

// RunOneFire performs the work of a single movement-ISR entry: dispatch
// whatever's due, run one step-pump iteration if a LinearMove is active,
// or progress a Delay. Returns the number of ticks until the next fire
// should be scheduled.
func (e *Engine) RunOneFire(now uint32) uint32 {
	if e.SerialPoll != nil {
		e.SerialPoll()
	}

	if e.delayActive {
		if int32(now-e.delayUntil) >= 0 {
			e.delayActive = false
			if !e.loadNextRecord(now) {
				return IdleTimerTicks
			}
		} else {
			remainingUs := (e.delayUntil - now) / 2
			if remainingUs > 15000 {
				return 60000 // 30ms @ 2MHz
			}
			next := remainingUs * 2 * 2
			if next < 20 {
				next = 20
			}
			return next
		}
	}

	if e.active == nil {
		if !e.loadNextRecord(now) {
			return IdleTimerTicks
		}
		if e.active == nil {
			return ShortRescheduleTicks
		}
	}

	return e.stepPumpFire(now)
}

// stepPumpFire runs one ISR fire's worth of the Bresenham + trapezoid
// step pump for the currently active LinearMove (§4.4), including the
// once-per-entry endstop check (§4.4) and the underrun controller (§4.6).
func (e *Engine) stepPumpFire(now uint32) uint32 {
	m := e.active
	rec := m.rec

	if e.comeToStopAndFlushQueue && m.stepRate <= AllowedSpeedDiff {
		// Decelerated to (near) standstill: abandon the rest of this move
		// and drain everything queued behind it.
		e.stepsExecuted += uint64(rec.TotalSteps - m.stepEventsRemaining)
		e.lastStepRate = 0
		e.flushNow()
		e.comeToStopAndFlushQueue = false
		return IdleTimerTicks
	}

	if rec.EndstopsOfInterest != 0 {
		hits := e.Endstops.SampleAndDebounce(rec.EndstopsOfInterest)
		if hits != 0 {
			e.handleEndstopHits(m, hits)
			if e.active == nil {
				return IdleTimerTicks
			}
		}
	}

	loops := m.stepLoops
	if loops == 0 {
		loops = 1
	}
	for i := uint8(0); i < loops && m.stepEventsRemaining > 0; i++ {
		e.bresenhamEvent(m)
		m.stepEventsRemaining--
		if m.stepEventsRemaining == 0 {
			break
		}
	}

	if m.stepEventsRemaining == 0 {
		e.stepsExecuted += uint64(rec.TotalSteps)
		e.lastStepRate = m.stepRate
		e.active = nil
		if e.isStopped {
			return IdleTimerTicks
		}
		if !e.loadNextRecord(now) {
			return IdleTimerTicks
		}
		return ShortRescheduleTicks
	}

	e.recalculateSpeed(m)

	ticks, loops2 := RateToTimer(m.stepRate)
	m.stepLoops = loops2
	m.accelTime += ticks
	return ticks
}

// bresenhamEvent emits one Bresenham step event across every axis in the
// move (§4.4 "Per step").
func (e *Engine) bresenhamEvent(m *moveState) {
	rec := m.rec
	for i := 0; i < int(rec.NumAxes); i++ {
		am := &rec.Axes[i]
		rt := &e.Axes.Runtime[am.AxisRef]
		rt.StepEventCounter += int32(am.StepCount)
		if rt.StepEventCounter > 0 {
			e.Axes.Config[am.AxisRef].Step.Pulse()
			rt.StepEventCounter -= int32(rec.TotalSteps)
			rt.StepsEmitted++
		}
	}
}

// handleEndstopHits implements the §4.4 homing/non-homing endstop
// response.
func (e *Engine) handleEndstopHits(m *moveState, hits uint8) {
	e.endstopHitCount++
	rec := m.rec
	if !rec.HomingBit {
		e.isStopped = true
		m.rec.FinalRate = 0
		m.stepRate = 0
		e.lastStepRate = 0
		e.active = nil
		e.producer.SetLastFinalSpeed(0)
		return
	}
	stopped := 0
	for i := 0; i < int(rec.NumAxes); i++ {
		am := &rec.Axes[i]
		cfg := &e.Axes.Config[am.AxisRef]
		positive := rec.Directions&(1<<uint(i)) != 0
		mask := cfg.MinEndstops
		if positive {
			mask = cfg.MaxEndstops
		}
		if mask&hits != 0 {
			am.StepCount = 0
			stopped++
		} else if am.StepCount == 0 {
			stopped++
		}
	}
	e.Endstops.ClearHit(hits)
	if stopped >= int(rec.NumAxes) {
		e.stepsExecuted += uint64(rec.TotalSteps - m.stepEventsRemaining)
		e.lastStepRate = m.stepRate
		e.active = nil
	}
}

// setupUnderrunMode enters underrun-active mode for a move that's
// already found to need it the moment it's loaded (§4.4's "on entering a
// new move, otherwise enter/remain in underrun mode").
func (e *Engine) setupUnderrunMode(m *moveState) {
	m.stepRate = m.initialRate
	e.enterUnderrunActive(m)
	_, loops := RateToTimer(m.stepRate)
	m.stepLoops = loops
}

// enterUnderrunActive latches underrun_active and (re)seeds the shared
// accel-formula state, idempotently (§4.6 "State").
func (e *Engine) enterUnderrunActive(m *moveState) {
	if m.underrunActive {
		return
	}
	m.underrunActive = true
	m.accelSign = 0
	m.accelStartRate = m.stepRate
	m.accelTime = 0
	m.isFinalRate = false
	m.hopStepsToEnd = 0
}

// runUnderrunController implements the §4.6 per-ISR decision for a move
// currently in (or just entering) underrun-active mode.
func (e *Engine) runUnderrunController(m *moveState) {
	e.enterUnderrunActive(m)
	e.underrunEngagedCount++

	rec := m.rec
	cfg := e.primaryAxisConfig(m)
	underrunMaxRate := uint32(cfg.UnderrunMaxRate)
	nominalRate := uint32(rec.NominalRate)
	finalRate := uint32(rec.FinalRate)

	globalRemaining := e.queuedStepsRemaining + uint64(m.stepEventsRemaining)
	condition := e.underrunCondition(rec.NominalBlockTime)

	var target uint32
	switch {
	case !condition:
		// underrun_condition has just cleared.
		switch {
		case uint64(m.stepEventsRemaining) <= uint64(rec.StepsToFinalSpeedFromUnderrunRate):
			target = finalRate
		case m.stepEventsRemaining <= rec.StepsPhase3:
			target = finalRate
			if underrunMaxRate > target {
				target = underrunMaxRate
			}
		default:
			target = nominalRate
		}
		if m.stepRate == nominalRate {
			m.underrunActive = false
			m.isFinalRate = false
			m.hopStepsToEnd = 0
			return
		}
	case m.stepRate > underrunMaxRate:
		target = underrunMaxRate
	case globalRemaining <= uint64(cfg.StepsToStopFromUnderrun) || e.comeToStopAndFlushQueue:
		target = 0
		m.isFinalRate = true
	case uint64(m.stepEventsRemaining) <= uint64(rec.StepsToFinalSpeedFromUnderrunRate):
		target = finalRate
		if underrunMaxRate < target {
			target = underrunMaxRate
		}
		m.isFinalRate = true
	default:
		target = underrunMaxRate
	}

	// step 2: compare step_rate to target, update current_accel_sign.
	var newSign int8
	switch {
	case m.stepRate > target:
		newSign = -1
	case m.stepRate < target:
		newSign = 1
	}
	signChanged := newSign != m.accelSign
	if signChanged {
		if newSign == 0 {
			m.stepRate = target
		}
		m.accelSign = newSign
		m.accelTime = 0
		m.accelStartRate = m.stepRate
	}

	// step 3: hop corner case - accelerate the first half of the
	// remaining steps, decelerate the second, so the move lands on
	// final_rate exactly at block end instead of stalling mid-block.
	if m.isFinalRate && m.hopStepsToEnd == 0 &&
		uint32(m.stepEventsRemaining) > 2*uint32(maxUint8(m.stepLoops, 1)) {
		m.hopStepsToEnd = uint32(m.stepEventsRemaining) / 2
	}
	if m.hopStepsToEnd > 0 {
		hopSign := int8(-1)
		if uint32(m.stepEventsRemaining) <= m.hopStepsToEnd {
			hopSign = 1
		}
		if hopSign != m.accelSign {
			m.accelSign = hopSign
			m.accelTime = 0
			m.accelStartRate = m.stepRate
		}
	}

	// step 4: apply the shared fixed-point accel formula.
	delta := mulShift24(cfg.UnderrunAccelRate, m.accelTime)
	switch {
	case m.accelSign > 0:
		rate := m.accelStartRate + delta
		if rate > target {
			rate = target
		}
		m.stepRate = rate
	case m.accelSign < 0:
		var rate uint32
		if delta < m.accelStartRate {
			rate = m.accelStartRate - delta
		}
		if rate < target {
			rate = target
		}
		m.stepRate = rate
	default:
		m.stepRate = target
	}
}

// recalculateSpeed implements §4.4's phase 1/2/3 speed recompute, with
// the underrun controller (§4.6) taking over when active.
func (e *Engine) recalculateSpeed(m *moveState) {
	rec := m.rec

	if m.underrunActive || e.underrunCondition(rec.NominalBlockTime) {
		e.runUnderrunController(m)
		return
	}

	// Phase transitions fire when step_events_remaining crosses the
	// configured thresholds, counting down from total_steps to 0.
	switch {
	case m.stepEventsRemaining > rec.StepsPhase2:
		m.phase = 1
	case m.stepEventsRemaining > rec.StepsPhase3:
		if m.phase == 1 {
			m.accelTime = 0
		}
		m.phase = 2
	default:
		if m.phase == 2 || m.phase == 1 {
			m.accelTime = 0
		}
		m.phase = 3
	}

	switch m.phase {
	case 1:
		delta := mulShift24(rec.AccelerationRate, m.accelTime)
		rate := m.initialRate + delta
		if rate > uint32(rec.NominalRate) {
			rate = uint32(rec.NominalRate)
		}
		m.stepRate = rate
	case 2:
		m.stepRate = uint32(rec.NominalRate)
	case 3:
		delta := mulShift24(rec.DecelerationRate, m.accelTime)
		rate := uint32(rec.NominalRate)
		if delta < rate {
			rate -= delta
		} else {
			rate = 0
		}
		if rate < uint32(rec.FinalRate) {
			rate = uint32(rec.FinalRate)
		}
		m.stepRate = rate
	}
}

// mulShift24 replaces the original AVR MultiU24X24toH16 fixed-point
// multiply-shift macro (movement_ISR.h) with plain 64-bit arithmetic -
// there's no portable equivalent of the inline-assembly trick in Go, and
// a uint64 multiply is cheap on every target this module actually runs
// on.
func mulShift24(a, b uint32) uint32 {
	return uint32((uint64(a) * uint64(b)) >> 24)
}
