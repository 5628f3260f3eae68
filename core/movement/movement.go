package movement

import "pacemakerfw/core"

// CoreTicksPerMovementTick converts between the movement engine's own
// 2MHz "ticks" (§4.3, §4.4) and the teacher's core.Timer scheduler,
// which runs at core.TimerFreq (12MHz). The movement ISR's timing math
// is all derived from Minnow's original AVR timer base and is kept in
// its own domain rather than retrofitted onto the platform's generic
// millisecond-clock frequency; RunOneFire/the soft-PWM Fire both speak
// movement ticks, and this module's two core.Timer handlers are the only
// place the conversion happens.
const CoreTicksPerMovementTick = core.TimerFreq / TimerFreqTicks

// SoftPwmPeriodCoreTicks schedules ISR B at ~1kHz in core.Timer ticks.
const SoftPwmPeriodCoreTicks = core.TimerFreq / 1000

var (
	engine     *Engine
	softPWM    *SoftPWM
	heaters    *HeaterBank
	movementTimer *core.Timer
	softPwmTimer  *core.Timer
)

// Init allocates the movement engine, the soft-PWM/ADC sampler, and the
// heater bank, and schedules their two driving timers (§5's ISR A and
// ISR B). ringSize is the byte capacity of the command-record ring
// buffer (§4.1); it must be large enough for the deepest queue depth the
// host is configured to use.
func Init(ringSize int) {
	engine = NewEngine(ringSize)
	softPWM = &SoftPWM{}
	heaters = &HeaterBank{}
	engine.Outputs = &softPWM.Outputs
	engine.Heaters = heaters

	movementTimer = &core.Timer{Handler: movementHandler}
	movementTimer.WakeTime = core.GetTime() + IdleTimerTicks*CoreTicksPerMovementTick
	core.ScheduleTimer(movementTimer)

	softPwmTimer = &core.Timer{Handler: softPwmHandler}
	softPwmTimer.WakeTime = core.GetTime() + SoftPwmPeriodCoreTicks
	core.ScheduleTimer(softPwmTimer)
}

// GetEngine returns the package-level movement engine singleton, for
// wiring into the Pacemaker protocol handlers and config commands.
func GetEngine() *Engine { return engine }

// GetSoftPWM returns the package-level soft-PWM/ADC sampler singleton.
func GetSoftPWM() *SoftPWM { return softPWM }

// GetHeaters returns the package-level heater bank singleton.
func GetHeaters() *HeaterBank { return heaters }

func movementHandler(t *core.Timer) uint8 {
	nowMovement := core.GetTime() / CoreTicksPerMovementTick
	ticks := engine.RunOneFire(nowMovement)
	if ticks < 1 {
		ticks = 1
	}
	t.WakeTime = core.GetTime() + ticks*CoreTicksPerMovementTick
	return core.SF_RESCHEDULE
}

func softPwmHandler(t *core.Timer) uint8 {
	softPWM.Fire()
	t.WakeTime = core.GetTime() + SoftPwmPeriodCoreTicks
	return core.SF_RESCHEDULE
}

// Tick runs the main-loop-cadence portion of the movement subsystem: the
// heater control loop (§4.8). It belongs alongside core.ProcessTimers()
// in the target's main loop, not inside either timer ISR, matching
// §5's "the main loop ... runs the heater control loop".
func Tick() {
	heaters.RunHeaterCadence(softPWM, &softPWM.Heaters)
}
