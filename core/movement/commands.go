//go:build tinygo

package movement

// Klipper-style command registration for the movement engine's slow
// control-plane operations (axis/endstop/heater configuration, queue
// stats, position/clock queries). The high-throughput move traffic
// (LINEAR_MOVE, DELAY, checkpoints inside a QUEUE_COMMAND_BLOCKS burst)
// goes over protocol/pacemaker's own ORDER-dispatched wire format
// instead - these commands exist so the host's debug/dictionary tooling
// can configure and introspect the engine the same way it does every
// other oid-addressed device, mirroring core/gpio.go's and
// core/adc.go's RegisterCommand pattern. Build-tagged the same way
// core/commands.go is, since it depends on core.SendResponse, which is
// itself tinygo-only in this tree.

import (
	"pacemakerfw/core"
	"pacemakerfw/protocol"
)

// InitMovementCommands registers every movement-engine control command.
// Call once at boot, after Init has allocated the package singletons.
func InitMovementCommands() {
	core.RegisterCommand("config_axis",
		"axis=%c enable_pin=%u dir_pin=%u step_pin=%u invert=%c max_rate=%u underrun_max_rate=%u underrun_accel_rate=%u min_endstops=%c max_endstops=%c",
		handleConfigAxis)
	core.RegisterCommand("config_endstop",
		"endstop=%c pin=%u trigger_high=%c",
		handleConfigEndstop)
	core.RegisterCommand("config_heater",
		"heater=%c device=%c sensor=%c mode=%c hysteresis=%i power_on_level=%c max_temp_tenths=%i"+
			" pid_p=%i pid_i=%i pid_d=%i pid_k1=%i pid_functional_range=%i max_pid_power_level=%c",
		handleConfigHeater)
	core.RegisterCommand("config_movement_queue",
		"ring_size=%u low_level=%u high_level=%u low_time=%u high_time=%u",
		handleConfigMovementQueue)
	core.RegisterCommand("movement_checkpoint", "", handleMovementCheckpoint)
	core.RegisterCommand("movement_get_stats", "", handleMovementGetStats)
	core.RegisterCommand("movement_get_position", "axis=%c", handleMovementGetPosition)
	core.RegisterCommand("movement_reset_clock", "clock=%u", handleMovementResetClock)
	core.RegisterResponse("movement_stats",
		"current_count=%u attempted_total=%u steps_executed=%u underrun_engaged=%u endstop_hits=%u")
	core.RegisterResponse("movement_position", "axis=%c steps=%u")
}

func handleConfigAxis(data *[]byte) error {
	axis, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	enablePin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	dirPin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	stepPin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	invertBits, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	maxRate, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	underrunMaxRate, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	underrunAccelRate, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	minEndstops, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	maxEndstops, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	driver := core.MustGPIO()
	return GetEngine().Axes.ConfigureAxis(uint8(axis), driver,
		core.GPIOPin(enablePin), core.GPIOPin(dirPin), core.GPIOPin(stepPin),
		invertBits&1 != 0, invertBits&2 != 0, invertBits&4 != 0,
		uint16(maxRate), uint16(underrunMaxRate), underrunAccelRate,
		uint8(minEndstops), uint8(maxEndstops))
}

func handleConfigEndstop(data *[]byte) error {
	endstop, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	pin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	triggerHigh, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	driver := core.MustGPIO()
	return GetEngine().Endstops.ConfigureEndstop(uint8(endstop), driver, core.GPIOPin(pin), triggerHigh != 0)
}

func handleConfigHeater(data *[]byte) error {
	heater, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	device, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	sensor, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	mode, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	hysteresis, err := protocol.DecodeVLQInt(data)
	if err != nil {
		return err
	}
	powerOnLevel, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	maxTempTenths, err := protocol.DecodeVLQInt(data)
	if err != nil {
		return err
	}
	// PID gains travel the wire as fixed-point values scaled by
	// PIDGainScale, since the VLQ codec only carries integers; runPID
	// works entirely in float64 once decoded.
	pidP, err := protocol.DecodeVLQInt(data)
	if err != nil {
		return err
	}
	pidI, err := protocol.DecodeVLQInt(data)
	if err != nil {
		return err
	}
	pidD, err := protocol.DecodeVLQInt(data)
	if err != nil {
		return err
	}
	pidK1, err := protocol.DecodeVLQInt(data)
	if err != nil {
		return err
	}
	functionalRange, err := protocol.DecodeVLQInt(data)
	if err != nil {
		return err
	}
	maxPidPowerLevel, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	return GetHeaters().Configure(uint8(heater), Heater{
		Mode:          HeaterMode(mode),
		Sensor:        uint8(sensor),
		Device:        uint8(device),
		Hysteresis:    int16(hysteresis),
		PowerOnLevel:  uint8(powerOnLevel),
		MaxTempTenths: int16(maxTempTenths),
		PID: PIDParams{
			P:               float64(pidP) / PIDGainScale,
			I:               float64(pidI) / PIDGainScale,
			D:               float64(pidD) / PIDGainScale,
			K1:              float64(pidK1) / PIDGainScale,
			FunctionalRange: int16(functionalRange),
		},
		AdvancedMaxPidPowerLevel: uint8(maxPidPowerLevel),
	})
}

func handleConfigMovementQueue(data *[]byte) error {
	ringSize, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	lowLevel, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	highLevel, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	lowTime, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	highTime, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	if ringSize > 0 {
		Init(int(ringSize))
	}
	GetEngine().Thresholds = Thresholds{
		LowLevel:  lowLevel,
		HighLevel: highLevel,
		LowTime:   uint64(lowTime),
		HighTime:  uint64(highTime),
	}
	return nil
}

func handleMovementCheckpoint(data *[]byte) error {
	return GetEngine().EnqueueCheckpoint()
}

func handleMovementGetStats(data *[]byte) error {
	e := GetEngine()
	core.SendResponse("movement_stats", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(e.CurrentCount()))
		protocol.EncodeVLQUint(output, uint32(e.AttemptedTotal()))
		protocol.EncodeVLQUint(output, uint32(e.StepsExecuted()))
		protocol.EncodeVLQUint(output, uint32(e.UnderrunEngagedCount()))
		protocol.EncodeVLQUint(output, uint32(e.EndstopHitCount()))
	})
	return nil
}

func handleMovementGetPosition(data *[]byte) error {
	axis, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	e := GetEngine()
	if !e.Axes.IsInUse(uint8(axis)) {
		return newError(ErrInvalidDeviceNumber, "axis not configured")
	}
	steps := e.Axes.Runtime[axis].StepsEmitted
	core.SendResponse("movement_position", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, axis)
		protocol.EncodeVLQUint(output, steps)
	})
	return nil
}

func handleMovementResetClock(data *[]byte) error {
	clock, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	core.SetTime(clock)
	return nil
}
