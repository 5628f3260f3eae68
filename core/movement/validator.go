package movement

// LinearMoveRequest is the already wire-decoded form of a Pacemaker
// linear-move block (§6 describes the bit-packed wire layout; decoding
// that into this struct is protocol/pacemaker's job, not the validator's).
// Axes, Directions and StepCounts are parallel slices indexed by position
// within the move, not by axis id - AxisRefs[i] is the axis id at
// position i.
type LinearMoveRequest struct {
	AxisRefs         []uint8
	Directions       []bool // true = positive
	PrimaryAxisIndex uint8  // index into AxisRefs/Directions/StepCounts
	Homing           bool
	NominalFrac      uint8
	FinalFrac        uint8
	AccelCount       uint16
	DecelCount       uint16
	StepCounts       []uint16
}

// ValidateAndCompile validates req against axes and the queue's last
// exit speed, then compiles a ready-to-execute LinearMoveRecord and
// commits it to the ring buffer through p. On
// success it also advances last_enqueued_final_speed and clears
// is_checkpoint_last, exactly as §4.2 specifies. On failure no state is
// mutated.
func ValidateAndCompile(axes *AxisTable, p *Producer, req *LinearMoveRequest) (*LinearMoveRecord, error) {
	n := len(req.AxisRefs)

	if len(req.Directions) != n || len(req.StepCounts) != n {
		return nil, newError(ErrBadParameterFormat, "short length")
	}
	if n == 0 {
		return nil, newError(ErrBadParameterValue, "zero axes selected")
	}
	if n > MaxAxesPerMove {
		return nil, newError(ErrBadParameterValue, "too many axes")
	}
	for _, a := range req.AxisRefs {
		if !axes.IsInUse(a) {
			return nil, newError(ErrInvalidDeviceNumber, "unknown axis referenced")
		}
	}
	if int(req.PrimaryAxisIndex) >= n {
		return nil, newError(ErrBadParameterValue, "primary axis index out of range")
	}

	primaryAxis := req.AxisRefs[req.PrimaryAxisIndex]
	primaryCfg := &axes.Config[primaryAxis]
	if primaryCfg.MaxRate == 0 || primaryCfg.UnderrunMaxRate == 0 {
		return nil, newError(ErrConfig, "primary axis not configured with max_rate or underrun parameters")
	}

	nominalRate := uint32(primaryCfg.MaxRate) * uint32(req.NominalFrac) / 255
	finalRate := uint32(primaryCfg.MaxRate) * uint32(req.FinalFrac) / 255

	if nominalRate < finalRate {
		return nil, newError(ErrBadParameterValue, "nominal < final")
	}
	if nominalRate < uint32(p.LastFinalSpeed()) {
		return nil, newError(ErrBadParameterValue, "nominal < last_enqueued_final_speed")
	}
	if nominalRate == 0 {
		return nil, newError(ErrBadParameterValue, "nominal == 0")
	}

	primarySteps := uint32(req.StepCounts[req.PrimaryAxisIndex])
	if uint32(req.AccelCount)+uint32(req.DecelCount) > primarySteps {
		return nil, newError(ErrBadParameterValue, "accel+decel > primary-axis steps")
	}

	var totalSteps uint32
	for _, s := range req.StepCounts {
		if uint32(s) > totalSteps {
			totalSteps = uint32(s)
		}
	}

	scale := func(x uint32) uint32 {
		if primarySteps == totalSteps || primarySteps == 0 {
			return x
		}
		return x * totalSteps / primarySteps
	}

	accelSteps := scale(uint32(req.AccelCount))
	decelSteps := scale(uint32(req.DecelCount))
	if accelSteps > totalSteps {
		accelSteps = totalSteps
	}
	if decelSteps > totalSteps-accelSteps {
		decelSteps = totalSteps - accelSteps
	}
	stepsPhase2 := totalSteps - accelSteps
	stepsPhase3 := decelSteps

	entryRate := uint32(p.LastFinalSpeed())

	var accelerationRate uint32
	if accelSteps > 0 {
		accelerationRate = rateSquaredDelta(nominalRate, entryRate) / (2 * accelSteps)
	}
	var decelerationRate uint32
	if decelSteps > 0 {
		decelerationRate = rateSquaredDelta(nominalRate, finalRate) / (2 * decelSteps)
	}

	blockTime := phaseTimeHundredUs(accelSteps, entryRate, nominalRate) +
		phaseTimeHundredUs(stepsPhase2-stepsPhase3, nominalRate, nominalRate) +
		phaseTimeHundredUs(decelSteps, nominalRate, finalRate)
	if blockTime > 0xFFFF {
		blockTime = 0xFFFF
	}

	var endstopsOfInterest uint8
	var directions uint8
	for i := 0; i < n; i++ {
		axCfg := &axes.Config[req.AxisRefs[i]]
		if req.Directions[i] {
			directions |= 1 << uint(i)
			endstopsOfInterest |= axCfg.MaxEndstops
		} else {
			endstopsOfInterest |= axCfg.MinEndstops
		}
	}

	underrunRate := uint32(primaryCfg.UnderrunMaxRate)
	plateauRate := underrunRate
	if nominalRate < plateauRate {
		plateauRate = nominalRate
	}
	var stepsToFinalFromUnderrun uint32
	if plateauRate > finalRate && primaryCfg.UnderrunAccelRate > 0 {
		stepsToFinalFromUnderrun = rateSquaredDelta(plateauRate, finalRate) / (2 * primaryCfg.UnderrunAccelRate)
	}
	if stepsToFinalFromUnderrun > 0xFFFF {
		stepsToFinalFromUnderrun = 0xFFFF
	}

	rec := &LinearMoveRecord{
		NumAxes:                           uint8(n),
		Directions:                        directions,
		HomingBit:                         req.Homing,
		EndstopsOfInterest:                endstopsOfInterest,
		PrimaryAxisIndex:                  req.PrimaryAxisIndex,
		TotalSteps:                        uint16(totalSteps),
		StepsPhase2:                       uint16(stepsPhase2),
		StepsPhase3:                       uint16(stepsPhase3),
		NominalRate:                       uint16(nominalRate),
		FinalRate:                         uint16(finalRate),
		AccelerationRate:                  accelerationRate,
		DecelerationRate:                  decelerationRate,
		NominalBlockTime:                  uint16(blockTime),
		StepsToFinalSpeedFromUnderrunRate: uint16(stepsToFinalFromUnderrun),
	}
	for i := 0; i < n; i++ {
		rec.Axes[i] = AxisMove{AxisRef: req.AxisRefs[i], StepCount: req.StepCounts[i]}
	}

	body := encodeLinearMove(rec)
	slot, ok := p.Reserve(len(body))
	if !ok {
		return nil, newError(ErrQueueFull, "queue full")
	}
	copy(slot, body)
	p.Commit()

	p.SetLastFinalSpeed(uint16(finalRate))
	p.SetCheckpointLast(false)

	return rec, nil
}

// Checkpoint marks the end of the currently enqueued motion as
// intentional: is_checkpoint_last becomes true and underrun avoidance
// will not trigger on it. It is not itself enqueued as a record (§4.2).
// Per the open question resolved in spec.md §9: this always succeeds and
// never produces any other side effect.
func Checkpoint(p *Producer) error {
	p.SetCheckpointLast(true)
	return nil
}

// rateSquaredDelta computes a²-b² in the unsigned domain used throughout
// (rates are always non-negative steps/s values that fit well within
// uint32 range for the squares involved).
func rateSquaredDelta(a, b uint32) uint32 {
	if a <= b {
		return 0
	}
	return a*a - b*b
}

// phaseTimeHundredUs estimates a trapezoid phase's duration in 100us
// units from its step count and the rates bounding it, using the
// constant-average-velocity approximation (steps / avg_rate).
func phaseTimeHundredUs(steps uint32, rateLow, rateHigh uint32) uint32 {
	if steps == 0 {
		return 0
	}
	avg := (rateLow + rateHigh) / 2
	if avg == 0 {
		avg = 1
	}
	return uint32(uint64(steps) * 10000 / uint64(avg))
}
