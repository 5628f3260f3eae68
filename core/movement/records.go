package movement

import "encoding/binary"

// RecordTag is the one-byte discriminant at the head of every QueueRecord
// variant stored in the ring buffer. Tag 0 is never used for a record: the
// ring buffer's own length byte of 0 already means "skip marker" (§4.1),
// so reserving tag 0 as well keeps the two envelopes from ever being
// confused if a caller mis-threads a raw byte slice.
type RecordTag uint8

const (
	_ RecordTag = iota
	TagDelay
	TagSetOutputSwitch
	TagSetPwmOutput
	TagSetBuzzer
	TagSetHeaterTarget
	TagSetStepperEnable
	TagSetEndstopEnable
	TagSetActiveToolhead
	TagLinearMove
)

// OutputState is the tri-state value a SetOutputSwitch entry can drive.
type OutputState uint8

const (
	OutputLow OutputState = iota
	OutputHigh
	OutputDisabled
)

// MaxAxesPerMove bounds how many axes a single LinearMove record can name;
// it matches MaxAxes (the axis table size), since a move can reference at
// most every configured axis.
const MaxAxesPerMove = MaxAxes

// AxisMove is one axis' contribution to a LinearMove record.
type AxisMove struct {
	AxisRef   uint8
	StepCount uint16
}

// LinearMoveRecord is the compiled, ready-to-execute record §4.5 describes.
// It is produced by the validator/compiler (validator.go) and consumed by
// the movement ISR's step pump (isr.go).
type LinearMoveRecord struct {
	NumAxes             uint8
	Directions          uint8 // bit i = axis at record position i, 1 = positive direction
	HomingBit           bool
	EndstopsOfInterest  uint8
	PrimaryAxisIndex    uint8
	TotalSteps          uint16
	StepsPhase2         uint16
	StepsPhase3         uint16
	NominalRate         uint16
	FinalRate           uint16
	AccelerationRate    uint32 // u24 range, stored widened
	DecelerationRate    uint32 // u24 range, stored widened
	NominalBlockTime    uint16
	StepsToFinalSpeedFromUnderrunRate uint16
	Axes                [MaxAxesPerMove]AxisMove
}

// DeviceBit is one {device number, state} entry of a SetOutputSwitch
// record.
type DeviceBit struct {
	DeviceNumber uint8
	State        OutputState
}

// SetOutputSwitchRecord sets 1..N digital output devices atomically as one
// dispatched record.
type SetOutputSwitchRecord struct {
	Entries []DeviceBit
}

type DelayRecord struct {
	Micros uint32
}

type SetPwmOutputRecord struct {
	Device uint8
	Value  uint8
}

type SetBuzzerRecord struct {
	Device uint8
	Value  uint8
}

type SetHeaterTargetRecord struct {
	Heater      uint8
	TargetTenths int16
}

// StepperAll is the sentinel stepper index meaning "every configured axis".
const StepperAll = 0xFF

type SetStepperEnableRecord struct {
	Stepper uint8 // or StepperAll
	On      bool
}

type SetEndstopEnableRecord struct {
	MaskToChange uint8
	NewState     uint8
}

type SetActiveToolheadRecord struct {
	Toolhead uint8
}

// encodeLinearMove packs a LinearMoveRecord into the record body (tag byte
// included) that is stored in the ring buffer. The byte layout here is an
// internal implementation detail - it need not and does not match the
// Pacemaker wire's linear-move body layout (§6), which is handled entirely
// by protocol/pacemaker before the validator ever runs.
func encodeLinearMove(m *LinearMoveRecord) []byte {
	n := int(m.NumAxes)
	buf := make([]byte, 24, 28+n*3)
	buf[0] = byte(TagLinearMove)
	buf[1] = m.NumAxes
	buf[2] = m.Directions
	homing := byte(0)
	if m.HomingBit {
		homing = 1
	}
	buf[3] = homing
	buf[4] = m.EndstopsOfInterest
	buf[5] = m.PrimaryAxisIndex
	binary.LittleEndian.PutUint16(buf[6:], m.TotalSteps)
	binary.LittleEndian.PutUint16(buf[8:], m.StepsPhase2)
	binary.LittleEndian.PutUint16(buf[10:], m.StepsPhase3)
	binary.LittleEndian.PutUint16(buf[12:], m.NominalRate)
	binary.LittleEndian.PutUint16(buf[14:], m.FinalRate)
	binary.LittleEndian.PutUint32(buf[16:], m.AccelerationRate)
	binary.LittleEndian.PutUint32(buf[20:], m.DecelerationRate)
	// grows past 24 bytes for the trailing fields + axis array below
	rest := make([]byte, 0, 4+n*3)
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], m.NominalBlockTime)
	rest = append(rest, tmp[:]...)
	binary.LittleEndian.PutUint16(tmp[:], m.StepsToFinalSpeedFromUnderrunRate)
	rest = append(rest, tmp[:]...)
	for i := 0; i < n; i++ {
		rest = append(rest, m.Axes[i].AxisRef)
		binary.LittleEndian.PutUint16(tmp[:], m.Axes[i].StepCount)
		rest = append(rest, tmp[:]...)
	}
	return append(buf, rest...)
}

// decodeLinearMove is the inverse of encodeLinearMove.
func decodeLinearMove(body []byte) *LinearMoveRecord {
	m := &LinearMoveRecord{}
	m.NumAxes = body[1]
	m.Directions = body[2]
	m.HomingBit = body[3] != 0
	m.EndstopsOfInterest = body[4]
	m.PrimaryAxisIndex = body[5]
	m.TotalSteps = binary.LittleEndian.Uint16(body[6:])
	m.StepsPhase2 = binary.LittleEndian.Uint16(body[8:])
	m.StepsPhase3 = binary.LittleEndian.Uint16(body[10:])
	m.NominalRate = binary.LittleEndian.Uint16(body[12:])
	m.FinalRate = binary.LittleEndian.Uint16(body[14:])
	m.AccelerationRate = binary.LittleEndian.Uint32(body[16:])
	m.DecelerationRate = binary.LittleEndian.Uint32(body[20:])
	off := 24
	m.NominalBlockTime = binary.LittleEndian.Uint16(body[off:])
	off += 2
	m.StepsToFinalSpeedFromUnderrunRate = binary.LittleEndian.Uint16(body[off:])
	off += 2
	for i := 0; i < int(m.NumAxes); i++ {
		m.Axes[i].AxisRef = body[off]
		m.Axes[i].StepCount = binary.LittleEndian.Uint16(body[off+1:])
		off += 3
	}
	return m
}

func encodeDelay(r *DelayRecord) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(TagDelay)
	binary.LittleEndian.PutUint32(buf[1:], r.Micros)
	return buf
}

func decodeDelay(body []byte) *DelayRecord {
	return &DelayRecord{Micros: binary.LittleEndian.Uint32(body[1:])}
}

func encodeSetOutputSwitch(r *SetOutputSwitchRecord) []byte {
	buf := make([]byte, 2+2*len(r.Entries))
	buf[0] = byte(TagSetOutputSwitch)
	buf[1] = uint8(len(r.Entries))
	for i, e := range r.Entries {
		buf[2+i*2] = e.DeviceNumber
		buf[2+i*2+1] = uint8(e.State)
	}
	return buf
}

func decodeSetOutputSwitch(body []byte) *SetOutputSwitchRecord {
	n := int(body[1])
	r := &SetOutputSwitchRecord{Entries: make([]DeviceBit, n)}
	for i := 0; i < n; i++ {
		r.Entries[i] = DeviceBit{
			DeviceNumber: body[2+i*2],
			State:        OutputState(body[2+i*2+1]),
		}
	}
	return r
}

func encodeSetPwmOutput(r *SetPwmOutputRecord) []byte {
	return []byte{byte(TagSetPwmOutput), r.Device, r.Value}
}

func decodeSetPwmOutput(body []byte) *SetPwmOutputRecord {
	return &SetPwmOutputRecord{Device: body[1], Value: body[2]}
}

func encodeSetBuzzer(r *SetBuzzerRecord) []byte {
	return []byte{byte(TagSetBuzzer), r.Device, r.Value}
}

func decodeSetBuzzer(body []byte) *SetBuzzerRecord {
	return &SetBuzzerRecord{Device: body[1], Value: body[2]}
}

func encodeSetHeaterTarget(r *SetHeaterTargetRecord) []byte {
	buf := make([]byte, 4)
	buf[0] = byte(TagSetHeaterTarget)
	buf[1] = r.Heater
	binary.LittleEndian.PutUint16(buf[2:], uint16(r.TargetTenths))
	return buf
}

func decodeSetHeaterTarget(body []byte) *SetHeaterTargetRecord {
	return &SetHeaterTargetRecord{
		Heater:       body[1],
		TargetTenths: int16(binary.LittleEndian.Uint16(body[2:])),
	}
}

func encodeSetStepperEnable(r *SetStepperEnableRecord) []byte {
	on := byte(0)
	if r.On {
		on = 1
	}
	return []byte{byte(TagSetStepperEnable), r.Stepper, on}
}

func decodeSetStepperEnable(body []byte) *SetStepperEnableRecord {
	return &SetStepperEnableRecord{Stepper: body[1], On: body[2] != 0}
}

func encodeSetEndstopEnable(r *SetEndstopEnableRecord) []byte {
	return []byte{byte(TagSetEndstopEnable), r.MaskToChange, r.NewState}
}

func decodeSetEndstopEnable(body []byte) *SetEndstopEnableRecord {
	return &SetEndstopEnableRecord{MaskToChange: body[1], NewState: body[2]}
}

func encodeSetActiveToolhead(r *SetActiveToolheadRecord) []byte {
	return []byte{byte(TagSetActiveToolhead), r.Toolhead}
}

func decodeSetActiveToolhead(body []byte) *SetActiveToolheadRecord {
	return &SetActiveToolheadRecord{Toolhead: body[1]}
}
