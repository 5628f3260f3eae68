package pacemaker

import (
	"encoding/binary"
	"errors"
	"math/bits"

	"pacemakerfw/core/movement"
)

var (
	errShortBlock         = errors.New("sub-block body too short")
	errUnknownNestedOrder = errors.New("unsupported nested order in ORDER_WRAPPER")
)

// decodeLinearMoveBody unpacks a LINEAR_MOVE sub-block body (§6) into a
// movement.LinearMoveRequest. The bit-packing is under-specified by the
// prose spec beyond "axis-mask / direction-mask / control byte / fracs /
// accel+decel counts / per-axis step counts"; the concrete field widths
// and ordering below are this package's resolution of that ambiguity,
// chosen to mirror how the rest of the wire format treats its "long
// form" flags (a high control bit in the first byte of a two-purpose
// field selects the wider encoding for everything that field governs).
func decodeLinearMoveBody(body []byte) (*movement.LinearMoveRequest, error) {
	if len(body) < 1 {
		return nil, errShortBlock
	}
	pos := 0

	axisMask0 := body[pos]
	longAxisForm := axisMask0&0x80 != 0
	axisBits := uint16(axisMask0 & 0x7F)
	pos++
	if longAxisForm {
		if len(body) <= pos {
			return nil, errShortBlock
		}
		axisBits |= uint16(body[pos]) << 7
		pos++
	}

	if len(body) <= pos {
		return nil, errShortBlock
	}
	dirMask0 := body[pos]
	longStepCounts := dirMask0&0x80 != 0
	dirBits := uint16(dirMask0 & 0x7F)
	pos++
	if longAxisForm {
		if len(body) <= pos {
			return nil, errShortBlock
		}
		dirBits |= uint16(body[pos]) << 7
		pos++
	}

	n := bits.OnesCount16(axisBits)
	if n == 0 {
		return nil, errors.New("zero axes in linear-move bit mask")
	}

	req := &movement.LinearMoveRequest{
		AxisRefs:   make([]uint8, 0, n),
		Directions: make([]bool, 0, n),
		StepCounts: make([]uint16, n),
	}
	for axis := uint8(0); axis < 16; axis++ {
		if axisBits&(1<<axis) == 0 {
			continue
		}
		req.AxisRefs = append(req.AxisRefs, axis)
		req.Directions = append(req.Directions, dirBits&(1<<axis) != 0)
	}

	if len(body) <= pos {
		return nil, errShortBlock
	}
	control := body[pos]
	pos++
	primaryPos := control & 0x0F
	if int(primaryPos) >= n {
		return nil, errors.New("primary axis position out of range")
	}
	req.PrimaryAxisIndex = primaryPos
	req.Homing = control&0x10 != 0

	if len(body) < pos+2 {
		return nil, errShortBlock
	}
	req.NominalFrac = body[pos]
	req.FinalFrac = body[pos+1]
	pos += 2

	readCount := func() (uint16, error) {
		if longStepCounts {
			if len(body) < pos+2 {
				return 0, errShortBlock
			}
			v := binary.LittleEndian.Uint16(body[pos:])
			pos += 2
			return v, nil
		}
		if len(body) < pos+1 {
			return 0, errShortBlock
		}
		v := uint16(body[pos])
		pos++
		return v, nil
	}

	accel, err := readCount()
	if err != nil {
		return nil, err
	}
	decel, err := readCount()
	if err != nil {
		return nil, err
	}
	req.AccelCount = accel
	req.DecelCount = decel

	for i := 0; i < n; i++ {
		v, err := readCount()
		if err != nil {
			return nil, err
		}
		req.StepCounts[i] = v
	}

	return req, nil
}
