package pacemaker

import (
	"encoding/binary"
	"errors"

	"pacemakerfw/core/movement"
	"pacemakerfw/protocol"
)

// Engine is the subset of *movement.Engine a QUEUE_COMMAND_BLOCKS
// handler needs; declared as an interface so this package doesn't
// import movement's concrete Engine type into its handler signature
// and stays test-friendly against a fake.
type Engine interface {
	EnqueueLinearMove(req *movement.LinearMoveRequest) (*movement.LinearMoveRecord, error)
	EnqueueDelay(micros uint32) error
	EnqueueCheckpoint() error
	FreeSlots() uint32
	CurrentCount() int32
	AttemptedTotal() uint64
}

// HandleOrder is the OrderHandler for this core: it only understands
// QUEUE_COMMAND_BLOCKS (§6); any other order code comes back as an
// ORDER_SPECIFIC_ERROR with error_type=unknown_block.
func HandleOrder(engine Engine) OrderHandler {
	return func(order uint8, payload []byte, output protocol.OutputBuffer) {
		if order != OrderQueueCommandBlocks {
			writeError(output, order, ErrorUnknownBlock, 0, engine, "unknown order")
			return
		}
		if errType, blockIndex, err := processSubBlocks(engine, payload); err != nil {
			writeError(output, order, errType, blockIndex, engine, err.Error())
			return
		}
		writeSuccess(output, order, engine)
	}
}

// processSubBlocks walks a QUEUE_COMMAND_BLOCKS payload, applying every
// sub-block to engine in order and stopping at the first failure (each
// sub-block is validated independently per §6, but a burst aborts on its
// first bad block rather than best-effort skipping the rest). It never
// writes a response itself, so an ORDER_WRAPPER can recurse into it
// without producing more than the one response frame the enclosing order
// gets.
func processSubBlocks(engine Engine, payload []byte) (errType, blockIndex uint8, err error) {
	pos := 0
	for pos < len(payload) {
		if pos+2 > len(payload) {
			return ErrorMalformedBlock, blockIndex, errShortBlock
		}
		length := int(payload[pos])
		blockType := payload[pos+1]
		bodyStart := pos + 2
		bodyEnd := bodyStart + length
		if bodyEnd > len(payload) {
			return ErrorMalformedBlock, blockIndex, errShortBlock
		}
		body := payload[bodyStart:bodyEnd]

		var blockErr error
		switch blockType {
		case SubBlockLinearMove:
			var req *movement.LinearMoveRequest
			req, blockErr = decodeLinearMoveBody(body)
			if blockErr == nil {
				_, blockErr = engine.EnqueueLinearMove(req)
			}
		case SubBlockDelay:
			if len(body) < 4 {
				blockErr = errShortBlock
			} else {
				blockErr = engine.EnqueueDelay(binary.LittleEndian.Uint32(body))
			}
		case SubBlockMovementCheckpoint:
			blockErr = engine.EnqueueCheckpoint()
		case SubBlockOrderWrapper:
			// A nested simple order - this core only ever nests another
			// QUEUE_COMMAND_BLOCKS-shaped burst, so recurse on the same
			// sub-block parser rather than the frame-level dispatcher.
			if len(body) < 1 {
				blockErr = errShortBlock
			} else if body[0] == OrderQueueCommandBlocks {
				var nestedType, nestedIndex uint8
				nestedType, nestedIndex, blockErr = processSubBlocks(engine, body[1:])
				if blockErr != nil {
					return nestedType, nestedIndex, blockErr
				}
			} else {
				blockErr = errUnknownNestedOrder
			}
		default:
			return ErrorUnknownBlock, blockIndex, errors.New("unknown sub-block type")
		}

		if blockErr != nil {
			return ErrorInBlock, blockIndex, blockErr
		}

		pos = bodyEnd
		blockIndex++
	}
	return 0, 0, nil
}

func writeSuccess(output protocol.OutputBuffer, order uint8, engine Engine) {
	t := &Transport{output: output}
	t.EncodeFrame(order, func(out protocol.OutputBuffer) {
		putU16(out, uint16(engine.FreeSlots()))
		putU16(out, uint16(engine.CurrentCount()))
		putU16(out, uint16(engine.AttemptedTotal()))
	})
}

func writeError(output protocol.OutputBuffer, order uint8, errorType, blockIndex uint8, engine Engine, reason string) {
	t := &Transport{output: output}
	t.EncodeFrame(order, func(out protocol.OutputBuffer) {
		out.Output([]byte{errorType, blockIndex})
		putU16(out, uint16(engine.FreeSlots()))
		putU16(out, uint16(engine.CurrentCount()))
		putU16(out, uint16(engine.AttemptedTotal()))
		reasonBytes := []byte(reason)
		if len(reasonBytes) > 255 {
			reasonBytes = reasonBytes[:255]
		}
		out.Output([]byte{uint8(len(reasonBytes))})
		out.Output(reasonBytes)
	})
}

func putU16(out protocol.OutputBuffer, v uint16) {
	out.Output([]byte{uint8(v), uint8(v >> 8)})
}
