package pacemaker

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"pacemakerfw/core/movement"
	"pacemakerfw/protocol"
)

// fakeEngine is a pacemaker.Engine test double that records every call
// without touching a real ring buffer, so HandleOrder's sub-block walk
// and response framing can be tested in isolation.
type fakeEngine struct {
	delays      []uint32
	moves       []*movement.LinearMoveRequest
	checkpoints int
	failDelay   bool

	freeSlots     uint32
	currentCount  int32
	attemptedTotal uint64
}

func (f *fakeEngine) EnqueueLinearMove(req *movement.LinearMoveRequest) (*movement.LinearMoveRecord, error) {
	f.moves = append(f.moves, req)
	return &movement.LinearMoveRecord{}, nil
}

func (f *fakeEngine) EnqueueDelay(micros uint32) error {
	if f.failDelay {
		return errShortBlock
	}
	f.delays = append(f.delays, micros)
	return nil
}

func (f *fakeEngine) EnqueueCheckpoint() error {
	f.checkpoints++
	return nil
}

func (f *fakeEngine) FreeSlots() uint32      { return f.freeSlots }
func (f *fakeEngine) CurrentCount() int32    { return f.currentCount }
func (f *fakeEngine) AttemptedTotal() uint64 { return f.attemptedTotal }

func delaySubBlock(micros uint32) []byte {
	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body, micros)
	return append([]byte{byte(len(body)), SubBlockDelay}, body...)
}

func checkpointSubBlock() []byte {
	return []byte{0, SubBlockMovementCheckpoint}
}

func TestHandleOrderUnknownOrderReportsUnknownBlock(t *testing.T) {
	engine := &fakeEngine{}
	out := protocol.NewScratchOutput()
	HandleOrder(engine)(0x99, nil, out)

	result := out.Result()
	require.EqualValues(t, SyncResponse, result[0])
	require.EqualValues(t, 0x99, result[1])
	require.EqualValues(t, ErrorUnknownBlock, result[FrameHeaderSize])
}

func TestHandleOrderSingleDelayBlockSucceeds(t *testing.T) {
	engine := &fakeEngine{freeSlots: 10, currentCount: 1, attemptedTotal: 5}
	out := protocol.NewScratchOutput()

	payload := delaySubBlock(1500)
	HandleOrder(engine)(OrderQueueCommandBlocks, payload, out)

	require.Equal(t, []uint32{1500}, engine.delays)

	result := out.Result()
	require.Len(t, result, FrameHeaderSize+6+FrameTrailerSize)
	require.EqualValues(t, SyncResponse, result[0])
	require.EqualValues(t, OrderQueueCommandBlocks, result[1])
	freeSlots := binary.LittleEndian.Uint16(result[FrameHeaderSize:])
	currentCount := binary.LittleEndian.Uint16(result[FrameHeaderSize+2:])
	total := binary.LittleEndian.Uint16(result[FrameHeaderSize+4:])
	require.EqualValues(t, 10, freeSlots)
	require.EqualValues(t, 1, currentCount)
	require.EqualValues(t, 5, total)
}

func TestHandleOrderMalformedBlockReportsMalformed(t *testing.T) {
	engine := &fakeEngine{}
	out := protocol.NewScratchOutput()

	// length byte claims 10 bytes of body but none follow.
	payload := []byte{10, SubBlockDelay}
	HandleOrder(engine)(OrderQueueCommandBlocks, payload, out)

	result := out.Result()
	require.EqualValues(t, ErrorMalformedBlock, result[FrameHeaderSize])
}

func TestHandleOrderBlockFailureReportsErrorInBlock(t *testing.T) {
	engine := &fakeEngine{failDelay: true}
	out := protocol.NewScratchOutput()

	payload := delaySubBlock(100)
	HandleOrder(engine)(OrderQueueCommandBlocks, payload, out)

	result := out.Result()
	require.EqualValues(t, ErrorInBlock, result[FrameHeaderSize])
	require.EqualValues(t, 0, result[FrameHeaderSize+1], "block_index of the first (and only) sub-block")
}

func TestHandleOrderUnknownSubBlockTypeReportsUnknownBlock(t *testing.T) {
	engine := &fakeEngine{}
	out := protocol.NewScratchOutput()

	payload := []byte{0, 0xEE} // zero-length body, bogus sub-block type
	HandleOrder(engine)(OrderQueueCommandBlocks, payload, out)

	result := out.Result()
	require.EqualValues(t, ErrorUnknownBlock, result[FrameHeaderSize])
}

// TestHandleOrderOrderWrapperProducesExactlyOneResponseFrame guards
// against the double-response-frame bug where a nested ORDER_WRAPPER
// sub-block (itself another QUEUE_COMMAND_BLOCKS burst) used to cause a
// second response to be written for the same top-level order.
func TestHandleOrderOrderWrapperProducesExactlyOneResponseFrame(t *testing.T) {
	engine := &fakeEngine{}
	out := protocol.NewScratchOutput()

	nested := append(checkpointSubBlock(), delaySubBlock(250)...)
	wrapperBody := append([]byte{OrderQueueCommandBlocks}, nested...)
	wrapper := append([]byte{byte(len(wrapperBody)), SubBlockOrderWrapper}, wrapperBody...)

	payload := append(delaySubBlock(10), wrapper...)
	HandleOrder(engine)(OrderQueueCommandBlocks, payload, out)

	require.Equal(t, 1, engine.checkpoints)
	require.Equal(t, []uint32{10, 250}, engine.delays)

	result := out.Result()
	require.Len(t, result, FrameHeaderSize+6+FrameTrailerSize,
		"exactly one success frame must be written regardless of ORDER_WRAPPER nesting depth")
	require.EqualValues(t, SyncResponse, result[0])
}

func TestHandleOrderLinearMoveSubBlockEnqueuesMove(t *testing.T) {
	engine := &fakeEngine{}
	out := protocol.NewScratchOutput()

	moveBody := []byte{
		0x01, // axis-mask: axis 0
		0x01, // direction-mask: positive, short step counts
		0x00, // control: primary 0, not homing
		255, 0,
		10, 5,
		50,
	}
	payload := append([]byte{byte(len(moveBody)), SubBlockLinearMove}, moveBody...)
	HandleOrder(engine)(OrderQueueCommandBlocks, payload, out)

	require.Len(t, engine.moves, 1)
	require.Equal(t, []uint8{0}, engine.moves[0].AxisRefs)
	require.EqualValues(t, 50, engine.moves[0].StepCounts[0])

	result := out.Result()
	require.EqualValues(t, SyncResponse, result[0])
	require.Len(t, result, FrameHeaderSize+6+FrameTrailerSize)
}
