package pacemaker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pacemakerfw/protocol"
)

func buildFrame(order uint8, control uint8, payload []byte) []byte {
	frame := make([]byte, 0, FrameHeaderSize+len(payload)+FrameTrailerSize)
	frame = append(frame, SyncOrder, order, control, uint8(len(payload)))
	frame = append(frame, payload...)
	frame = append(frame, CRC8(frame[1:]))
	return frame
}

func TestTransportReceiveDispatchesOneFrame(t *testing.T) {
	var gotOrder uint8
	var gotPayload []byte
	tr := NewTransport(protocol.NewScratchOutput(), func(order uint8, payload []byte, output protocol.OutputBuffer) {
		gotOrder = order
		gotPayload = append([]byte(nil), payload...)
	})

	raw := buildFrame(OrderQueueCommandBlocks, 0x01, []byte{0xAA, 0xBB, 0xCC})
	tr.Receive(protocol.NewSliceInputBuffer(raw))

	require.EqualValues(t, OrderQueueCommandBlocks, gotOrder)
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC}, gotPayload)
}

func TestTransportReceiveResyncsPastGarbagePrefix(t *testing.T) {
	var calls int
	tr := NewTransport(protocol.NewScratchOutput(), func(order uint8, payload []byte, output protocol.OutputBuffer) {
		calls++
	})

	raw := append([]byte{0x00, 0x01, 0x02}, buildFrame(OrderQueueCommandBlocks, 0, []byte{1, 2})...)
	tr.Receive(protocol.NewSliceInputBuffer(raw))

	require.Equal(t, 1, calls)
}

func TestTransportReceiveRejectsBadCRC(t *testing.T) {
	var calls int
	tr := NewTransport(protocol.NewScratchOutput(), func(order uint8, payload []byte, output protocol.OutputBuffer) {
		calls++
	})

	raw := buildFrame(OrderQueueCommandBlocks, 0, []byte{1, 2, 3})
	raw[len(raw)-1] ^= 0xFF // corrupt the trailing CRC byte

	tr.Receive(protocol.NewSliceInputBuffer(raw))
	require.Zero(t, calls, "a frame with a bad CRC must never reach the handler")
}

func TestTransportReceiveHandlesMultipleFramesInOneBuffer(t *testing.T) {
	var orders []uint8
	tr := NewTransport(protocol.NewScratchOutput(), func(order uint8, payload []byte, output protocol.OutputBuffer) {
		orders = append(orders, order)
	})

	raw := append(buildFrame(OrderQueueCommandBlocks, 0, []byte{1}), buildFrame(OrderQueueCommandBlocks, 1, []byte{2, 3})...)
	tr.Receive(protocol.NewSliceInputBuffer(raw))

	require.Equal(t, []uint8{OrderQueueCommandBlocks, OrderQueueCommandBlocks}, orders)
}

func TestEncodeFrameRoundTrips(t *testing.T) {
	out := protocol.NewScratchOutput()
	tr := &Transport{output: out}
	tr.EncodeFrame(OrderQueueCommandBlocks, func(output protocol.OutputBuffer) {
		output.Output([]byte{1, 2, 3})
	})

	result := out.Result()
	require.Len(t, result, FrameHeaderSize+3+FrameTrailerSize)
	require.EqualValues(t, SyncResponse, result[0])
	require.EqualValues(t, OrderQueueCommandBlocks, result[1])
	require.EqualValues(t, 3, result[3])
	require.Equal(t, CRC8(result[1:len(result)-1]), result[len(result)-1])
}
