package pacemaker

import "pacemakerfw/protocol"

// OrderHandler dispatches one decoded order frame and writes its
// response (success or ORDER_SPECIFIC_ERROR) via output.
type OrderHandler func(order uint8, payload []byte, output protocol.OutputBuffer)

// Transport is the Pacemaker-protocol analogue of protocol.Transport:
// same receive-loop/resync idiom (InputBuffer in, OutputBuffer out,
// panic-recover around the handler), entirely different frame format.
type Transport struct {
	output       protocol.OutputBuffer
	handler      OrderHandler
	synchronized bool
}

// NewTransport creates a Transport writing responses to output and
// dispatching decoded orders to handler.
func NewTransport(output protocol.OutputBuffer, handler OrderHandler) *Transport {
	return &Transport{output: output, handler: handler, synchronized: true}
}

// Receive consumes as many complete frames as are available in input,
// resyncing on any framing error by scanning forward for the next SYNC
// byte - the same resync posture protocol.Transport takes on a bad CRC
// or length.
func (t *Transport) Receive(input protocol.InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if data[0] != SyncOrder {
			pos := indexByte(data[1:], SyncOrder)
			if pos < 0 {
				data = nil
				break
			}
			data = data[1+pos:]
			continue
		}
		if len(data) < FrameHeaderSize {
			break
		}
		length := int(data[3])
		frameLen := FrameHeaderSize + length + FrameTrailerSize
		if length > MaxPayload {
			data = data[1:]
			continue
		}
		if len(data) < frameLen {
			break
		}

		crcRegion := data[1 : FrameHeaderSize+length]
		wantCRC := data[frameLen-1]
		if CRC8(crcRegion) != wantCRC {
			data = data[1:]
			continue
		}

		order := data[1]
		control := data[2]
		payload := data[FrameHeaderSize : FrameHeaderSize+length]
		t.dispatch(order, control, payload)

		data = data[frameLen:]
	}

	consumed := input.Available() - len(data)
	if consumed > 0 {
		input.Pop(consumed)
	}
}

func (t *Transport) dispatch(order, control uint8, payload []byte) {
	defer func() {
		recover()
	}()
	if t.handler != nil {
		t.handler(order, payload, t.output)
	}
	_ = control
}

// EncodeFrame writes one response frame: SYNC=0x42, the echoed order
// code, a zero control byte (responses don't carry a host-assigned
// sequence of their own in this minimal core - the host correlates by
// order code and arrival order), the payload built by body, and a
// trailing CRC-8 over everything after SYNC.
func (t *Transport) EncodeFrame(order uint8, body func(output protocol.OutputBuffer)) {
	scratch := protocol.NewScratchOutput()
	body(scratch)
	payload := scratch.Result()

	cursor := t.output.CurPosition()
	t.output.Output([]byte{SyncResponse, order, 0, uint8(len(payload))})
	t.output.Output(payload)

	crc := CRC8(t.output.DataSince(cursor + 1))
	t.output.Output([]byte{crc})
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
