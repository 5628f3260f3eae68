package movement

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingReserveCommitPopRoundTrip(t *testing.T) {
	p, c := NewRing(64)

	slot, ok := p.Reserve(3)
	require.True(t, ok)
	copy(slot, []byte{0xAA, 0xBB, 0xCC})
	p.Commit()

	require.EqualValues(t, 1, p.CurrentCount())

	body, ok := c.Pop()
	require.True(t, ok)
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC}, body)
	require.EqualValues(t, 0, c.CurrentCount())
	require.EqualValues(t, 1, c.AttemptedTotal())

	_, ok = c.Pop()
	require.False(t, ok, "pop on an empty ring must report ok=false")
}

func TestRingAbortedReserveIsNotCommitted(t *testing.T) {
	p, _ := NewRing(64)

	_, ok := p.Reserve(8)
	require.True(t, ok)
	// No Commit(): the reservation is abandoned, and a second Reserve
	// must be free to reuse the same space rather than leaking it.
	slot, ok := p.Reserve(8)
	require.True(t, ok)
	copy(slot, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	p.Commit()

	require.EqualValues(t, 1, p.CurrentCount())
}

// TestRingSkipMarkerAtWrap forces a reservation to not fit in the
// remaining contiguous space before the physical end of the buffer, so
// Reserve must drop a skip marker and wrap to offset 0 rather than
// corrupting the record that already occupies the front of the buffer.
func TestRingSkipMarkerAtWrap(t *testing.T) {
	// Capacity 10: a 5-byte record leaves 6 bytes used (1 length byte +
	// 5 body), so 4 bytes remain contiguous before the physical end.
	p, c := NewRing(10)

	slot, ok := p.Reserve(5)
	require.True(t, ok)
	copy(slot, []byte{1, 2, 3, 4, 5})
	p.Commit()

	body, ok := c.Pop()
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3, 4, 5}, body)

	// tail now sits at offset 6 with 4 bytes contiguous before the end,
	// but head has already moved on so `used` reflects an empty ring.
	// A record needing 5 bytes (4 body + 1 length) doesn't fit in the
	// remaining 4 contiguous bytes and must skip-and-wrap; it fits in the
	// 6 bytes in front of head.
	slot, ok = p.Reserve(4)
	require.True(t, ok)
	copy(slot, []byte{10, 20, 30, 40})
	p.Commit()

	body, ok = c.Pop()
	require.True(t, ok, "record written after a skip-marker wrap must still be poppable")
	require.Equal(t, []byte{10, 20, 30, 40}, body)
}

func TestRingFreeSlotsShrinksAndRecoversAfterPop(t *testing.T) {
	p, c := NewRing(32)
	free0 := p.Free()

	slot, ok := p.Reserve(10)
	require.True(t, ok)
	copy(slot, make([]byte, 10))
	p.Commit()
	require.Less(t, p.Free(), free0)

	_, ok = c.Pop()
	require.True(t, ok)
	require.Equal(t, free0, p.Free())
}

func TestRingReserveFailsWhenFull(t *testing.T) {
	p, _ := NewRing(8)
	_, ok := p.Reserve(32)
	require.False(t, ok)
}

func TestRingFlushResetsCountersAndAbortsInFlightReserve(t *testing.T) {
	p, c := NewRing(32)

	slot, ok := p.Reserve(4)
	require.True(t, ok)
	copy(slot, []byte{1, 2, 3, 4})
	p.Commit()

	slot2, ok := p.Reserve(4)
	require.True(t, ok)
	copy(slot2, []byte{9, 9, 9, 9})
	// Flush before Commit: the in-flight reservation must be silently
	// dropped rather than resurrected by its delayed Commit.
	c.Flush()
	p.Commit()

	require.EqualValues(t, 0, p.CurrentCount())
	_, ok = c.Pop()
	require.False(t, ok)
}

func TestRingLastFinalSpeedAndCheckpointLast(t *testing.T) {
	p, _ := NewRing(16)

	require.False(t, p.IsCheckpointLast())
	p.SetCheckpointLast(true)
	require.True(t, p.IsCheckpointLast())

	p.SetLastFinalSpeed(1234)
	require.EqualValues(t, 1234, p.LastFinalSpeed())
}
