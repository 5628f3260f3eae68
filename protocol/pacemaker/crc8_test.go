package pacemaker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC8KnownValues(t *testing.T) {
	assert.EqualValues(t, 0, CRC8(nil))
	assert.EqualValues(t, 0, CRC8([]byte{}))

	// A single non-zero byte must never crc to zero; otherwise a frame
	// with that byte corrupted to all-zero would falsely validate.
	assert.NotEqualValues(t, 0, CRC8([]byte{0x23}))
}

func TestCRC8DetectsTrailingByteCorruption(t *testing.T) {
	original := []byte{0x23, 0x12, 0x00, 0x05, 1, 2, 3, 4, 5}
	good := CRC8(original)

	corrupted := append([]byte(nil), original...)
	corrupted[len(corrupted)-1] ^= 0xFF
	assert.NotEqual(t, good, CRC8(corrupted))
}

func TestCRC8IsDeterministic(t *testing.T) {
	data := []byte{0x42, 0x01, 0x00, 0x02, 0xAA, 0xBB}
	assert.Equal(t, CRC8(data), CRC8(data))
}
