package pacemaker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeLinearMoveBodyShortForm(t *testing.T) {
	body := []byte{
		0x03, // axis-mask: axes 0,1, short form
		0x03, // direction-mask: both positive, short step counts
		0x00, // control: primary index 0, not homing
		200,  // nominal_frac
		50,   // final_frac
		10,   // accel_count
		5,    // decel_count
		80,   // step_count axis 0
		40,   // step_count axis 1
	}

	req, err := decodeLinearMoveBody(body)
	require.NoError(t, err)
	require.Equal(t, []uint8{0, 1}, req.AxisRefs)
	require.Equal(t, []bool{true, true}, req.Directions)
	require.EqualValues(t, 0, req.PrimaryAxisIndex)
	require.False(t, req.Homing)
	require.EqualValues(t, 200, req.NominalFrac)
	require.EqualValues(t, 50, req.FinalFrac)
	require.EqualValues(t, 10, req.AccelCount)
	require.EqualValues(t, 5, req.DecelCount)
	require.Equal(t, []uint16{80, 40}, req.StepCounts)
}

func TestDecodeLinearMoveBodyLongForm(t *testing.T) {
	body := []byte{
		0x81, 0x01, // axis-mask long form: axes 0 and 7
		0x81, 0x00, // direction-mask: long step counts, axis 0 positive, axis 7 negative
		0x01,       // control: primary index 1 (axis 7), not homing
		200, 30,    // nominal_frac, final_frac
		0x2C, 0x01, // accel_count = 300 (LE u16)
		0x96, 0x00, // decel_count = 150 (LE u16)
		0xE8, 0x03, // step_count axis 0 = 1000 (LE u16)
		0x58, 0x02, // step_count axis 7 = 600 (LE u16)
	}

	req, err := decodeLinearMoveBody(body)
	require.NoError(t, err)
	require.Equal(t, []uint8{0, 7}, req.AxisRefs)
	require.Equal(t, []bool{true, false}, req.Directions)
	require.EqualValues(t, 1, req.PrimaryAxisIndex)
	require.False(t, req.Homing)
	require.EqualValues(t, 300, req.AccelCount)
	require.EqualValues(t, 150, req.DecelCount)
	require.Equal(t, []uint16{1000, 600}, req.StepCounts)
}

func TestDecodeLinearMoveBodyHomingBit(t *testing.T) {
	body := []byte{
		0x01,       // axis-mask: axis 0 only
		0x01,       // direction-mask: axis 0 positive, short step counts
		0x10,       // control: primary index 0, homing set
		255, 0,
		0, 0,
		10,
	}
	req, err := decodeLinearMoveBody(body)
	require.NoError(t, err)
	require.True(t, req.Homing)
}

func TestDecodeLinearMoveBodyRejectsEmptyBody(t *testing.T) {
	_, err := decodeLinearMoveBody(nil)
	require.Error(t, err)
}

func TestDecodeLinearMoveBodyRejectsZeroAxisMask(t *testing.T) {
	_, err := decodeLinearMoveBody([]byte{0x00, 0x00, 0x00, 0, 0, 0, 0})
	require.Error(t, err)
}

func TestDecodeLinearMoveBodyRejectsTruncatedStepCounts(t *testing.T) {
	// Axis-mask selects two axes but only one step count follows.
	body := []byte{0x03, 0x03, 0x00, 255, 0, 0, 0, 10}
	_, err := decodeLinearMoveBody(body)
	require.Error(t, err)
}
