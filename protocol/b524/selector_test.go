package b524

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_KnownSelectorLocalRegisterRead(t *testing.T) {
	sel, err := Parse("020003001600")
	require.NoError(t, err)
	assert.Equal(t, RegisterSelector{
		Opcode:   OpcodeLocal,
		OpType:   OpRead,
		Group:    0x03,
		Instance: 0x00,
		Register: 0x0016,
	}, sel)

	built := BuildRegister(OpcodeLocal, OpRead, 0x03, 0x00, 0x0016)
	assert.Equal(t, "020003001600", Hex(built))
}

func TestParse_AcceptsPrefixesAndCase(t *testing.T) {
	sel, err := Parse("b524, 0X02 00 03 00 16 00")
	require.NoError(t, err)
	assert.Equal(t, RegisterSelector{
		Opcode:   OpcodeLocal,
		OpType:   OpRead,
		Group:    0x03,
		Instance: 0x00,
		Register: 0x0016,
	}, sel)
}

func TestRoundTrip_Directory(t *testing.T) {
	built := BuildDirectory(0x07)
	sel, err := Parse(Hex(built))
	require.NoError(t, err)
	assert.Equal(t, DirectorySelector{Group: 0x07}, sel)
}

func TestRoundTrip_Metadata(t *testing.T) {
	built := BuildMetadata(0x05, 0x02, 0x1234)
	sel, err := Parse(Hex(built))
	require.NoError(t, err)
	assert.Equal(t, MetadataSelector{Group: 0x05, Instance: 0x02, Register: 0x1234}, sel)
}

func TestRoundTrip_Register(t *testing.T) {
	for _, opcode := range []Opcode{OpcodeLocal, OpcodeRemote} {
		for _, optype := range []OpType{OpRead, OpWrite} {
			built := BuildRegister(opcode, optype, 0x09, 0x01, 0x000F)
			sel, err := Parse(Hex(built))
			require.NoError(t, err)
			assert.Equal(t, RegisterSelector{
				Opcode: opcode, OpType: optype, Group: 0x09, Instance: 0x01, Register: 0x000F,
			}, sel)
		}
	}
}

func TestRoundTrip_Timer(t *testing.T) {
	for _, variant := range []TimerVariant{TimerRead, TimerWrite} {
		built, err := BuildTimer(variant, [3]byte{0x01, 0x02, 0x03}, 6)
		require.NoError(t, err)
		sel, err := Parse(Hex(built))
		require.NoError(t, err)
		assert.Equal(t, TimerSelector{Variant: variant, Sel: [3]uint8{1, 2, 3}, Weekday: 6}, sel)
	}
}

func TestBuildTimer_WeekdayOutOfRange(t *testing.T) {
	_, err := BuildTimer(TimerRead, [3]byte{0, 0, 0}, 7)
	require.ErrorIs(t, err, ErrFieldRange)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("zz")
	assert.ErrorIs(t, err, ErrNonHex)

	_, err = Parse("0203")
	assert.ErrorIs(t, err, ErrLength)

	_, err = Parse("ff0000")
	assert.ErrorIs(t, err, ErrUnknownOpcode)

	_, err = Parse("0300000007") // weekday 7 out of range
	assert.ErrorIs(t, err, ErrFieldRange)
}
