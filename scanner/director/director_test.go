package director

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rob-gra/b524scan/clog"
	"github.com/rob-gra/b524scan/transport"
)

type scriptedRequester struct {
	replies map[uint8][]byte
	errs    map[uint8]error
}

func (s *scriptedRequester) Request(_ context.Context, dst transport.Address, _, _ byte, payload []byte) ([]byte, error) {
	group := payload[1]
	if err, ok := s.errs[group]; ok {
		return nil, err
	}
	return s.replies[group], nil
}

func encodeDescriptor(f float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(f))
	return b
}

func TestDiscover_TerminatesAfterTwoConsecutiveNaN(t *testing.T) {
	rq := &scriptedRequester{replies: map[uint8][]byte{
		0x00: encodeDescriptor(3.0),
		0x01: encodeDescriptor(0.0),
		0x02: encodeDescriptor(0.0),
		0x03: encodeDescriptor(1.0),
		0x04: encodeDescriptor(float32(math.NaN())),
		0x05: encodeDescriptor(float32(math.NaN())),
		0x06: encodeDescriptor(1.0), // must never be reached
	}}

	found, err := Discover(context.Background(), rq, 0x15, clog.NewLogger("t"))
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, uint8(0x00), found[0].GroupID)
	assert.InDelta(t, 3.0, found[0].Descriptor, 1e-6)
	assert.Equal(t, uint8(0x03), found[1].GroupID)
	assert.InDelta(t, 1.0, found[1].Descriptor, 1e-6)
}

func TestDiscover_TransportFailureNotTreatedAsNaN(t *testing.T) {
	rq := &scriptedRequester{
		replies: map[uint8][]byte{
			0x00: encodeDescriptor(1.0),
			0x02: encodeDescriptor(1.0),
		},
		errs: map[uint8]error{
			0x01: errors.New("boom"),
		},
	}
	found, err := Discover(context.Background(), rq, 0x15, clog.NewLogger("t"))
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, uint8(0x00), found[0].GroupID)
	assert.Equal(t, uint8(0x02), found[1].GroupID)
}

func TestDiscover_ShortReplyMapsToNaN(t *testing.T) {
	rq := &scriptedRequester{replies: map[uint8][]byte{
		0x00: {0x01}, // too short -> NaN
		0x01: {0x01}, // too short -> NaN, second consecutive -> stop
	}}
	found, err := Discover(context.Background(), rq, 0x15, clog.NewLogger("t"))
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestClassify_KnownAndUnknown(t *testing.T) {
	found := []struct {
		GroupID    uint8
		Descriptor float32
	}{
		{0x03, 1.0},
		{0xEE, 5.0},
	}
	groups := Classify(found, clog.NewLogger("t"))
	require.Len(t, groups, 2)
	assert.Equal(t, "Zones", groups[0].Name)
	require.NotNil(t, groups[0].IIMax)
	assert.Equal(t, uint8(0x0A), *groups[0].IIMax)
	assert.Equal(t, uint16(0x2F), groups[0].RRMax)
	assert.Equal(t, "Unknown", groups[1].Name)
	assert.Nil(t, groups[1].IIMax)
}

func TestClassify_DescriptorMismatchIsNotFatal(t *testing.T) {
	found := []struct {
		GroupID    uint8
		Descriptor float32
	}{
		{0x03, 3.0}, // expected 1.0
	}
	groups := Classify(found, clog.NewLogger("t"))
	require.Len(t, groups, 1)
	assert.Equal(t, "Zones", groups[0].Name)
}

func TestKnownGroups_InstancedGroupsCarryIIMax(t *testing.T) {
	for id, spec := range KnownGroups {
		if spec.ExpectedDescriptor == 1.0 {
			assert.NotNil(t, spec.IIMax, "group 0x%02x", id)
		} else {
			assert.Nil(t, spec.IIMax, "group 0x%02x", id)
		}
	}
}
