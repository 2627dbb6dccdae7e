package presence

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rob-gra/b524scan/transport"
)

type scriptedRequester struct {
	byReg map[uint16][]byte
	errs  map[uint16]error
}

func (s *scriptedRequester) Request(_ context.Context, _ transport.Address, _, _ byte, payload []byte) ([]byte, error) {
	reg := uint16(payload[4]) | uint16(payload[5])<<8
	if err, ok := s.errs[reg]; ok {
		return nil, err
	}
	return s.byReg[reg], nil
}

func regularReply(tt, group byte, reg uint16, data []byte) []byte {
	b := []byte{tt, group, byte(reg), byte(reg >> 8)}
	return append(b, data...)
}

func uinBytes(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func expBytes(f float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(f))
	return b
}

func TestProbe_HeatingCircuitPresent(t *testing.T) {
	rq := &scriptedRequester{byReg: map[uint16][]byte{
		0x0002: regularReply(0x01, 0x02, 0x0002, uinBytes(20)),
	}}
	assert.True(t, Probe(context.Background(), rq, 0x15, 0x02, 0x00))
}

func TestProbe_HeatingCircuitAbsentZero(t *testing.T) {
	rq := &scriptedRequester{byReg: map[uint16][]byte{
		0x0002: regularReply(0x01, 0x02, 0x0002, uinBytes(0x0000)),
	}}
	assert.False(t, Probe(context.Background(), rq, 0x15, 0x02, 0x01))
}

func TestProbe_HeatingCircuitAbsentNoData(t *testing.T) {
	rq := &scriptedRequester{byReg: map[uint16][]byte{
		0x0002: {0x00}, // status-only, no_data
	}}
	assert.False(t, Probe(context.Background(), rq, 0x15, 0x02, 0x01))
}

func TestProbe_ZonesAbsentFF(t *testing.T) {
	rq := &scriptedRequester{byReg: map[uint16][]byte{
		0x001C: regularReply(0x01, 0x03, 0x001C, []byte{0xFF}),
	}}
	assert.False(t, Probe(context.Background(), rq, 0x15, 0x03, 0x00))
}

func TestProbe_RoomStatePresentOnSecondRegister(t *testing.T) {
	rq := &scriptedRequester{byReg: map[uint16][]byte{
		0x0007: regularReply(0x01, 0x09, 0x0007, expBytes(float32(math.NaN()))),
		0x000F: regularReply(0x01, 0x09, 0x000F, expBytes(21.5)),
	}}
	assert.True(t, Probe(context.Background(), rq, 0x15, 0x09, 0x00))
}

func TestProbe_RoomStateAbsentBothNaN(t *testing.T) {
	rq := &scriptedRequester{byReg: map[uint16][]byte{
		0x0007: regularReply(0x01, 0x09, 0x0007, expBytes(float32(math.NaN()))),
		0x000F: regularReply(0x01, 0x09, 0x000F, expBytes(float32(math.NaN()))),
	}}
	assert.False(t, Probe(context.Background(), rq, 0x15, 0x09, 0x00))
}

func TestProbe_Group0CPresentOnAnyRegister(t *testing.T) {
	rq := &scriptedRequester{byReg: map[uint16][]byte{
		0x0002: {0x00}, // no_data
		0x0007: regularReply(0x01, 0x0C, 0x0007, []byte{0x09}),
	}}
	assert.True(t, Probe(context.Background(), rq, 0x15, 0x0C, 0x00))
}

func TestProbe_UnknownGroupAssumedPresent(t *testing.T) {
	rq := &scriptedRequester{}
	assert.True(t, Probe(context.Background(), rq, 0x15, 0x06, 0x00))
}

func TestProbe_TransportErrorIsNotPresent(t *testing.T) {
	rq := &scriptedRequester{errs: map[uint16]error{0x0002: errors.New("boom")}}
	assert.False(t, Probe(context.Background(), rq, 0x15, 0x02, 0x00))
}
