package register

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rob-gra/b524scan/protocol/b524"
	"github.com/rob-gra/b524scan/transport"
)

type scriptedRequester struct {
	replies []replyOrErr
	calls   int
}

type replyOrErr struct {
	reply []byte
	err   error
}

func (s *scriptedRequester) Request(_ context.Context, _ transport.Address, _, _ byte, _ []byte) ([]byte, error) {
	r := s.replies[s.calls]
	s.calls++
	return r.reply, r.err
}

func TestRead_StatusOnlyReply(t *testing.T) {
	rq := &scriptedRequester{replies: []replyOrErr{{reply: []byte{0x00}}}}
	e := Read(context.Background(), rq, 0x15, b524.OpcodeLocal, 0x02, 0x00, 0x000F, "")
	require.NotNil(t, e.TT)
	assert.Equal(t, uint8(0x00), *e.TT)
	assert.Equal(t, "no_data", e.TTKind)
	assert.Equal(t, "00", e.ReplyHex)
	assert.Nil(t, e.RawHex)
	assert.Nil(t, e.Type)
	assert.Nil(t, e.Value)
	require.NotNil(t, e.Error)
	assert.Equal(t, "status_only_response: 0x00", *e.Error)
	assert.True(t, IsStatusOnly(e))
}

func TestRead_StatusOnlyReplyNonZero(t *testing.T) {
	rq := &scriptedRequester{replies: []replyOrErr{{reply: []byte{0x02}}}}
	e := Read(context.Background(), rq, 0x15, b524.OpcodeLocal, 0x03, 0x00, 0x0016, "")
	assert.Equal(t, "parameter_limit", e.TTKind)
	require.NotNil(t, e.Error)
	assert.Equal(t, "status_only_response: 0x02", *e.Error)
}

func TestRead_RegularReplyWithInference(t *testing.T) {
	// tt=0x01 group=0x03 rr=0x0016 little-endian, then a 2-byte UIN payload.
	rq := &scriptedRequester{replies: []replyOrErr{{reply: []byte{0x01, 0x03, 0x16, 0x00, 0x2C, 0x01}}}}
	e := Read(context.Background(), rq, 0x15, b524.OpcodeLocal, 0x03, 0x00, 0x0016, "")
	require.Nil(t, e.Error)
	require.NotNil(t, e.Type)
	assert.Equal(t, "UIN", *e.Type)
	assert.Equal(t, uint16(0x012C), e.Value)
	assert.Equal(t, "live", e.TTKind)
}

func TestRead_RegularReplyWithTypeHint(t *testing.T) {
	rq := &scriptedRequester{replies: []replyOrErr{{reply: []byte{0x01, 0x03, 0x16, 0x00, 0x7B}}}}
	e := Read(context.Background(), rq, 0x15, b524.OpcodeLocal, 0x03, 0x00, 0x0016, "UCH")
	require.Nil(t, e.Error)
	assert.Equal(t, "UCH", *e.Type)
	assert.Equal(t, uint8(0x7B), e.Value)
}

func TestRead_HeaderMismatchIsDecodeError(t *testing.T) {
	// reply claims group 0x09, but we asked about group 0x03.
	rq := &scriptedRequester{replies: []replyOrErr{{reply: []byte{0x01, 0x09, 0x16, 0x00, 0x01}}}}
	e := Read(context.Background(), rq, 0x15, b524.OpcodeLocal, 0x03, 0x00, 0x0016, "")
	require.NotNil(t, e.Error)
	assert.Contains(t, *e.Error, "decode_error")
}

func TestRead_ShortReplyIsDecodeError(t *testing.T) {
	rq := &scriptedRequester{replies: []replyOrErr{{reply: []byte{0x01, 0x02}}}}
	e := Read(context.Background(), rq, 0x15, b524.OpcodeLocal, 0x03, 0x00, 0x0016, "")
	require.NotNil(t, e.Error)
	assert.Contains(t, *e.Error, "decode_error")
}

func TestRead_TypeHintFailureKeepsRawHexAndType(t *testing.T) {
	rq := &scriptedRequester{replies: []replyOrErr{{reply: []byte{0x01, 0x03, 0x16, 0x00, 0x01, 0x02}}}}
	e := Read(context.Background(), rq, 0x15, b524.OpcodeLocal, 0x03, 0x00, 0x0016, "UCH")
	require.NotNil(t, e.Error)
	assert.Contains(t, *e.Error, "parse_error")
	require.NotNil(t, e.RawHex)
	assert.Equal(t, "0102", *e.RawHex)
	require.NotNil(t, e.Type)
	assert.Equal(t, "UCH", *e.Type)
	assert.Nil(t, e.Value)
}

func TestRead_EmptyValueTailKeepsRawFieldsOnly(t *testing.T) {
	rq := &scriptedRequester{replies: []replyOrErr{{reply: []byte{0x01, 0x03, 0x16, 0x00}}}}
	e := Read(context.Background(), rq, 0x15, b524.OpcodeLocal, 0x03, 0x00, 0x0016, "")
	require.Nil(t, e.Error)
	require.NotNil(t, e.RawHex)
	assert.Equal(t, "", *e.RawHex)
	assert.Nil(t, e.Type)
	assert.Nil(t, e.Value)
}

func TestOpcodeFor(t *testing.T) {
	assert.Equal(t, b524.OpcodeLocal, OpcodeFor(0x02))
	assert.Equal(t, b524.OpcodeLocal, OpcodeFor(0x03))
	assert.Equal(t, b524.OpcodeRemote, OpcodeFor(0x09))
	assert.Equal(t, b524.OpcodeRemote, OpcodeFor(0x0A))
	assert.Equal(t, b524.OpcodeRemote, OpcodeFor(0x0C))
}

func TestRead_TimeoutRetriesOnceThenSucceeds(t *testing.T) {
	RetryBackoff = time.Millisecond
	rq := &scriptedRequester{replies: []replyOrErr{
		{err: transport.ErrTimeout},
		{reply: []byte{0x01, 0x03, 0x16, 0x00, 0x09}},
	}}
	e := Read(context.Background(), rq, 0x15, b524.OpcodeLocal, 0x03, 0x00, 0x0016, "UCH")
	require.Nil(t, e.Error)
	assert.Equal(t, 2, rq.calls)
	assert.Equal(t, uint8(0x09), e.Value)
}

func TestRead_TimeoutTwiceEmitsTimeoutError(t *testing.T) {
	RetryBackoff = time.Millisecond
	rq := &scriptedRequester{replies: []replyOrErr{
		{err: transport.ErrTimeout},
		{err: transport.ErrTimeout},
	}}
	e := Read(context.Background(), rq, 0x15, b524.OpcodeLocal, 0x03, 0x00, 0x0016, "")
	require.NotNil(t, e.Error)
	assert.Equal(t, "timeout", *e.Error)
	assert.Nil(t, e.RawHex)
	assert.Nil(t, e.Value)
}

func TestRead_NonTimeoutTransportErrorDoesNotRetry(t *testing.T) {
	rq := &scriptedRequester{replies: []replyOrErr{{err: errors.New("connection refused")}}}
	e := Read(context.Background(), rq, 0x15, b524.OpcodeLocal, 0x03, 0x00, 0x0016, "")
	require.NotNil(t, e.Error)
	assert.Contains(t, *e.Error, "transport_error")
	assert.Equal(t, 1, rq.calls)
}

func TestTTKind(t *testing.T) {
	assert.Equal(t, "no_data", ttKind(0x00))
	assert.Equal(t, "live", ttKind(0x01))
	assert.Equal(t, "parameter_limit", ttKind(0x02))
	assert.Equal(t, "parameter_config", ttKind(0x03))
	assert.Equal(t, "unknown", ttKind(0xAA))
}
