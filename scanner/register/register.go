// Package register implements the single-register read protocol: build a
// selector, send it, classify the raw reply as a status-only or regular
// response, and decode it per a caller-supplied type hint or length-based
// inference.
package register

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rob-gra/b524scan/artifact"
	"github.com/rob-gra/b524scan/protocol/b524"
	"github.com/rob-gra/b524scan/protocol/value"
	"github.com/rob-gra/b524scan/scanner/director"
	"github.com/rob-gra/b524scan/transport"
)

// RetryBackoff is the pause between the first timeout and the single retry.
var RetryBackoff = time.Second

func ptrU8(v uint8) *uint8    { return &v }
func ptrStr(v string) *string { return &v }

// OpcodeFor returns the register opcode family for a group: remote (0x06)
// for the remote-spaced groups, local (0x02) for everything else.
func OpcodeFor(group uint8) b524.Opcode {
	if director.RemoteGroups[group] {
		return b524.OpcodeRemote
	}
	return b524.OpcodeLocal
}

// ttKind interprets the leading TT byte of a register reply.
//
// Observed semantics:
//   - 0x00: no data / not present / invalid
//   - 0x01: live/operational value
//   - 0x02: parameter/limit
//   - 0x03: parameter/config
func ttKind(tt uint8) string {
	switch tt {
	case 0x00:
		return "no_data"
	case 0x01:
		return "live"
	case 0x02:
		return "parameter_limit"
	case 0x03:
		return "parameter_config"
	default:
		return "unknown"
	}
}

// IsStatusOnly reports whether an entry's error string records a 1-byte
// status-only reply. Such entries are data, not failures: the device
// answered, it just had nothing for this register.
func IsStatusOnly(e *artifact.RegisterEntry) bool {
	return e != nil && e.Error != nil && strings.HasPrefix(*e.Error, "status_only_response")
}

// requester is the narrow transport slice this package needs.
type requester interface {
	Request(ctx context.Context, dst transport.Address, primary, secondary byte, payload []byte) ([]byte, error)
}

// Read performs one register read against dst, group/instance/register,
// using opcode (local or remote, see OpcodeFor). typeHint may be "" to
// request length-based inference. It never returns a Go error for
// protocol-level failures: every failure is encoded into the returned
// RegisterEntry, so a single bad register can never abort a sweep.
func Read(ctx context.Context, rt requester, dst transport.Address, opcode b524.Opcode, group, instance uint8, reg uint16, typeHint string) *artifact.RegisterEntry {
	payload := b524.BuildRegister(opcode, b524.OpRead, group, instance, reg)

	reply, err := requestWithRetry(ctx, rt, dst, payload)
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			return &artifact.RegisterEntry{Error: ptrStr("timeout")}
		}
		return &artifact.RegisterEntry{Error: ptrStr(fmt.Sprintf("transport_error: %v", err))}
	}

	return decodeReply(reply, group, reg, typeHint)
}

// requestWithRetry sends payload once, and on a timeout error retries
// exactly once after RetryBackoff. The transport below has its own
// single retry, so a register is effectively attempted up to four times
// before "timeout" lands in its entry.
func requestWithRetry(ctx context.Context, rt requester, dst transport.Address, payload []byte) ([]byte, error) {
	reply, err := rt.Request(ctx, dst, b524.Primary, b524.Secondary, payload)
	if err == nil {
		return reply, nil
	}
	if !errors.Is(err, transport.ErrTimeout) {
		return nil, err
	}

	select {
	case <-time.After(RetryBackoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return rt.Request(ctx, dst, b524.Primary, b524.Secondary, payload)
}

// decodeReply classifies and decodes a successfully received raw reply.
// Layout of a regular reply: <TT> <GG> <RR_LO> <RR_HI> <VALUE_BYTES...>,
// where GG/RR echo the request.
func decodeReply(reply []byte, group uint8, reg uint16, typeHint string) *artifact.RegisterEntry {
	entry := &artifact.RegisterEntry{ReplyHex: hex.EncodeToString(reply)}
	if len(reply) > 0 {
		entry.TT = ptrU8(reply[0])
		entry.TTKind = ttKind(reply[0])
	}

	// Some registers answer with a single status byte: no GG/RR echo and
	// no value bytes. That is a valid reply, surfaced for clarity.
	if len(reply) == 1 {
		entry.Error = ptrStr(fmt.Sprintf("status_only_response: 0x%02x", reply[0]))
		return entry
	}

	if len(reply) < 4 {
		entry.Error = ptrStr(fmt.Sprintf("decode_error: reply too short (%d bytes)", len(reply)))
		return entry
	}

	hdrGroup := reply[1]
	observedReg := uint16(reply[2]) | uint16(reply[3])<<8
	if hdrGroup != group || observedReg != reg {
		entry.Error = ptrStr(fmt.Sprintf(
			"decode_error: header mismatch group=0x%02x reg=0x%04x (wanted group=0x%02x reg=0x%04x)",
			hdrGroup, observedReg, group, reg))
		return entry
	}

	data := reply[4:]
	entry.RawHex = ptrStr(hex.EncodeToString(data))

	if typeHint != "" {
		entry.Type = ptrStr(typeHint)
		v, err := value.Decode(typeHint, data)
		if err != nil {
			entry.Error = ptrStr(fmt.Sprintf("parse_error: %v", err))
			return entry
		}
		entry.Value = v
		return entry
	}

	// An empty value tail has nothing to decode; keep the raw fields only.
	if len(data) == 0 {
		return entry
	}

	spec, v, err := value.Infer(data)
	if err != nil {
		entry.Error = ptrStr(fmt.Sprintf("parse_error: %v", err))
		return entry
	}
	entry.Type = ptrStr(spec)
	entry.Value = v
	return entry
}
