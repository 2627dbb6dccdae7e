// Package presence implements the per-group instance presence heuristics:
// before sweeping an instanced group's registers, probe one or two
// well-known registers to guess whether the instance slot is actually
// populated.
package presence

import (
	"context"
	"math"

	"github.com/rob-gra/b524scan/artifact"
	"github.com/rob-gra/b524scan/scanner/register"
	"github.com/rob-gra/b524scan/transport"
)

// requester is the narrow transport slice this package needs.
type requester interface {
	Request(ctx context.Context, dst transport.Address, primary, secondary byte, payload []byte) ([]byte, error)
}

// Probe decides whether instance (group, instance) is present on dst.
// Any transport error encountered while probing makes the instance not
// present; groups without a heuristic are assumed present.
func Probe(ctx context.Context, rt requester, dst transport.Address, group, instance uint8) bool {
	switch group {
	case 0x02:
		return probeUIN(ctx, rt, dst, group, instance, 0x0002)
	case 0x03:
		return probeUCH(ctx, rt, dst, group, instance, 0x001C)
	case 0x09, 0x0A:
		return probeEXPAny(ctx, rt, dst, group, instance, 0x0007, 0x000F)
	case 0x0C:
		return probeAnySucceeds(ctx, rt, dst, group, instance, 0x0002, 0x0007, 0x000F, 0x0016)
	default:
		return true // assumed present
	}
}

// failed reports whether an entry records a real failure. A status-only
// reply is data (the no_data check handles it), not a failure.
func failed(e *artifact.RegisterEntry) bool {
	return e.Error != nil && !register.IsStatusOnly(e)
}

func probeUIN(ctx context.Context, rt requester, dst transport.Address, group, instance uint8, reg uint16) bool {
	e := register.Read(ctx, rt, dst, register.OpcodeFor(group), group, instance, reg, "UIN")
	if failed(e) || e.TTKind == "no_data" {
		return false
	}
	v, ok := e.Value.(uint16)
	if !ok {
		return false
	}
	return v != 0x0000 && v != 0xFFFF
}

func probeUCH(ctx context.Context, rt requester, dst transport.Address, group, instance uint8, reg uint16) bool {
	e := register.Read(ctx, rt, dst, register.OpcodeFor(group), group, instance, reg, "UCH")
	if failed(e) || e.TTKind == "no_data" {
		return false
	}
	v, ok := e.Value.(uint8)
	if !ok {
		return false
	}
	return v != 0xFF
}

// probeEXPAny reads each register in order and returns present as soon as
// one yields a non-null, non-NaN EXP value.
func probeEXPAny(ctx context.Context, rt requester, dst transport.Address, group, instance uint8, regs ...uint16) bool {
	for _, reg := range regs {
		e := register.Read(ctx, rt, dst, register.OpcodeFor(group), group, instance, reg, "EXP")
		if failed(e) {
			return false
		}
		if e.TTKind == "no_data" || e.Value == nil {
			continue
		}
		f, ok := e.Value.(float32)
		if ok && !math.IsNaN(float64(f)) {
			return true
		}
	}
	return false
}

// probeAnySucceeds returns present as soon as one register probe succeeds
// with a non-"no_data" status.
func probeAnySucceeds(ctx context.Context, rt requester, dst transport.Address, group, instance uint8, regs ...uint16) bool {
	for _, reg := range regs {
		e := register.Read(ctx, rt, dst, register.OpcodeFor(group), group, instance, reg, "")
		if failed(e) {
			return false
		}
		if e.TTKind != "no_data" {
			return true
		}
	}
	return false
}
