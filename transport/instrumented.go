package transport

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Counters accumulates request statistics across one scan, for
// request-rate estimates and planner ETAs.
type Counters struct {
	requests   atomic.Int64
	broadcasts atomic.Int64
}

// Requests returns the number of Request calls observed so far.
func (c *Counters) Requests() int64 { return c.requests.Load() }

// Broadcasts returns the number of Broadcast calls observed so far.
func (c *Counters) Broadcasts() int64 { return c.broadcasts.Load() }

// RatePerSecond returns observed requests divided by elapsed, or 0 when
// elapsed is not positive.
func (c *Counters) RatePerSecond(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(c.requests.Load()) / elapsed.Seconds()
}

// Instrumented wraps a RawTransport, counting calls and optionally
// appending request/response lines to a trace writer. A nil trace writer
// keeps only the counters. Trace write failures are ignored: tracing is
// best-effort and must never fail a request.
type Instrumented struct {
	inner    RawTransport
	trace    io.Writer
	Counters Counters
}

// NewInstrumented wraps inner; trace may be nil.
func NewInstrumented(inner RawTransport, trace io.Writer) *Instrumented {
	return &Instrumented{inner: inner, trace: trace}
}

var _ RawTransport = (*Instrumented)(nil)

func (t *Instrumented) Request(ctx context.Context, dst Address, primary, secondary byte, payload []byte) ([]byte, error) {
	t.Counters.requests.Add(1)
	t.tracef("> dst=0x%02x %02x%02x %s", uint8(dst), primary, secondary, hex.EncodeToString(payload))
	reply, err := t.inner.Request(ctx, dst, primary, secondary, payload)
	if err != nil {
		t.tracef("! %v", err)
		return nil, err
	}
	t.tracef("< %s", hex.EncodeToString(reply))
	return reply, nil
}

func (t *Instrumented) Broadcast(ctx context.Context, primary, secondary byte, payload []byte) error {
	t.Counters.broadcasts.Add(1)
	t.tracef("> broadcast %02x%02x %s", primary, secondary, hex.EncodeToString(payload))
	err := t.inner.Broadcast(ctx, primary, secondary, payload)
	if err != nil {
		t.tracef("! %v", err)
	}
	return err
}

func (t *Instrumented) Close() error { return t.inner.Close() }

func (t *Instrumented) tracef(format string, v ...any) {
	if t.trace == nil {
		return
	}
	_, _ = fmt.Fprintf(t.trace, format+"\n", v...)
}
