// Package scan implements the scan engine: it orchestrates directory
// discovery, classification, planning, presence probing and register
// sweeps into a single artifact.Artifact.
package scan

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rob-gra/b524scan/artifact"
	"github.com/rob-gra/b524scan/clog"
	"github.com/rob-gra/b524scan/protocol/b509"
	"github.com/rob-gra/b524scan/protocol/value"
	"github.com/rob-gra/b524scan/scanner/director"
	"github.com/rob-gra/b524scan/scanner/plan"
	"github.com/rob-gra/b524scan/scanner/presence"
	"github.com/rob-gra/b524scan/scanner/register"
	"github.com/rob-gra/b524scan/transport"
)

// Observer receives progress notifications for a UI. Implementations must
// be fast and must not panic; the engine contracts only that PhaseAdvance
// is called before PhaseFinish for a given phase.
type Observer interface {
	PhaseStart(phase string)
	PhaseAdvance(phase string, done, total int)
	PhaseFinish(phase string)
	Status(msg string)
}

// NoopObserver implements Observer with no-op methods; it is the default
// when a caller has no progress UI.
type NoopObserver struct{}

func (NoopObserver) PhaseStart(string)             {}
func (NoopObserver) PhaseAdvance(string, int, int) {}
func (NoopObserver) PhaseFinish(string)            {}
func (NoopObserver) Status(string)                 {}

// NameResolver supplies optional human-readable names (and, for the
// alternate family, type hints) from externally loaded schema maps.
// A nil resolver leaves every name field empty.
type NameResolver interface {
	// RegisterNames returns the vendor-table and cloud-API names for one
	// extended-family register; empty strings mean no mapping.
	RegisterNames(group, instance uint8, register uint16) (ebusdName, myVaillantName string)

	// B509Entry returns the name and type spec for one flat register;
	// ok is false when the register has no schema entry.
	B509Entry(register uint16) (name, typeSpec string, ok bool)
}

// TypeHint is an optional type-spec override for one register, consulted
// before falling back to length inference.
type TypeHint struct {
	Group    uint8
	Register uint16
	Spec     string
}

// Options configures one scan run.
type Options struct {
	Destination    transport.Address
	DaemonEndpoint string
	Plan           plan.Options
	RequestRate    float64
	TypeHints      []TypeHint
	Resolver       NameResolver
	B509Ranges     [][2]uint16
	SchemaSources  []string
}

type requester interface {
	Request(ctx context.Context, dst transport.Address, primary, secondary byte, payload []byte) ([]byte, error)
}

// Run executes the full scan pipeline and always returns a non-nil
// artifact, even when ctx is cancelled partway through: whatever was
// collected before the interrupt stays in the returned document.
func Run(ctx context.Context, rt requester, opts Options, obs Observer, log clog.Clog) (*artifact.Artifact, error) {
	if obs == nil {
		obs = NoopObserver{}
	}
	start := time.Now()
	hints := hintIndex(opts.TypeHints)

	a := &artifact.Artifact{
		Groups: map[string]*artifact.Group{},
		Meta: artifact.Meta{
			ScanID:         uuid.NewString(),
			Destination:    artifact.DestinationHex(uint8(opts.Destination)),
			DaemonEndpoint: opts.DaemonEndpoint,
			SchemaSources:  opts.SchemaSources,
		},
	}
	log = log.WithTag(a.Meta.ScanID)

	finish := func(incompleteReason string) *artifact.Artifact {
		a.Meta.ScanTimestamp = start.UTC().Format(time.RFC3339)
		a.Meta.ElapsedSeconds = time.Since(start).Seconds()
		if incompleteReason != "" {
			a.Meta.Incomplete = true
			a.Meta.IncompleteReason = incompleteReason
		}
		return a
	}

	obs.PhaseStart("discover")
	found, err := director.Discover(ctx, rt, opts.Destination, log.WithTag("discover"))
	obs.PhaseFinish("discover")
	if err != nil {
		return finish(""), fmt.Errorf("scan: discover: %w", err)
	}
	log.Debug("discovered %d groups", len(found))
	if ctx.Err() != nil {
		return finish("user_interrupt"), nil
	}

	obs.PhaseStart("classify")
	groups := director.Classify(found, log.WithTag("classify"))
	obs.PhaseFinish("classify")

	obs.PhaseStart("plan")
	presenceFn := func(groupID, instance uint8) bool {
		return presence.Probe(ctx, rt, opts.Destination, groupID, instance)
	}
	p, err := plan.Build(groups, opts.Plan, presenceFn)
	obs.PhaseFinish("plan")
	if err != nil {
		return finish(""), fmt.Errorf("scan: plan: %w", err)
	}
	log.Debug("plan covers %d groups, ~%d register requests", len(p.Groups), plan.Estimate(p))
	if eta, ok := plan.ETASeconds(p, opts.RequestRate); ok {
		log.Debug("estimated sweep duration %.0fs at %.2f req/s", eta, opts.RequestRate)
	}
	a.Meta.ScanPlan = p.Meta()
	scanAbsent := p.ScanAbsent

	byID := make(map[uint8]director.Group, len(groups))
	for _, g := range groups {
		byID[g.GroupID] = g
	}

	obs.PhaseStart("register_scan")
	for _, gp := range p.Groups {
		if ctx.Err() != nil {
			obs.PhaseFinish("register_scan")
			return finish("user_interrupt"), nil
		}
		gInfo := byID[gp.GroupID]
		group := &artifact.Group{
			Descriptor: gInfo.Descriptor,
			Name:       gp.Name,
			IIMax:      gInfo.IIMax,
			RRMax:      gp.RRMax,
			Instances:  map[string]*artifact.Instance{},
		}
		a.Groups[artifact.GroupKey(gp.GroupID)] = group

		singleton := gInfo.IIMax == nil
		for _, ii := range gp.Instances {
			if ctx.Err() != nil {
				obs.PhaseFinish("register_scan")
				return finish("user_interrupt"), nil
			}

			present := true
			if !singleton {
				present = presence.Probe(ctx, rt, opts.Destination, gp.GroupID, ii)
			}

			inst := &artifact.Instance{Present: present}
			if present || scanAbsent || singleton {
				inst.Registers = sweepInstance(ctx, rt, opts, gp.GroupID, ii, gp.RRMax, hints, obs)
			}
			group.Instances[artifact.InstanceKey(ii)] = inst
		}
	}
	obs.PhaseFinish("register_scan")

	if len(opts.B509Ranges) > 0 {
		obs.PhaseStart("b509_dump")
		a.B509Dump = runB509Dump(ctx, rt, opts, obs)
		obs.PhaseFinish("b509_dump")
		if a.B509Dump.Meta.Incomplete {
			return finish("user_interrupt"), nil
		}
	}

	return finish(""), nil
}

func hintIndex(hints []TypeHint) map[uint8]map[uint16]string {
	idx := make(map[uint8]map[uint16]string, len(hints))
	for _, h := range hints {
		if idx[h.Group] == nil {
			idx[h.Group] = map[uint16]string{}
		}
		idx[h.Group][h.Register] = h.Spec
	}
	return idx
}

func sweepInstance(ctx context.Context, rt requester, opts Options, group, instance uint8, rrMax uint16, hints map[uint8]map[uint16]string, obs Observer) map[string]*artifact.RegisterEntry {
	opcode := register.OpcodeFor(group)
	regs := make(map[string]*artifact.RegisterEntry, int(rrMax)+1)
	total := int(rrMax) + 1
	for rr := uint16(0); ; rr++ {
		if ctx.Err() != nil {
			break
		}
		if rr%8 == 0 {
			obs.Status(fmt.Sprintf("Read GG=0x%02X II=0x%02X RR=0x%04X", group, instance, rr))
		}
		entry := register.Read(ctx, rt, opts.Destination, opcode, group, instance, rr, hints[group][rr])
		if opts.Resolver != nil {
			if eb, mv := opts.Resolver.RegisterNames(group, instance, rr); eb != "" || mv != "" {
				if eb != "" {
					entry.EbusdName = &eb
				}
				if mv != "" {
					entry.MyVaillantName = &mv
				}
			}
		}
		regs[artifact.RegisterKey(rr)] = entry
		obs.PhaseAdvance("register_scan", int(rr)+1, total)
		if rr == rrMax {
			break
		}
	}
	return regs
}

// mergeRanges merges overlapping or adjacent [start, end] register ranges
// into a minimal ordered partition.
func mergeRanges(ranges [][2]uint16) [][2]uint16 {
	if len(ranges) == 0 {
		return nil
	}
	sorted := append([][2]uint16(nil), ranges...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j][0] < sorted[j-1][0]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	merged := [][2]uint16{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r[0] <= last[1]+1 {
			if r[1] > last[1] {
				last[1] = r[1]
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

func runB509Dump(ctx context.Context, rt requester, opts Options, obs Observer) *artifact.B509Dump {
	start := time.Now()
	merged := mergeRanges(opts.B509Ranges)
	rangeKeys := make([]string, len(merged))
	total := 0
	for i, r := range merged {
		rangeKeys[i] = artifact.RangeKey(r[0], r[1])
		total += int(r[1]-r[0]) + 1
	}

	dump := &artifact.B509Dump{
		Meta: artifact.B509Meta{
			ScanTimestamp: start.UTC().Format(time.RFC3339),
			Ranges:        rangeKeys,
		},
		Devices: map[string]*artifact.B509Device{},
	}
	device := &artifact.B509Device{Registers: map[string]*artifact.B509RegisterEntry{}}
	dump.Devices[artifact.DestinationHex(uint8(opts.Destination))] = device

	done := 0
	for _, r := range merged {
		for rr := r[0]; ; rr++ {
			if ctx.Err() != nil {
				dump.Meta.Incomplete = true
				dump.Meta.IncompleteReason = "user_interrupt"
				dump.Meta.ElapsedSeconds = time.Since(start).Seconds()
				return dump
			}
			obs.Status(fmt.Sprintf("B509 read RR=%s", artifact.RegisterKey(rr)))
			entry := readB509(ctx, rt, opts, rr)
			device.Registers[artifact.RegisterKey(rr)] = entry
			dump.Meta.ReadCount++
			if entry.Error != nil {
				dump.Meta.ErrorCount++
			}
			done++
			obs.PhaseAdvance("b509_dump", done, total)
			if rr == r[1] {
				break
			}
		}
	}
	dump.Meta.ElapsedSeconds = time.Since(start).Seconds()
	return dump
}

// decodeB509Value decodes a flat-register reply under a schema type hint.
// Some replies carry a leading status-like byte; the whole payload is
// tried first, then the payload without that byte.
func decodeB509Value(typeSpec string, reply []byte) (any, *string) {
	candidates := [][]byte{reply}
	if len(reply) > 1 && reply[0] <= 0x03 {
		candidates = append(candidates, reply[1:])
	}
	var firstErr error
	for _, c := range candidates {
		v, err := value.Decode(typeSpec, c)
		if err == nil {
			return v, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	msg := "parse_error: " + firstErr.Error()
	return nil, &msg
}

func readB509(ctx context.Context, rt requester, opts Options, reg uint16) *artifact.B509RegisterEntry {
	entry := &artifact.B509RegisterEntry{
		Addr: artifact.RegisterKey(reg),
		Op:   "0x0d",
	}

	payload := b509.Build(reg)
	reply, err := rt.Request(ctx, opts.Destination, b509.Primary, b509.Secondary, payload)
	if err != nil {
		msg := "transport_error: " + err.Error()
		if errors.Is(err, transport.ErrTimeout) {
			msg = "timeout"
		}
		entry.Error = &msg
		return entry
	}

	replyHex := hex.EncodeToString(reply)
	entry.ReplyHex = &replyHex
	entry.RawHex = &replyHex

	if opts.Resolver != nil {
		if name, typeSpec, ok := opts.Resolver.B509Entry(reg); ok {
			if name != "" {
				entry.EbusdName = &name
			}
			if typeSpec != "" {
				entry.Type = &typeSpec
				entry.Value, entry.Error = decodeB509Value(typeSpec, reply)
			}
		}
	}
	return entry
}
