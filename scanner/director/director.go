// Package director implements the two-phase device structure discovery:
// Phase A issues directory probes over groups 0x00..0xFF until the
// directory terminator, and Phase B
// classifies whatever Phase A found against a static group catalog.
package director

import (
	"context"
	"math"

	"github.com/rob-gra/b524scan/clog"
	"github.com/rob-gra/b524scan/protocol/b524"
	"github.com/rob-gra/b524scan/transport"
)

// GroupSpec is one entry of the static group catalog.
type GroupSpec struct {
	Name               string
	ExpectedDescriptor float32
	IIMax              *uint8 // nil for singleton families
	RRMax              uint16
}

func ptrU8(v uint8) *uint8 { return &v }

// KnownGroups is the static catalog keyed by group id, hardcoded from
// observed regulator behavior and validated against the vendor CSV.
// Never mutated after package init.
var KnownGroups = map[uint8]GroupSpec{
	0x00: {Name: "Discovery", ExpectedDescriptor: 3.0, RRMax: 0xFF},
	0x01: {Name: "Regulator Parameters", ExpectedDescriptor: 3.0, RRMax: 0x8F},
	0x02: {Name: "Heating Circuits", ExpectedDescriptor: 1.0, IIMax: ptrU8(0x0A), RRMax: 0x21},
	0x03: {Name: "Zones", ExpectedDescriptor: 1.0, IIMax: ptrU8(0x0A), RRMax: 0x2F},
	0x04: {Name: "Solar Circuit", ExpectedDescriptor: 6.0, RRMax: 0x40},
	0x09: {Name: "RoomState", ExpectedDescriptor: 1.0, IIMax: ptrU8(0x2F), RRMax: 0x1F},
	0x0A: {Name: "RoomSensors", ExpectedDescriptor: 1.0, IIMax: ptrU8(0x2F), RRMax: 0x4F},
	0x0C: {Name: "Unrecognized", ExpectedDescriptor: 1.0, IIMax: ptrU8(0x2F), RRMax: 0x4F},
}

// RemoteGroups is the set of groups whose register reads must use the
// remote opcode (0x06) rather than the local one (0x02).
var RemoteGroups = map[uint8]bool{
	0x09: true,
	0x0A: true,
	0x0C: true,
}

// Group is one discovered, classified directory entry.
type Group struct {
	GroupID    uint8
	Descriptor float32
	Name       string
	IIMax      *uint8
	RRMax      uint16
}

// discoveryRequester is the narrow slice of transport.RawTransport the
// director needs, letting tests supply a stub.
type discoveryRequester interface {
	Request(ctx context.Context, dst transport.Address, primary, secondary byte, payload []byte) ([]byte, error)
}

// Discover runs Phase A against dst, returning the raw (group_id,
// descriptor) pairs in ascending group order. Holes (descriptor 0.0) are
// skipped without disturbing the terminator count; discovery stops after
// two consecutive NaN descriptors.
func Discover(ctx context.Context, rt discoveryRequester, dst transport.Address, log clog.Clog) ([]struct {
	GroupID    uint8
	Descriptor float32
}, error) {
	var found []struct {
		GroupID    uint8
		Descriptor float32
	}
	consecutiveNaN := 0

	for g := 0; g <= 0xFF; g++ {
		group := uint8(g)
		payload := b524.BuildDirectory(group)
		reply, err := rt.Request(ctx, dst, b524.Primary, b524.Secondary, payload)
		if err != nil {
			// A transport failure is not a terminator NaN: a single flaky
			// probe must not prematurely end discovery.
			log.Warn("director: probe for group 0x%02x failed: %v", group, err)
			continue
		}

		descriptor := decodeDescriptor(reply, group, log)
		switch {
		case descriptor == 0.0:
			continue // hole: skip, don't disturb terminator counter
		case math.IsNaN(float64(descriptor)):
			consecutiveNaN++
			if consecutiveNaN >= 2 {
				log.Debug("director: terminator after group 0x%02x (NaN streak=%d)", group, consecutiveNaN)
				return found, nil
			}
		default:
			consecutiveNaN = 0
			found = append(found, struct {
				GroupID    uint8
				Descriptor float32
			}{group, descriptor})
		}
	}
	return found, nil
}

// decodeDescriptor reads the first 4 bytes of a directory reply as a
// little-endian float32; short replies map to not-a-number.
func decodeDescriptor(reply []byte, group uint8, log clog.Clog) float32 {
	if len(reply) < 4 {
		log.Warn("director: short directory reply for group 0x%02x: %d bytes", group, len(reply))
		return float32(math.NaN())
	}
	bits := uint32(reply[0]) | uint32(reply[1])<<8 | uint32(reply[2])<<16 | uint32(reply[3])<<24
	return math.Float32frombits(bits)
}

// Classify runs Phase B: match discovered groups against KnownGroups,
// logging (but not failing on) a descriptor mismatch. Discovered groups
// absent from the catalog keep their descriptor under the name "Unknown".
func Classify(found []struct {
	GroupID    uint8
	Descriptor float32
}, log clog.Clog) []Group {
	groups := make([]Group, 0, len(found))
	for _, f := range found {
		spec, known := KnownGroups[f.GroupID]
		if !known {
			groups = append(groups, Group{GroupID: f.GroupID, Descriptor: f.Descriptor, Name: "Unknown"})
			continue
		}
		if spec.ExpectedDescriptor != f.Descriptor {
			log.Warn("director: group 0x%02x expected descriptor %v, observed %v", f.GroupID, spec.ExpectedDescriptor, f.Descriptor)
		}
		groups = append(groups, Group{
			GroupID:    f.GroupID,
			Descriptor: f.Descriptor,
			Name:       spec.Name,
			IIMax:      spec.IIMax,
			RRMax:      spec.RRMax,
		})
	}
	return groups
}
