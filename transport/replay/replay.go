// Package replay implements a fixture-backed transport for dry runs: it
// answers directory probes and register reads from a previously captured
// scan artifact instead of a live daemon.
package replay

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rob-gra/b524scan/artifact"
	"github.com/rob-gra/b524scan/transport"
)

type regKey struct {
	group    uint8
	instance uint8
	register uint16
}

// Transport replays responses recorded in a scan artifact. Directory
// probes answer the fixture group's descriptor (0.0 for holes, NaN above
// the highest fixture group so discovery terminates); register reads
// answer header + the fixture's raw bytes, or a timeout where the fixture
// recorded one.
type Transport struct {
	descriptors map[uint8]float32
	values      map[regKey][]byte
	timeouts    map[regKey]bool
	maxGroup    uint8
}

var _ transport.RawTransport = (*Transport)(nil)

// Load reads a fixture artifact from path.
func Load(path string) (*Transport, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	a, err := artifact.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("replay: fixture %s: %w", path, err)
	}
	return FromArtifact(a)
}

// FromArtifact builds a replay transport from an in-memory artifact.
func FromArtifact(a *artifact.Artifact) (*Transport, error) {
	t := &Transport{
		descriptors: map[uint8]float32{},
		values:      map[regKey][]byte{},
		timeouts:    map[regKey]bool{},
	}
	for gk, g := range a.Groups {
		group, err := parseKey(gk, 8)
		if err != nil {
			return nil, fmt.Errorf("replay: group key %q: %w", gk, err)
		}
		t.descriptors[uint8(group)] = g.Descriptor
		if uint8(group) > t.maxGroup {
			t.maxGroup = uint8(group)
		}
		for ik, inst := range g.Instances {
			instance, err := parseKey(ik, 8)
			if err != nil {
				return nil, fmt.Errorf("replay: instance key %q: %w", ik, err)
			}
			for rk, entry := range inst.Registers {
				register, err := parseKey(rk, 16)
				if err != nil {
					return nil, fmt.Errorf("replay: register key %q: %w", rk, err)
				}
				key := regKey{uint8(group), uint8(instance), uint16(register)}
				switch {
				case entry.RawHex != nil:
					raw, err := hex.DecodeString(strings.TrimPrefix(*entry.RawHex, "0x"))
					if err != nil {
						return nil, fmt.Errorf("replay: register %s raw_hex: %w", rk, err)
					}
					t.values[key] = raw
				case entry.Error != nil && *entry.Error == "timeout":
					t.timeouts[key] = true
				}
			}
		}
	}
	return t, nil
}

func parseKey(s string, bits int) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, bits)
}

// Request dispatches on the payload's opcode. Anything other than a
// directory probe or a register read is unsupported in a dry run.
func (t *Transport) Request(_ context.Context, _ transport.Address, _, _ byte, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("replay: empty payload")
	}
	switch payload[0] {
	case 0x00:
		return t.directoryProbe(payload)
	case 0x02, 0x06:
		return t.registerRead(payload)
	default:
		return nil, fmt.Errorf("replay: unsupported opcode 0x%02x", payload[0])
	}
}

// Broadcast is accepted and dropped: a dry run has no bus to wake.
func (t *Transport) Broadcast(context.Context, byte, byte, []byte) error { return nil }

func (t *Transport) Close() error { return nil }

func (t *Transport) directoryProbe(payload []byte) ([]byte, error) {
	if len(payload) != 3 {
		return nil, fmt.Errorf("replay: directory probe wants 3 bytes, got %d", len(payload))
	}
	group := payload[1]
	descriptor := float32(math.NaN())
	if group <= t.maxGroup && len(t.descriptors) > 0 {
		descriptor = t.descriptors[group] // absent groups read as 0.0 holes
	}
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(descriptor))
	return b, nil
}

func (t *Transport) registerRead(payload []byte) ([]byte, error) {
	if len(payload) != 6 {
		return nil, fmt.Errorf("replay: register read wants 6 bytes, got %d", len(payload))
	}
	if payload[1] != 0x00 {
		return nil, fmt.Errorf("replay: only register reads are supported, got optype 0x%02x", payload[1])
	}
	group, instance := payload[2], payload[3]
	register := uint16(payload[4]) | uint16(payload[5])<<8
	key := regKey{group, instance, register}

	if t.timeouts[key] {
		return nil, transport.ErrTimeout
	}
	raw, ok := t.values[key]
	if !ok {
		return nil, transport.ErrTimeout
	}
	reply := []byte{0x00, group, payload[4], payload[5]}
	return append(reply, raw...), nil
}
