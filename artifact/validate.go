package artifact

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rob-gra/b524scan/protocol/value"
)

// Violation is one consistency failure found by Validate.
type Violation struct {
	GroupKey    string
	InstanceKey string
	RegisterKey string
	Message     string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s/%s/%s: %s", v.GroupKey, v.InstanceKey, v.RegisterKey, v.Message)
}

// Validate walks every group/instance/register in a and returns every
// cross-field consistency violation found; it never stops
// at the first one.
func Validate(a *Artifact) []Violation {
	var violations []Violation
	if a == nil {
		return violations
	}

	for gk, g := range a.Groups {
		groupNum, err := parseHexKey(gk)
		if err != nil {
			violations = append(violations, Violation{GroupKey: gk, Message: "key is not valid hex: " + err.Error()})
			continue
		}
		for ik, inst := range g.Instances {
			for rk, reg := range inst.Registers {
				regNum, err := parseHexKey(rk)
				if err != nil {
					violations = append(violations, Violation{gk, ik, rk, "register key is not valid hex: " + err.Error()})
					continue
				}
				violations = append(violations, validateEntry(gk, ik, rk, uint8(groupNum), uint16(regNum), reg)...)
			}
		}
	}
	return violations
}

func parseHexKey(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	return strconv.ParseUint(s, 16, 32)
}

func validateEntry(gk, ik, rk string, group uint8, reg uint16, e *RegisterEntry) []Violation {
	var out []Violation
	add := func(msg string) { out = append(out, Violation{gk, ik, rk, msg}) }

	var replyBytes []byte
	if e.ReplyHex != "" {
		b, err := hex.DecodeString(e.ReplyHex)
		if err != nil {
			add("reply_hex is not valid hex: " + err.Error())
		} else {
			replyBytes = b
		}
	}

	if len(replyBytes) == 1 && e.RawHex != nil {
		add("1-byte reply_hex must not carry raw_hex")
	}

	if len(replyBytes) >= 4 {
		if replyBytes[1] != group {
			add(fmt.Sprintf("reply_hex group byte 0x%02x does not match key group 0x%02x", replyBytes[1], group))
		}
		observedReg := uint16(replyBytes[2]) | uint16(replyBytes[3])<<8
		if observedReg != reg {
			add(fmt.Sprintf("reply_hex register 0x%04x does not match key register 0x%04x", observedReg, reg))
		}
		if e.RawHex != nil {
			rawStr := strings.TrimPrefix(*e.RawHex, "0x")
			raw, err := hex.DecodeString(rawStr)
			if err != nil {
				add("raw_hex is not valid hex: " + err.Error())
			} else if !bytesEqual(replyBytes[4:], raw) {
				add("raw_hex does not match reply_hex tail")
			}
		}
	}

	if e.Type != nil && e.RawHex != nil && e.Error == nil {
		rawStr := strings.TrimPrefix(*e.RawHex, "0x")
		raw, err := hex.DecodeString(rawStr)
		if err != nil {
			add("raw_hex is not valid hex: " + err.Error())
		} else if decoded, derr := value.Decode(*e.Type, raw); derr != nil {
			add(fmt.Sprintf("stored type %q does not decode raw_hex: %v", *e.Type, derr))
		} else if !valuesMatch(decoded, e.Value) {
			add(fmt.Sprintf("decoded value %v does not round-trip stored value %v", decoded, e.Value))
		}
	}

	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// valuesMatch compares a freshly decoded value against the JSON-round-
// tripped stored value, tolerating the numeric-type drift JSON decoding
// introduces (everything becomes float64) and applying a 1e-6 relative/
// absolute tolerance to floats.
func valuesMatch(decoded, stored any) bool {
	df, dok := toFloat(decoded)
	sf, sok := toFloat(stored)
	if dok && sok {
		if math.IsNaN(df) && math.IsNaN(sf) {
			return true
		}
		diff := math.Abs(df - sf)
		return diff <= 1e-6 || diff <= 1e-6*math.Abs(sf)
	}
	return fmt.Sprintf("%v", decoded) == fmt.Sprintf("%v", stored)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case uint8:
		return float64(n), true
	case int8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case int16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case int32:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
