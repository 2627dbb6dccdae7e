package ebusd

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rob-gra/b524scan/transport"
)

// InfoEntry is one parsed line from the daemon's "info" response: a bus
// address plus a normalized role.
type InfoEntry struct {
	Address transport.Address
	Role    string
	Text    string
}

// Roles are normalized terms; the daemon's own legacy master/slave
// vocabulary is translated here and never surfaces in InfoEntry.Role.
const (
	RoleSelf    = "self"
	RoleTarget  = "target"
	RoleUnknown = "unknown"
)

var infoLineRE = regexp.MustCompile(`(?i)^address\s+([0-9a-fA-F]{2}):\s*(.+)$`)

// ParseInfoLine recognizes lines matching
// "address <HEX>: <text-with-role-token>[, scanned ...]" and normalizes
// the role token. ok is false for any non-matching line.
func ParseInfoLine(line string) (entry InfoEntry, ok bool) {
	m := infoLineRE.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return InfoEntry{}, false
	}
	addrByte, err := strconv.ParseUint(m[1], 16, 8)
	if err != nil {
		return InfoEntry{}, false
	}

	text := m[2]
	if idx := strings.Index(text, ", scanned"); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)

	return InfoEntry{
		Address: transport.Address(addrByte),
		Role:    classifyRole(text),
		Text:    text,
	}, true
}

// classifyRole maps the daemon's legacy master/slave vocabulary (and any
// modern controller/target wording) onto the two roles this package cares
// about, so legacy terms never leak into an InfoEntry.
func classifyRole(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "self"):
		return RoleSelf
	case strings.Contains(lower, "master"), strings.Contains(lower, "controller"):
		return RoleSelf
	case strings.Contains(lower, "slave"), strings.Contains(lower, "target"):
		return RoleTarget
	default:
		return RoleUnknown
	}
}

// FilterTargets parses a daemon info response (one entry per line) and
// returns the addresses of every non-self target-role line, deduplicated
// and in ascending address order.
func FilterTargets(lines []string) []transport.Address {
	var out []transport.Address
	seen := map[transport.Address]bool{}
	for _, l := range lines {
		e, ok := ParseInfoLine(l)
		if !ok || e.Role != RoleTarget || seen[e.Address] {
			continue
		}
		seen[e.Address] = true
		out = append(out, e.Address)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
