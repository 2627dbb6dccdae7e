// Package plan implements the scan planner: turns discovered/classified
// groups and a preset into a concrete sweep plan, plus the request-count
// and ETA estimate formulas.
package plan

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/rob-gra/b524scan/scanner/director"
)

// Preset names the four planning strategies.
type Preset string

const (
	Conservative Preset = "conservative"
	Recommended  Preset = "recommended"
	Aggressive   Preset = "aggressive"
	Custom       Preset = "custom"
)

// Default conservative defaults applied to unknown groups under the
// aggressive preset.
const (
	aggressiveUnknownIIMax uint8  = 0x0A
	aggressiveUnknownRRMax uint16 = 0x30
)

// GroupPlan is the sweep plan for one group: which instances to scan and
// how many registers to read per instance.
type GroupPlan struct {
	GroupID   uint8
	Name      string
	RRMax     uint16
	Instances []uint8 // instance ids to scan; nil/[]uint8{0x00} for singletons
}

// Plan is the full scan plan produced for one destination.
type Plan struct {
	Groups     []GroupPlan
	ScanAbsent bool // when true, non-present instances still get a full sweep
}

// Meta renders the plan in the artifact's embedded form: group keys map
// to hex-formatted rr_max and instance lists.
func (p Plan) Meta() map[string]any {
	groups := make(map[string]any, len(p.Groups))
	for _, g := range p.Groups {
		instances := make([]string, len(g.Instances))
		for i, ii := range g.Instances {
			instances[i] = fmt.Sprintf("0x%02x", ii)
		}
		groups[fmt.Sprintf("0x%02x", g.GroupID)] = map[string]any{
			"rr_max":    fmt.Sprintf("0x%04x", g.RRMax),
			"instances": instances,
		}
	}
	return groups
}

// presenceFunc lets Build consult per-instance presence without importing
// the presence package's transport dependency into this one.
type presenceFunc func(groupID, instance uint8) bool

// Options tunes Build. CustomOverrides is only consulted when Preset ==
// Custom; it maps group id to an explicit instance list and rr_max.
type Options struct {
	Preset          Preset
	CustomOverrides map[uint8]GroupOverride
	// ScanAbsent forces a full register sweep on instances that fail
	// presence, while still recording them as not present.
	ScanAbsent bool
}

// GroupOverride is one group's custom-preset instance/rr_max selection.
type GroupOverride struct {
	Enabled   bool
	Instances []uint8
	RRMax     uint16
}

// Build constructs a Plan from the classified groups, the chosen preset,
// and (for conservative) a presence probe callback.
func Build(groups []director.Group, opts Options, presence presenceFunc) (Plan, error) {
	switch opts.Preset {
	case Conservative, Recommended, Aggressive, Custom:
	case "":
		opts.Preset = Recommended
	default:
		return Plan{}, fmt.Errorf("plan: unknown preset %q", opts.Preset)
	}

	out := Plan{ScanAbsent: opts.ScanAbsent}
	for _, g := range groups {
		if g.Name == "Unknown" {
			if opts.Preset != Aggressive {
				continue
			}
			out.Groups = append(out.Groups, aggressiveUnknownPlan(g))
			continue
		}

		gp := GroupPlan{GroupID: g.GroupID, Name: g.Name, RRMax: g.RRMax}
		if opts.Preset == Custom {
			if ov, ok := opts.CustomOverrides[g.GroupID]; ok {
				if !ov.Enabled {
					continue
				}
				gp.Instances = ov.Instances
				if ov.RRMax != 0 {
					gp.RRMax = ov.RRMax
				}
				out.Groups = append(out.Groups, gp)
				continue
			}
		}

		if g.IIMax == nil {
			gp.Instances = []uint8{0x00}
			out.Groups = append(out.Groups, gp)
			continue
		}

		for ii := uint8(0); ii <= *g.IIMax; ii++ {
			switch opts.Preset {
			case Conservative:
				if presence != nil && presence(g.GroupID, ii) {
					gp.Instances = append(gp.Instances, ii)
				}
			default: // Recommended, Aggressive, and Custom groups with no override
				gp.Instances = append(gp.Instances, ii)
			}
		}
		out.Groups = append(out.Groups, gp)
	}
	return out, nil
}

func aggressiveUnknownPlan(g director.Group) GroupPlan {
	gp := GroupPlan{GroupID: g.GroupID, Name: g.Name, RRMax: aggressiveUnknownRRMax}
	for ii := uint8(0); ii <= aggressiveUnknownIIMax; ii++ {
		gp.Instances = append(gp.Instances, ii)
	}
	return gp
}

// Estimate returns the total register request count the plan implies:
// per group, one request per instance per register up to rr_max.
func Estimate(p Plan) int {
	total := 0
	for _, g := range p.Groups {
		total += len(g.Instances) * (int(g.RRMax) + 1)
	}
	return total
}

// ETASeconds returns estimate/requestRate, or (0, false) when requestRate
// is non-positive and no ETA can be given.
func ETASeconds(p Plan, requestRate float64) (float64, bool) {
	if requestRate <= 0 {
		return 0, false
	}
	return float64(Estimate(p)) / requestRate, true
}

// customDoc is the on-disk shape for LoadCustomOptions.
type customDoc struct {
	Groups map[string]struct {
		Enabled   bool    `yaml:"enabled"`
		Instances []uint8 `yaml:"instances"`
		RRMax     uint16  `yaml:"rr_max"`
	} `yaml:"groups"`
}

// LoadCustomOptions parses a YAML document describing per-group overrides
// for the custom preset.
func LoadCustomOptions(r io.Reader) (Options, error) {
	var doc customDoc
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return Options{}, fmt.Errorf("plan: invalid custom options: %w", err)
	}

	overrides := make(map[uint8]GroupOverride, len(doc.Groups))
	for key, v := range doc.Groups {
		var group uint8
		if _, err := fmt.Sscanf(key, "0x%02x", &group); err != nil {
			return Options{}, fmt.Errorf("plan: invalid group key %q: %w", key, err)
		}
		overrides[group] = GroupOverride{
			Enabled:   v.Enabled,
			Instances: v.Instances,
			RRMax:     v.RRMax,
		}
	}
	return Options{Preset: Custom, CustomOverrides: overrides}, nil
}
