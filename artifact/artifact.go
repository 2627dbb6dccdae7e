// Package artifact defines the JSON document a scan produces and the
// cross-field consistency checks over it.
package artifact

import (
	"fmt"
	"time"
)

// RegisterEntry is the decoded (or failed) result of reading one register.
// At most one of Value/Error is meaningful for a successful parse; Error
// records the failure when the read timed out, the echo header mismatched,
// or typed decoding failed. A 1-byte status-only reply keeps its status in
// TT/TTKind and notes itself in Error without being a failure.
type RegisterEntry struct {
	ReplyHex       string  `json:"reply_hex,omitempty"`
	TT             *uint8  `json:"tt,omitempty"`
	TTKind         string  `json:"tt_kind,omitempty"`
	RawHex         *string `json:"raw_hex"`
	Type           *string `json:"type"`
	Value          any     `json:"value"`
	Error          *string `json:"error"`
	EbusdName      *string `json:"ebusd_name,omitempty"`
	MyVaillantName *string `json:"myvaillant_name,omitempty"`
}

// Instance is one numbered slot within an instanced group. A non-present
// instance normally carries no Registers map at all; the planner's
// scan-absent override can force a sweep while keeping Present false.
type Instance struct {
	Present   bool                      `json:"present"`
	Registers map[string]*RegisterEntry `json:"registers,omitempty"`
}

// Group is one discovered, classified directory entry plus whatever
// instances/registers the scan collected for it.
type Group struct {
	Descriptor float32              `json:"descriptor"`
	Name       string               `json:"name"`
	IIMax      *uint8               `json:"ii_max,omitempty"`
	RRMax      uint16               `json:"rr_max"`
	Instances  map[string]*Instance `json:"instances,omitempty"`
}

// Meta carries the scan-run metadata.
type Meta struct {
	ScanID           string   `json:"scan_id,omitempty"`
	ScanTimestamp    string   `json:"scan_timestamp"`
	ElapsedSeconds   float64  `json:"elapsed_seconds"`
	Destination      string   `json:"destination"`
	DaemonEndpoint   string   `json:"daemon_endpoint"`
	SchemaSources    []string `json:"schema_sources,omitempty"`
	Incomplete       bool     `json:"incomplete"`
	IncompleteReason string   `json:"incomplete_reason,omitempty"`
	ScanPlan         any      `json:"scan_plan,omitempty"`
}

// B509RegisterEntry is one flat-register dump result. Unlike the extended
// family there is no echo header, so RawHex mirrors ReplyHex; Type/Value
// are only populated when an external schema supplied a type hint.
type B509RegisterEntry struct {
	Addr           string  `json:"addr"`
	Op             string  `json:"op"`
	ReplyHex       *string `json:"reply_hex"`
	RawHex         *string `json:"raw_hex"`
	Type           *string `json:"type"`
	Value          any     `json:"value"`
	Error          *string `json:"error"`
	EbusdName      *string `json:"ebusd_name"`
	MyVaillantName *string `json:"myvaillant_name"`
}

// B509Meta tracks the alternate-family dump's own completion state.
type B509Meta struct {
	ScanTimestamp    string   `json:"scan_timestamp"`
	ElapsedSeconds   float64  `json:"elapsed_seconds"`
	Ranges           []string `json:"ranges"`
	ReadCount        int      `json:"read_count"`
	ErrorCount       int      `json:"error_count"`
	Incomplete       bool     `json:"incomplete"`
	IncompleteReason string   `json:"incomplete_reason,omitempty"`
}

// B509Device holds the flat register sweep results for one destination.
type B509Device struct {
	Registers map[string]*B509RegisterEntry `json:"registers"`
}

// B509Dump is the optional additive alternate-family register sweep.
type B509Dump struct {
	Meta    B509Meta               `json:"meta"`
	Devices map[string]*B509Device `json:"devices"`
}

// Artifact is the single JSON object produced by one scan.
type Artifact struct {
	Meta     Meta              `json:"meta"`
	Groups   map[string]*Group `json:"groups"`
	B509Dump *B509Dump         `json:"b509_dump,omitempty"`
}

// GroupKey renders a group id as the fixed-width 2-digit hex key used
// throughout the artifact.
func GroupKey(group uint8) string {
	return fmt.Sprintf("0x%02x", group)
}

// InstanceKey renders an instance id as the fixed-width 2-digit hex key.
func InstanceKey(instance uint8) string {
	return fmt.Sprintf("0x%02x", instance)
}

// RegisterKey renders a register id as the fixed-width 4-digit hex key.
func RegisterKey(register uint16) string {
	return fmt.Sprintf("0x%04x", register)
}

// DestinationHex renders a bus address in the artifact's "0xHH" form.
func DestinationHex(addr uint8) string {
	return fmt.Sprintf("0x%02x", addr)
}

// RangeKey renders a merged dump range as "0xSSSS..0xEEEE".
func RangeKey(start, end uint16) string {
	return fmt.Sprintf("0x%04x..0x%04x", start, end)
}

// FileName returns the default artifact file name for a destination and
// scan time: b524_scan_0xHH_YYYY-MM-DDTHHMMSSZ.json (colons dropped so
// the name stays portable across filesystems).
func FileName(dst uint8, ts time.Time) string {
	return fmt.Sprintf("b524_scan_%s_%s.json", DestinationHex(dst), ts.UTC().Format("2006-01-02T150405Z"))
}
