package artifact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "0x03", GroupKey(0x03))
	assert.Equal(t, "0x0a", InstanceKey(0x0A))
	assert.Equal(t, "0x001c", RegisterKey(0x001C))
	assert.Equal(t, "0x15", DestinationHex(0x15))
	assert.Equal(t, "0x2700..0x27ff", RangeKey(0x2700, 0x27FF))
}

func TestFileName(t *testing.T) {
	ts := time.Date(2026, 2, 6, 19, 44, 24, 0, time.UTC)
	assert.Equal(t, "b524_scan_0x15_2026-02-06T194424Z.json", FileName(0x15, ts))
}

func TestMarshalRoundTrip(t *testing.T) {
	raw := "01"
	a := &Artifact{
		Meta: Meta{ScanTimestamp: "2026-02-06T19:44:24Z", Destination: "0x15"},
		Groups: map[string]*Group{
			"0x03": {
				Descriptor: 1.0,
				Name:       "Zones",
				RRMax:      0x2F,
				Instances: map[string]*Instance{
					"0x00": {Present: true, Registers: map[string]*RegisterEntry{
						"0x001c": {ReplyHex: "01031c0001", RawHex: &raw},
					}},
				},
			},
		},
	}
	b, err := Marshal(a)
	require.NoError(t, err)

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, a.Meta.Destination, got.Meta.Destination)
	require.Contains(t, got.Groups, "0x03")
	require.Contains(t, got.Groups["0x03"].Instances, "0x00")
	entry := got.Groups["0x03"].Instances["0x00"].Registers["0x001c"]
	require.NotNil(t, entry.RawHex)
	assert.Equal(t, "01", *entry.RawHex)
}
