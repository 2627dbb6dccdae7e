// Package ident parses the two payload shapes carried by a device's
// broadcast self-identification exchange: the identification payload
// (manufacturer/device id/firmware+hardware version) and the vendor
// scan-id, a 4-chunk production-date/serial encoding.
package ident

import (
	"errors"
	"fmt"
	"strings"
)

// Primary and secondary command bytes of the broadcast self-identification
// exchange whose response payload this package parses.
const (
	Primary   byte = 0x07
	Secondary byte = 0x04
)

// ErrTooShort is returned when an identification payload is shorter than
// the minimum 5 bytes required to hold manufacturer + version tail.
var ErrTooShort = errors.New("ident: payload too short")

// ErrScanIDShort is returned when neither scan-id chunk layout variant
// decodes to at least 28 usable characters.
var ErrScanIDShort = errors.New("ident: scan-id decode too short")

// Version is a firmware/hardware version pair, each a raw byte (major,
// minor) as carried on the wire — not a binary integer.
type Version struct {
	Major, Minor byte
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Identification is the decoded broadcast self-identification payload.
type Identification struct {
	Manufacturer    byte
	DeviceID        string
	SoftwareVersion Version
	HardwareVersion Version
}

// ParseIdentification decodes an identification payload: byte 0 is the
// manufacturer code, the last 4 bytes are software and hardware version
// (2 bytes each), and everything in between is an ASCII device identifier
// with NUL padding stripped.
func ParseIdentification(b []byte) (Identification, error) {
	if len(b) < 5 {
		return Identification{}, fmt.Errorf("%w: got %d bytes", ErrTooShort, len(b))
	}
	manufacturer := b[0]
	tail := b[len(b)-4:]
	middle := b[1 : len(b)-4]

	return Identification{
		Manufacturer:    manufacturer,
		DeviceID:        strings.TrimSpace(strings.Trim(string(middle), "\x00")),
		SoftwareVersion: Version{tail[0], tail[1]},
		HardwareVersion: Version{tail[2], tail[3]},
	}, nil
}

// ScanID is the decoded 28-character vendor scan-id, split into its named
// fields by character offset.
type ScanID struct {
	Raw      string
	Prefix   string
	Year     string
	Week     string
	Product  string
	Supplier string
	Counter  string
	Suffix   string
}

func fieldsFromString(s string) ScanID {
	return ScanID{
		Raw:      s,
		Prefix:   s[0:2],
		Year:     s[2:4],
		Week:     s[4:6],
		Product:  s[6:16],
		Supplier: s[16:20],
		Counter:  s[20:26],
		Suffix:   s[26:28],
	}
}

// trimChunk strips leading/trailing NUL, space and 0xFF padding bytes.
// strings.Trim operates on runes and misclassifies raw high-bit bytes
// like 0xFF, so trimming is done byte-by-byte instead.
func trimChunk(b []byte) []byte {
	isPad := func(c byte) bool { return c == 0x00 || c == ' ' || c == 0xFF }
	start := 0
	for start < len(b) && isPad(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isPad(b[end-1]) {
		end--
	}
	return b[start:end]
}

// ParseScanID decodes the 4x9-byte vendor scan-id chunk set (the outer
// length prefix is assumed already stripped by the transport). Two
// overlapping layouts are tried in order: Variant A treats each chunk as
// status(1)|ascii(8) and requires every status byte to be zero; Variant B
// uses all 9 bytes of every chunk. Each variant concatenates its chunks
// into one buffer first and trims padding only once, over the joined
// buffer — not per chunk — so padding that lands on an interior chunk
// boundary isn't mistaken for a true leading/trailing pad run. The first
// variant whose trimmed string reaches 28 characters wins.
func ParseScanID(chunks [4][9]byte) (ScanID, error) {
	allStatusZero := true
	for _, c := range chunks {
		if c[0] != 0 {
			allStatusZero = false
			break
		}
	}

	if allStatusZero {
		var raw []byte
		for _, c := range chunks {
			raw = append(raw, c[1:9]...)
		}
		if s := string(trimChunk(raw)); len(s) >= 28 {
			return fieldsFromString(s[:28]), nil
		}
	}

	var raw []byte
	for _, c := range chunks {
		raw = append(raw, c[:]...)
	}
	if s := string(trimChunk(raw)); len(s) >= 28 {
		return fieldsFromString(s[:28]), nil
	}

	return ScanID{}, ErrScanIDShort
}
