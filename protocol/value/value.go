// Package value implements the typed scalar decoder/encoder for register
// payload bytes: a type-spec string plus a byte slice maps
// to a Go scalar, with optional length-based inference when no spec is
// supplied.
package value

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrParse is the sentinel wrapped by every decode/encode width or range
// failure; register entries surface these as "parse_error: <msg>" strings.
var ErrParse = errors.New("parse_error")

// Well-known spec kinds.
const (
	UCH  = "UCH"
	I8   = "I8"
	BOOL = "BOOL"
	UIN  = "UIN"
	I16  = "I16"
	U32  = "U32"
	I32  = "I32"
	EXP  = "EXP"
	STR  = "STR"
	HEX  = "HEX"
	HDA3 = "HDA:3"
	HTI  = "HTI"
)

func widthErr(spec string, got int) error {
	return fmt.Errorf("%w: spec %s observed length %d", ErrParse, spec, got)
}

// splitSpec separates a "KIND" or "KIND:param" spec string.
func splitSpec(spec string) (kind, param string) {
	if i := strings.IndexByte(spec, ':'); i >= 0 {
		return spec[:i], spec[i+1:]
	}
	return spec, ""
}

// Decode maps a type-spec string and byte slice to a typed scalar. It
// returns (nil, nil) only for an EXP value that decodes to not-a-number.
// Every width mismatch or out-of-range field returns an error wrapping
// ErrParse.
func Decode(spec string, b []byte) (any, error) {
	kind, param := splitSpec(spec)
	switch kind {
	case UCH:
		if len(b) != 1 {
			return nil, widthErr(spec, len(b))
		}
		return b[0], nil
	case I8:
		if len(b) != 1 {
			return nil, widthErr(spec, len(b))
		}
		return int8(b[0]), nil
	case BOOL:
		if len(b) != 1 {
			return nil, widthErr(spec, len(b))
		}
		return b[0] != 0, nil
	case UIN:
		if len(b) != 2 {
			return nil, widthErr(spec, len(b))
		}
		return binary.LittleEndian.Uint16(b), nil
	case I16:
		if len(b) != 2 {
			return nil, widthErr(spec, len(b))
		}
		return int16(binary.LittleEndian.Uint16(b)), nil
	case U32:
		if len(b) != 4 {
			return nil, widthErr(spec, len(b))
		}
		return binary.LittleEndian.Uint32(b), nil
	case I32:
		if len(b) != 4 {
			return nil, widthErr(spec, len(b))
		}
		return int32(binary.LittleEndian.Uint32(b)), nil
	case EXP:
		if len(b) != 4 {
			return nil, widthErr(spec, len(b))
		}
		f := math.Float32frombits(binary.LittleEndian.Uint32(b))
		if math.IsNaN(float64(f)) {
			return nil, nil
		}
		return f, nil
	case STR:
		i := bytes.IndexByte(b, 0)
		if i < 0 {
			i = len(b)
		}
		return latin1Decode(b[:i]), nil
	case HEX:
		n, err := strconv.Atoi(param)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid HEX spec %q", ErrParse, spec)
		}
		if len(b) != n {
			return nil, widthErr(spec, len(b))
		}
		return "0x" + hex.EncodeToString(b), nil
	case "HDA":
		if param != "3" || len(b) != 3 {
			return nil, widthErr(spec, len(b))
		}
		return decodeHDA3(b)
	case HTI:
		if len(b) != 3 {
			return nil, widthErr(spec, len(b))
		}
		return decodeHTI(b)
	default:
		return nil, fmt.Errorf("%w: unknown spec %q", ErrParse, spec)
	}
}

// Encode maps a typed scalar back to its wire bytes for the given spec.
func Encode(spec string, v any) ([]byte, error) {
	kind, param := splitSpec(spec)
	switch kind {
	case UCH:
		n, ok := v.(uint8)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants uint8, got %T", ErrParse, spec, v)
		}
		return []byte{n}, nil
	case I8:
		n, ok := v.(int8)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants int8, got %T", ErrParse, spec, v)
		}
		return []byte{byte(n)}, nil
	case BOOL:
		n, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants bool, got %T", ErrParse, spec, v)
		}
		if n {
			return []byte{0x01}, nil
		}
		return []byte{0x00}, nil
	case UIN:
		n, ok := v.(uint16)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants uint16, got %T", ErrParse, spec, v)
		}
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, n)
		return b, nil
	case I16:
		n, ok := v.(int16)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants int16, got %T", ErrParse, spec, v)
		}
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(n))
		return b, nil
	case U32:
		n, ok := v.(uint32)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants uint32, got %T", ErrParse, spec, v)
		}
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, n)
		return b, nil
	case I32:
		n, ok := v.(int32)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants int32, got %T", ErrParse, spec, v)
		}
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(n))
		return b, nil
	case EXP:
		f, ok := v.(float32)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants float32, got %T", ErrParse, spec, v)
		}
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(f))
		return b, nil
	case STR:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants string, got %T", ErrParse, spec, v)
		}
		return latin1Encode(s)
	case HEX:
		n, err := strconv.Atoi(param)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid HEX spec %q", ErrParse, spec)
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants string, got %T", ErrParse, spec, v)
		}
		s = strings.TrimPrefix(s, "0x")
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		if len(b) != n {
			return nil, widthErr(spec, len(b))
		}
		return b, nil
	case "HDA":
		if param != "3" {
			return nil, fmt.Errorf("%w: unknown spec %q", ErrParse, spec)
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants string, got %T", ErrParse, spec, v)
		}
		return encodeHDA3(s)
	case HTI:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants string, got %T", ErrParse, spec, v)
		}
		return encodeHTI(s)
	default:
		return nil, fmt.Errorf("%w: unknown spec %q", ErrParse, spec)
	}
}

// Infer picks a type-spec for an unannotated byte slice. Order is fixed:
// 4 bytes -> EXP, 2 -> UIN, 1 -> UCH, 3 -> HDA:3 then HTI; otherwise a
// NUL-terminated printable Latin-1 run is classified STR:*, and anything
// else falls back to HEX:n so bytes are never dropped.
func Infer(b []byte) (spec string, val any, err error) {
	switch len(b) {
	case 4:
		v, derr := Decode(EXP, b)
		if derr == nil {
			return EXP, v, nil
		}
	case 2:
		v, derr := Decode(UIN, b)
		if derr == nil {
			return UIN, v, nil
		}
	case 1:
		v, derr := Decode(UCH, b)
		if derr == nil {
			return UCH, v, nil
		}
	case 3:
		if v, derr := Decode(HDA3, b); derr == nil {
			return HDA3, v, nil
		}
		if v, derr := Decode(HTI, b); derr == nil {
			return HTI, v, nil
		}
	}

	if looksLikeLatin1String(b) {
		v, _ := Decode("STR:*", b)
		return "STR:*", v, nil
	}

	spec = fmt.Sprintf("HEX:%d", len(b))
	v, derr := Decode(spec, b)
	if derr != nil {
		return spec, nil, derr
	}
	return spec, v, nil
}

// looksLikeLatin1String reports whether b is a NUL-terminated printable
// Latin-1 run with only NUL padding after the terminator. Values without
// a terminator are left to the HEX fallback so packed binary data is not
// misclassified as text.
func looksLikeLatin1String(b []byte) bool {
	i := bytes.IndexByte(b, 0)
	if i <= 0 {
		return false
	}
	for _, c := range b[i:] {
		if c != 0 {
			return false
		}
	}
	for _, c := range b[:i] {
		if !isPrintableLatin1(c) {
			return false
		}
	}
	return true
}

func isPrintableLatin1(c byte) bool {
	return (c >= 0x20 && c <= 0x7e) || c >= 0xa0
}

func latin1Decode(b []byte) string {
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}

func latin1Encode(s string) ([]byte, error) {
	b := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			return nil, fmt.Errorf("%w: rune %U not representable in Latin-1", ErrParse, r)
		}
		b = append(b, byte(r))
	}
	return b, nil
}

func bcdToDec(b byte) (int, error) {
	hi, lo := b>>4, b&0x0f
	if hi > 9 || lo > 9 {
		return 0, fmt.Errorf("%w: invalid BCD byte 0x%02x", ErrParse, b)
	}
	return int(hi)*10 + int(lo), nil
}

func decToBCD(v int) byte {
	return byte((v/10)<<4 | (v % 10))
}

func decodeHDA3(b []byte) (any, error) {
	day, err := bcdToDec(b[0])
	if err != nil {
		return nil, err
	}
	month, err := bcdToDec(b[1])
	if err != nil {
		return nil, err
	}
	year, err := bcdToDec(b[2])
	if err != nil {
		return nil, err
	}
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return nil, fmt.Errorf("%w: HDA:3 date %02d-%02d out of range", ErrParse, month, day)
	}
	fullYear := 2000 + year
	if !isValidCalendarDate(fullYear, month, day) {
		return nil, fmt.Errorf("%w: HDA:3 date %04d-%02d-%02d is not a real calendar date", ErrParse, fullYear, month, day)
	}
	return fmt.Sprintf("%04d-%02d-%02d", fullYear, month, day), nil
}

// isValidCalendarDate reports whether (year, month, day) is a real
// calendar date — including leap-year Feb 29 handling — by round-tripping
// through time.Date and rejecting any combination that normalizes out
// (e.g. 2026-02-30, 2026-04-31).
func isValidCalendarDate(year, month, day int) bool {
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	gotYear, gotMonth, gotDay := t.Date()
	return gotYear == year && int(gotMonth) == month && gotDay == day
}

func encodeHDA3(s string) ([]byte, error) {
	var year, month, day int
	if _, err := fmt.Sscanf(s, "%4d-%2d-%2d", &year, &month, &day); err != nil {
		return nil, fmt.Errorf("%w: invalid HDA:3 date %q", ErrParse, s)
	}
	if day < 1 || day > 31 || month < 1 || month > 12 || year < 2000 || year > 2099 {
		return nil, fmt.Errorf("%w: HDA:3 date %q out of range", ErrParse, s)
	}
	return []byte{decToBCD(day), decToBCD(month), decToBCD(year - 2000)}, nil
}

func decodeHTI(b []byte) (any, error) {
	hour, err := bcdToDec(b[0])
	if err != nil {
		return nil, err
	}
	minute, err := bcdToDec(b[1])
	if err != nil {
		return nil, err
	}
	second, err := bcdToDec(b[2])
	if err != nil {
		return nil, err
	}
	if hour > 23 || minute > 59 || second > 59 {
		return nil, fmt.Errorf("%w: HTI time %02d:%02d:%02d out of range", ErrParse, hour, minute, second)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hour, minute, second), nil
}

func encodeHTI(s string) ([]byte, error) {
	var hour, minute, second int
	if _, err := fmt.Sscanf(s, "%2d:%2d:%2d", &hour, &minute, &second); err != nil {
		return nil, fmt.Errorf("%w: invalid HTI time %q", ErrParse, s)
	}
	if hour > 23 || minute > 59 || second > 59 {
		return nil, fmt.Errorf("%w: HTI time %q out of range", ErrParse, s)
	}
	return []byte{decToBCD(hour), decToBCD(minute), decToBCD(second)}, nil
}
