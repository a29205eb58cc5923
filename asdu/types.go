// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package asdu

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// TypeID identifies the structure of an information object. Only the
// subset of the standard actually exercised by test rows is implemented.
type TypeID uint8

// Type identifiers supported by this harness.
const (
	MSpNa1 TypeID = 1   // single-point
	MDpNa1 TypeID = 3   // double-point
	MStNa1 TypeID = 5   // step position
	MBoNa1 TypeID = 7   // bitstring-32
	MMeNa1 TypeID = 9   // normalized
	MMeNb1 TypeID = 11  // scaled
	MMeNc1 TypeID = 13  // float
	MItNa1 TypeID = 15  // counter
	MSpTb1 TypeID = 30  // single-point with CP56Time2a
	MDpTb1 TypeID = 31  // double-point with CP56Time2a
	MMeTf1 TypeID = 36  // float with CP56Time2a
	CDcTa1 TypeID = 58  // double-command with CP56Time2a
	CSeTc1 TypeID = 63  // set-point float with CP56Time2a
	MEiNa1 TypeID = 70  // end-of-initialization
	CIcNa1 TypeID = 100 // interrogation command
	CCsNa1 TypeID = 103 // clock synchronization
)

// typeSpec describes the fixed wire geometry of a type identifier: total
// information-object bytes (excluding IOA) and the value-field bytes
// within it (excluding qualifier/timestamp).
// typeSpec's byte layout is always [value (valueLen)] then, if qualByte,
// [one qualifier/quality octet] then, if hasTime, [CP56Time2a: the full
// 7 octets, except type 58, which carries only the first 6 (see below)].
// Types whose quality bits live inside the value octet itself (SIQ, DIQ,
// DCO) set qualByte=false.
type typeSpec struct {
	infoLen  int
	valueLen int
	qualByte bool
	hasTime  bool
}

var typeSpecs = map[TypeID]typeSpec{
	MSpNa1: {infoLen: 1, valueLen: 1},
	MDpNa1: {infoLen: 1, valueLen: 1},
	MStNa1: {infoLen: 2, valueLen: 1, qualByte: true},
	MBoNa1: {infoLen: 5, valueLen: 4, qualByte: true},
	MMeNa1: {infoLen: 3, valueLen: 2, qualByte: true},
	MMeNb1: {infoLen: 3, valueLen: 2, qualByte: true},
	MMeNc1: {infoLen: 5, valueLen: 4, qualByte: true},
	MItNa1: {infoLen: 5, valueLen: 4, qualByte: true},
	MSpTb1: {infoLen: 8, valueLen: 1, hasTime: true},
	MDpTb1: {infoLen: 8, valueLen: 1, hasTime: true},
	MMeTf1: {infoLen: 12, valueLen: 4, qualByte: true, hasTime: true},
	// Type 58's info_len is fixed at 7 with the DCO byte counted as part of
	// the 7, so its trailing timestamp carries only the first 6 of
	// CP56Time2a's 7 octets (the year octet is dropped). decodeValue/
	// encodeValue size the timestamp field from infoLen rather than a
	// literal 7, so this is the only place the width is declared.
	CDcTa1: {infoLen: 7, valueLen: 1, hasTime: true},
	CSeTc1: {infoLen: 12, valueLen: 4, qualByte: true, hasTime: true},
	MEiNa1: {infoLen: 1, valueLen: 1},
	CIcNa1: {infoLen: 1, valueLen: 1},
	CCsNa1: {infoLen: 7, valueLen: 0, hasTime: true},
}

// InfoLen returns the total information-object length for id, and ok=false
// if id is unsupported.
func InfoLen(id TypeID) (int, bool) {
	s, ok := typeSpecs[id]
	return s.infoLen, ok
}

// ValueKind tags the concrete representation carried by a TypedValue.
type ValueKind int

// ValueKind values, one per supported type's value shape.
const (
	KindRaw ValueKind = iota
	KindSinglePoint
	KindDoublePoint
	KindStepPosition
	KindBitstring32
	KindNormalized
	KindScaled
	KindFloat
	KindCounter
	KindDCO
	KindCOI
	KindQOI
	KindNone // carries no value bytes (e.g. clock-sync, type 103)
)

// TypedValue is a tagged variant over the supported type identifiers'
// value encodings. Exactly one of the typed fields is meaningful,
// selected by Kind; Raw holds the byte passthrough for an unsupported
// type identifier.
type TypedValue struct {
	Kind ValueKind

	SinglePoint   SinglePoint
	DoublePoint   DoublePoint
	StepPosition  int8
	Bitstring32   uint32
	Normalized    int16
	Scaled        int16
	Float         float32
	Counter       int32
	DCO           DCO
	COI           COI
	QOI           QOI

	Raw []byte
}

// Qualifier is the raw qualifier byte attached to an information object
// (QDS/DCO selector bits/QOS/QOI/COI depending on type). Present reports
// that the object carries quality bits at all (set by the wire decoder
// and by explicit row overrides); Explicit additionally marks a signal
// row's declared override, which wins over the type's default of zero.
type Qualifier struct {
	Value    byte
	Present  bool
	Explicit bool
}

// InformationObject is one decoded/encoded element of an ASDU.
type InformationObject struct {
	IOA       InfoObjAddr
	Value     TypedValue
	Qualifier Qualifier
	Timestamp *CP56
}

// CP56 wraps a parsed CP56Time2a so InformationObject.Timestamp can be nil
// for types that don't carry one, without resorting to the zero time.Time
// as a sentinel.
type CP56 struct {
	Wire [7]byte
}

// ASDU is the payload of an I-frame.
type ASDU struct {
	TypeID          TypeID
	VSQ             byte // structure qualifier + object count
	Cause           CauseOfTransmission
	Originator      OriginAddr
	CommonAddress   CommonAddr
	InformationObjs []InformationObject
}

// DefaultVSQ is the VSQ this harness emits for every signal-row-derived
// I-frame: one object, non-sequential.
const DefaultVSQ byte = 0x01

// String renders the value the way recordings and history entries display
// it: the per-kind textual form for a known kind, hex for Raw passthrough.
func (v TypedValue) String() string {
	switch v.Kind {
	case KindSinglePoint:
		return v.SinglePoint.String()
	case KindDoublePoint:
		return v.DoublePoint.String()
	case KindStepPosition:
		return strconv.Itoa(int(v.StepPosition))
	case KindBitstring32:
		return strconv.FormatUint(uint64(v.Bitstring32), 2)
	case KindNormalized:
		return strconv.Itoa(int(v.Normalized))
	case KindScaled:
		return strconv.Itoa(int(v.Scaled))
	case KindFloat:
		return strconv.FormatFloat(float64(v.Float), 'g', -1, 32)
	case KindCounter:
		return strconv.Itoa(int(v.Counter))
	case KindDCO:
		return v.DCO.Command.String()
	case KindCOI:
		return strconv.Itoa(int(v.COI.Reason))
	case KindQOI:
		return strconv.Itoa(int(v.QOI))
	case KindNone:
		return ""
	default:
		parts := make([]string, len(v.Raw))
		for i, b := range v.Raw {
			parts[i] = fmt.Sprintf("0x%02X", b)
		}
		return strings.Join(parts, " ")
	}
}

// Errors returned while decoding or encoding ASDU values.
var (
	ErrUnsupportedType  = errors.New("asdu: unsupported type identifier")
	ErrShortInformation = errors.New("asdu: information field shorter than type requires")
	ErrBadQualifier     = errors.New("asdu: qualifier must be exactly 8 binary digits")
)
