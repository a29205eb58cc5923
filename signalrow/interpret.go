// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package signalrow

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/iec104harness/harness/asdu"
)

// InterpretErrorKind classifies why Interpret rejected a row.
type InterpretErrorKind int

// Kinds of InterpretError.
const (
	BadTypeId InterpretErrorKind = iota
	BadQualifier
	BadIoa
	BadValue
)

// InterpretError reports a rejected signal row.
type InterpretError struct {
	Kind InterpretErrorKind
	Err  error
}

func (e *InterpretError) Error() string { return e.Err.Error() }
func (e *InterpretError) Unwrap() error { return e.Err }

func badTypeID(msg string) error  { return &InterpretError{Kind: BadTypeId, Err: errors.New(msg)} }
func badQualifier(msg string) error { return &InterpretError{Kind: BadQualifier, Err: errors.New(msg)} }
func badIOA(msg string) error     { return &InterpretError{Kind: BadIoa, Err: errors.New(msg)} }
func badValue(msg string) error   { return &InterpretError{Kind: BadValue, Err: errors.New(msg)} }

// Skip is returned by Interpret for a row whose type_id is <= 0. Callers
// should treat this as "no frame to send", not a failure.
var Skip = errors.New("signalrow: type_id <= 0, row ignored")

// Profile supplies the per-endpoint defaults Interpret needs but a row
// doesn't carry itself.
type Profile struct {
	CommonAddress     asdu.CommonAddr
	DefaultOriginator asdu.OriginAddr
	TimeZone          *time.Location
}

// Interpret builds the ASDU an endpoint should send for row. now is used
// for any CP56Time2a-tagged type; callers typically pass time.Now().
func Interpret(row Row, profile Profile, now time.Time) (*asdu.ASDU, error) {
	if row.TypeID <= 0 {
		return nil, Skip
	}
	typeID := asdu.TypeID(row.TypeID)
	if _, known := asdu.InfoLen(typeID); !known {
		return nil, badTypeID("signalrow: unsupported type_id " + strconv.Itoa(row.TypeID))
	}

	ioa := row.IOA()
	if ioa > asdu.MaxInfoObjAddr {
		return nil, badIOA("signalrow: ioa does not fit in 24 bits")
	}

	cause := uint8(20)
	if row.Cause > 0 {
		cause = uint8(row.Cause)
	}

	originator := profile.DefaultOriginator
	if row.HasOriginator {
		originator = asdu.OriginAddr(row.Originator)
	}

	var qualifier asdu.Qualifier
	if row.Qualifier != "" {
		if !qualifierPattern.MatchString(row.Qualifier) {
			return nil, badQualifier("signalrow: qualifier must match ^[01]{8}$")
		}
		qualifier = asdu.Qualifier{Value: parseBinaryByte(row.Qualifier), Present: true, Explicit: true}
	}

	value, err := parseValue(typeID, row.Value, qualifier)
	if err != nil {
		return nil, badValue(err.Error())
	}

	obj := asdu.InformationObject{IOA: ioa, Value: value, Qualifier: qualifier}
	if hasTime(typeID) {
		var cp asdu.CP56
		copy(cp.Wire[:], asdu.EncodeCP56Time2a(now, profile.TimeZone))
		obj.Timestamp = &cp
	}

	return &asdu.ASDU{
		TypeID:          typeID,
		VSQ:             asdu.DefaultVSQ,
		Cause:           asdu.CauseOfTransmission{Cause: cause & 0x3F},
		Originator:      originator,
		CommonAddress:   profile.CommonAddress,
		InformationObjs: []asdu.InformationObject{obj},
	}, nil
}

func hasTime(id asdu.TypeID) bool {
	switch id {
	case asdu.MSpTb1, asdu.MDpTb1, asdu.MMeTf1, asdu.CDcTa1, asdu.CSeTc1, asdu.CCsNa1:
		return true
	default:
		return false
	}
}

func parseBinaryByte(s string) byte {
	var b byte
	for i := 0; i < 8 && i < len(s); i++ {
		b <<= 1
		if s[i] == '1' {
			b |= 1
		}
	}
	return b
}

// parseValue interprets a row's "Wert" text per type_id.
func parseValue(typeID asdu.TypeID, text string, qualifier asdu.Qualifier) (asdu.TypedValue, error) {
	text = strings.TrimSpace(text)
	switch typeID {
	case asdu.MSpNa1, asdu.MSpTb1:
		n, err := strconv.Atoi(text)
		if err != nil {
			return asdu.TypedValue{}, err
		}
		return asdu.TypedValue{Kind: asdu.KindSinglePoint, SinglePoint: asdu.SinglePoint(n & 0x01)}, nil

	case asdu.MDpNa1, asdu.MDpTb1:
		n, err := strconv.Atoi(text)
		if err != nil {
			return asdu.TypedValue{}, err
		}
		return asdu.TypedValue{Kind: asdu.KindDoublePoint, DoublePoint: asdu.DoublePoint(n & 0x03)}, nil

	case asdu.MStNa1:
		n, err := strconv.ParseInt(text, 10, 8)
		if err != nil {
			return asdu.TypedValue{}, err
		}
		return asdu.TypedValue{Kind: asdu.KindStepPosition, StepPosition: int8(n)}, nil

	case asdu.MBoNa1:
		n, err := strconv.ParseUint(text, 0, 32)
		if err != nil {
			return asdu.TypedValue{}, err
		}
		return asdu.TypedValue{Kind: asdu.KindBitstring32, Bitstring32: uint32(n)}, nil

	case asdu.MMeNa1:
		n, err := strconv.ParseInt(text, 10, 16)
		if err != nil {
			return asdu.TypedValue{}, err
		}
		return asdu.TypedValue{Kind: asdu.KindNormalized, Normalized: int16(n)}, nil

	case asdu.MMeNb1:
		n, err := strconv.ParseInt(text, 10, 16)
		if err != nil {
			return asdu.TypedValue{}, err
		}
		return asdu.TypedValue{Kind: asdu.KindScaled, Scaled: int16(n)}, nil

	case asdu.MMeNc1, asdu.MMeTf1, asdu.CSeTc1:
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return asdu.TypedValue{}, err
		}
		return asdu.TypedValue{Kind: asdu.KindFloat, Float: float32(f)}, nil

	case asdu.MItNa1:
		n, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return asdu.TypedValue{}, err
		}
		return asdu.TypedValue{Kind: asdu.KindCounter, Counter: int32(n)}, nil

	case asdu.CDcTa1:
		n, err := strconv.Atoi(text)
		if err != nil {
			return asdu.TypedValue{}, err
		}
		// The DCO octet is S/E(1) + QU(5) + DCS(2) = 8 bits, so an
		// explicit 8-binary-digit row qualifier already fully determines
		// S/E and QU; DCS itself always comes from the value text,
		// overriding whatever the qualifier's low two bits carried.
		dco := asdu.DCO{Command: asdu.DoublePoint(n & 0x03)}
		if qualifier.Explicit {
			dco = asdu.ParseDCO(qualifier.Value)
			dco.Command = asdu.DoublePoint(n & 0x03)
		}
		return asdu.TypedValue{Kind: asdu.KindDCO, DCO: dco}, nil

	case asdu.MEiNa1:
		n, err := strconv.Atoi(text)
		if err != nil {
			return asdu.TypedValue{}, err
		}
		return asdu.TypedValue{Kind: asdu.KindCOI, COI: asdu.ParseCOI(byte(n))}, nil

	case asdu.CIcNa1:
		if text == "" {
			return asdu.TypedValue{Kind: asdu.KindQOI, QOI: asdu.QOIStation}, nil
		}
		n, err := strconv.Atoi(text)
		if err != nil {
			return asdu.TypedValue{}, err
		}
		return asdu.TypedValue{Kind: asdu.KindQOI, QOI: asdu.QOI(n)}, nil

	case asdu.CCsNa1:
		return asdu.TypedValue{Kind: asdu.KindNone}, nil

	default:
		return asdu.TypedValue{}, errors.New("signalrow: no value parser for this type_id")
	}
}
