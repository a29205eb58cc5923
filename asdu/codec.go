// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package asdu

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeASDU parses an ASDU body (everything after the I-frame's 4 control
// octets). Unsupported type identifiers are preserved as
// raw bytes rather than rejected, so the caller can still record and
// forward what was on the wire.
func DecodeASDU(b []byte, p Params) (*ASDU, error) {
	if len(b) < 6 {
		return nil, ErrShortInformation
	}
	typeID := TypeID(b[0])
	vsq := b[1]
	cause := ParseCauseOfTransmission(b[2])
	originator := OriginAddr(b[3])
	ca := CommonAddr(binary.LittleEndian.Uint16(b[4:6]))

	a := &ASDU{
		TypeID:        typeID,
		VSQ:           vsq,
		Cause:         cause,
		Originator:    originator,
		CommonAddress: ca,
	}

	body := b[6:]
	spec, known := typeSpecs[typeID]
	count := int(vsq & 0x7F)
	if count == 0 {
		count = 1
	}
	sequential := vsq&0x80 != 0

	if !known {
		a.InformationObjs = []InformationObject{{Value: TypedValue{Kind: KindRaw, Raw: append([]byte(nil), body...)}}}
		return a, nil
	}

	offset := 0
	var firstIOA InfoObjAddr
	for i := 0; i < count; i++ {
		var ioa InfoObjAddr
		if i == 0 || !sequential {
			if len(body) < offset+3 {
				return nil, ErrShortInformation
			}
			ioa = InfoObjAddr(uint32(body[offset]) | uint32(body[offset+1])<<8 | uint32(body[offset+2])<<16)
			offset += 3
			if i == 0 {
				firstIOA = ioa
			}
		} else {
			ioa = firstIOA + InfoObjAddr(i)
		}

		if len(body) < offset+spec.infoLen {
			return nil, ErrShortInformation
		}
		field := body[offset : offset+spec.infoLen]
		offset += spec.infoLen

		obj, err := decodeValue(typeID, spec, field, p)
		if err != nil {
			return nil, err
		}
		obj.IOA = ioa
		a.InformationObjs = append(a.InformationObjs, obj)
	}
	return a, nil
}

// decodeValue interprets one information object's value+qualifier+time
// field, already sliced to spec.infoLen bytes.
func decodeValue(typeID TypeID, spec typeSpec, field []byte, p Params) (InformationObject, error) {
	var obj InformationObject
	v := field[:spec.valueLen]
	offset := spec.valueLen

	switch typeID {
	case MSpNa1, MSpTb1:
		obj.Value = TypedValue{Kind: KindSinglePoint, SinglePoint: SinglePoint(v[0] & 0x01)}
		obj.Qualifier = Qualifier{Value: v[0] &^ 0x01, Present: true}
	case MDpNa1, MDpTb1:
		obj.Value = TypedValue{Kind: KindDoublePoint, DoublePoint: DoublePoint(v[0] & 0x03)}
		obj.Qualifier = Qualifier{Value: v[0] &^ 0x03, Present: true}
	case MStNa1:
		obj.Value = TypedValue{Kind: KindStepPosition, StepPosition: int8(v[0] & 0x7F)}
	case MBoNa1:
		obj.Value = TypedValue{Kind: KindBitstring32, Bitstring32: binary.LittleEndian.Uint32(v)}
	case MMeNa1:
		obj.Value = TypedValue{Kind: KindNormalized, Normalized: int16(binary.LittleEndian.Uint16(v))}
	case MMeNb1:
		obj.Value = TypedValue{Kind: KindScaled, Scaled: int16(binary.LittleEndian.Uint16(v))}
	case MMeNc1, MMeTf1:
		bits := binary.LittleEndian.Uint32(v)
		obj.Value = TypedValue{Kind: KindFloat, Float: math.Float32frombits(bits)}
	case MItNa1:
		obj.Value = TypedValue{Kind: KindCounter, Counter: int32(binary.LittleEndian.Uint32(v))}
	case CDcTa1:
		obj.Value = TypedValue{Kind: KindDCO, DCO: ParseDCO(v[0])}
	case CSeTc1:
		bits := binary.LittleEndian.Uint32(v)
		obj.Value = TypedValue{Kind: KindFloat, Float: math.Float32frombits(bits)}
	case MEiNa1:
		obj.Value = TypedValue{Kind: KindCOI, COI: ParseCOI(v[0])}
	case CIcNa1:
		obj.Value = TypedValue{Kind: KindQOI, QOI: QOI(v[0])}
	case CCsNa1:
		obj.Value = TypedValue{Kind: KindNone}
	default:
		obj.Value = TypedValue{Kind: KindRaw, Raw: append([]byte(nil), field...)}
	}

	if spec.qualByte {
		obj.Qualifier = Qualifier{Value: field[offset], Present: true}
		offset++
	}

	if spec.hasTime {
		// Normally the full 7-octet CP56Time2a; type 58 narrows this to 6
		// octets so DCO+timestamp together fit spec.infoLen (see typeSpecs).
		timeLen := spec.infoLen - offset
		if len(field) < offset+timeLen {
			return InformationObject{}, ErrShortInformation
		}
		var cp CP56
		copy(cp.Wire[:timeLen], field[offset:offset+timeLen])
		obj.Timestamp = &cp
	}
	return obj, nil
}

// EncodeASDU renders a complete ASDU (header + every information object),
// ready to be wrapped in an I-frame by BuildI.
func EncodeASDU(a *ASDU) ([]byte, error) {
	spec, known := typeSpecs[a.TypeID]
	header := make([]byte, 6)
	header[0] = byte(a.TypeID)
	header[1] = a.VSQ
	header[2] = a.Cause.Byte()
	header[3] = byte(a.Originator)
	binary.LittleEndian.PutUint16(header[4:6], uint16(a.CommonAddress))

	body := header
	for _, obj := range a.InformationObjs {
		if obj.IOA > MaxInfoObjAddr {
			return nil, ErrInfoObjAddrFit
		}
		body = append(body, byte(obj.IOA), byte(obj.IOA>>8), byte(obj.IOA>>16))

		if !known {
			body = append(body, obj.Value.Raw...)
			continue
		}
		field, err := encodeValue(a.TypeID, spec, obj)
		if err != nil {
			return nil, err
		}
		if len(field) != spec.infoLen {
			return nil, fmt.Errorf("asdu: encoded field for type %d is %d bytes, want %d", a.TypeID, len(field), spec.infoLen)
		}
		body = append(body, field...)
	}
	return body, nil
}

// encodeValue renders one information object's value+qualifier+time field.
func encodeValue(typeID TypeID, spec typeSpec, obj InformationObject) ([]byte, error) {
	field := make([]byte, 0, spec.infoLen)

	switch typeID {
	case MSpNa1, MSpTb1:
		field = append(field, byte(obj.Value.SinglePoint&0x01)|(obj.Qualifier.Value&^0x01))
	case MDpNa1, MDpTb1:
		field = append(field, byte(obj.Value.DoublePoint&0x03)|(obj.Qualifier.Value&^0x03))
	case MStNa1:
		field = append(field, byte(obj.Value.StepPosition)&0x7F)
	case MBoNa1:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], obj.Value.Bitstring32)
		field = append(field, buf[:]...)
	case MMeNa1:
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(obj.Value.Normalized))
		field = append(field, buf[:]...)
	case MMeNb1:
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(obj.Value.Scaled))
		field = append(field, buf[:]...)
	case MMeNc1, MMeTf1:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(obj.Value.Float))
		field = append(field, buf[:]...)
	case MItNa1:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(obj.Value.Counter))
		field = append(field, buf[:]...)
	case CDcTa1:
		field = append(field, obj.Value.DCO.Byte())
	case CSeTc1:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(obj.Value.Float))
		field = append(field, buf[:]...)
	case MEiNa1:
		field = append(field, obj.Value.COI.Byte())
	case CIcNa1:
		field = append(field, byte(obj.Value.QOI))
	case CCsNa1:
		// no value bytes; CP56Time2a appended below
	default:
		return nil, ErrUnsupportedType
	}

	if spec.qualByte {
		field = append(field, obj.Qualifier.Value)
	}

	if spec.hasTime {
		if obj.Timestamp == nil {
			return nil, fmt.Errorf("asdu: type %d requires a timestamp", typeID)
		}
		// See decodeValue: type 58 truncates the 7-octet CP56Time2a to the
		// 6 octets that fit its fixed 7-byte infoLen alongside the DCO byte.
		timeLen := spec.infoLen - len(field)
		field = append(field, obj.Timestamp.Wire[:timeLen]...)
	}
	return field, nil
}
