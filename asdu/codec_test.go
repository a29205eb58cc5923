// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package asdu

import (
	"reflect"
	"testing"
	"time"
)

func TestEncodeASDU_QualifierOverride(t *testing.T) {
	// Row: type 13, value "0.0", qualifier "10000000" -> info bytes
	// 00 00 00 00 80, decoded qualifier QDS=128.
	a := &ASDU{
		TypeID: MMeNc1,
		VSQ:    DefaultVSQ,
		Cause:  CauseOfTransmission{Cause: CauseSpontaneous},
		InformationObjs: []InformationObject{
			{
				IOA:       1,
				Value:     TypedValue{Kind: KindFloat, Float: 0.0},
				Qualifier: Qualifier{Value: 0x80, Explicit: true},
			},
		},
	}
	body, err := EncodeASDU(a)
	if err != nil {
		t.Fatalf("EncodeASDU failed: %v", err)
	}
	info := body[6+3:] // header(6) + IOA(3)
	want := []byte{0x00, 0x00, 0x00, 0x00, 0x80}
	if !reflect.DeepEqual(info, want) {
		t.Fatalf("info bytes = % x, want % x", info, want)
	}

	p := DefaultParams()
	p.CommonAddress = 1
	decoded, err := DecodeASDU(body, p)
	if err != nil {
		t.Fatalf("DecodeASDU failed: %v", err)
	}
	obj := decoded.InformationObjs[0]
	if obj.Qualifier.Value != 0x80 {
		t.Fatalf("decoded qualifier = %d, want 128", obj.Qualifier.Value)
	}
	if obj.Value.Float != 0.0 {
		t.Fatalf("decoded float = %v, want 0.0", obj.Value.Float)
	}
}

func TestASDURoundTripWithTimestamp(t *testing.T) {
	p := DefaultParams()
	p.CommonAddress = 0x4321

	stamp := time.Date(2025, time.March, 4, 13, 7, 22, 500_000_000, time.UTC)
	var cp CP56
	copy(cp.Wire[:], EncodeCP56Time2a(stamp, time.UTC))

	a := &ASDU{
		TypeID:        MDpTb1,
		VSQ:           DefaultVSQ,
		Cause:         CauseOfTransmission{Cause: CauseSpontaneous, Test: true},
		Originator:    7,
		CommonAddress: p.CommonAddress,
		InformationObjs: []InformationObject{
			{IOA: 99, Value: TypedValue{Kind: KindDoublePoint, DoublePoint: DPOn}, Timestamp: &cp},
		},
	}
	body, err := EncodeASDU(a)
	if err != nil {
		t.Fatalf("EncodeASDU failed: %v", err)
	}
	decoded, err := DecodeASDU(body, p)
	if err != nil {
		t.Fatalf("DecodeASDU failed: %v", err)
	}
	if decoded.Cause.Test != true || decoded.Cause.Cause != CauseSpontaneous {
		t.Fatalf("unexpected cause: %+v", decoded.Cause)
	}
	if decoded.Originator != 7 || decoded.CommonAddress != 0x4321 {
		t.Fatalf("unexpected header: %+v", decoded)
	}
	obj := decoded.InformationObjs[0]
	if obj.IOA != 99 || obj.Value.DoublePoint != DPOn {
		t.Fatalf("unexpected object: %+v", obj)
	}
	if obj.Timestamp == nil {
		t.Fatal("expected a timestamp")
	}
	got := ParseCP56Time2a(obj.Timestamp.Wire[:], time.UTC)
	if !got.Equal(stamp.Truncate(time.Millisecond)) {
		t.Fatalf("timestamp round-trip = %v, want %v", got, stamp)
	}
}

func TestDecodeASDU_UnsupportedTypePassesThroughRaw(t *testing.T) {
	raw := []byte{
		0xFE, // unsupported type id
		DefaultVSQ,
		CauseSpontaneous,
		0,
		0x01, 0x00,
		0xAA, 0xBB, 0xCC,
	}
	p := DefaultParams()
	p.CommonAddress = 1
	decoded, err := DecodeASDU(raw, p)
	if err != nil {
		t.Fatalf("DecodeASDU failed: %v", err)
	}
	if len(decoded.InformationObjs) != 1 || decoded.InformationObjs[0].Value.Kind != KindRaw {
		t.Fatalf("unexpected decode of unsupported type: %+v", decoded.InformationObjs)
	}
	if !reflect.DeepEqual(decoded.InformationObjs[0].Value.Raw, []byte{0xAA, 0xBB, 0xCC}) {
		t.Fatalf("unexpected raw passthrough: % x", decoded.InformationObjs[0].Value.Raw)
	}
}

func TestDecodeASDU_ShortInformation(t *testing.T) {
	raw := []byte{byte(MMeNc1), DefaultVSQ, CauseSpontaneous, 0, 0x01, 0x00, 0x00, 0x00}
	if _, err := DecodeASDU(raw, DefaultParams()); err != ErrShortInformation {
		t.Fatalf("got %v, want ErrShortInformation", err)
	}
}

func TestEncodeASDU_MultipleInformationObjects(t *testing.T) {
	a := &ASDU{
		TypeID: MSpNa1,
		VSQ:    0x02,
		Cause:  CauseOfTransmission{Cause: CauseInterrogated},
		InformationObjs: []InformationObject{
			{IOA: 1, Value: TypedValue{Kind: KindSinglePoint, SinglePoint: SPOn}},
			{IOA: 2, Value: TypedValue{Kind: KindSinglePoint, SinglePoint: SPOff}},
		},
	}
	body, err := EncodeASDU(a)
	if err != nil {
		t.Fatalf("EncodeASDU failed: %v", err)
	}
	p := DefaultParams()
	p.CommonAddress = 1
	decoded, err := DecodeASDU(body, p)
	if err != nil {
		t.Fatalf("DecodeASDU failed: %v", err)
	}
	if len(decoded.InformationObjs) != 2 {
		t.Fatalf("want 2 objects, got %d", len(decoded.InformationObjs))
	}
	if decoded.InformationObjs[0].Value.SinglePoint != SPOn || decoded.InformationObjs[1].Value.SinglePoint != SPOff {
		t.Fatalf("unexpected object values: %+v", decoded.InformationObjs)
	}
}
