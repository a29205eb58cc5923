// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package asdu

import (
	"reflect"
	"testing"
)

func TestBuildU(t *testing.T) {
	tests := []struct {
		name string
		cmd  byte
		want []byte
	}{
		{"STARTDT_ACT", UStartDtActive, []byte{0x68, 0x04, 0x07, 0, 0, 0}},
		{"TESTFR_CON", UTestFrConfirm, []byte{0x68, 0x04, 0x83, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildU(tt.cmd); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("BuildU() = % x, want % x", got, tt.want)
			}
		})
	}
}

func TestBuildS(t *testing.T) {
	got := BuildS(5)
	want := []byte{0x68, 0x04, 0x01, 0x00, 10, 0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("BuildS() = % x, want % x", got, want)
	}
}

func TestBuildIRoundTrip(t *testing.T) {
	p := DefaultParams()
	p.CommonAddress = 0x1234

	a := &ASDU{
		TypeID:        MSpNa1,
		VSQ:           DefaultVSQ,
		Cause:         CauseOfTransmission{Cause: CauseSpontaneous},
		CommonAddress: p.CommonAddress,
		InformationObjs: []InformationObject{
			{IOA: 1, Value: TypedValue{Kind: KindSinglePoint, SinglePoint: SPOn}},
		},
	}
	body, err := EncodeASDU(a)
	if err != nil {
		t.Fatalf("EncodeASDU failed: %v", err)
	}
	raw, err := BuildI(3, 7, body)
	if err != nil {
		t.Fatalf("BuildI failed: %v", err)
	}

	dec := NewDecoder(p)
	frames, resynced := dec.Feed(raw)
	if resynced != 0 {
		t.Fatalf("unexpected resync count %d", resynced)
	}
	if len(frames) != 1 {
		t.Fatalf("want 1 frame, got %d", len(frames))
	}
	f := frames[0]
	if f.Family != FamilyI || f.SendSN != 3 || f.RecvSN != 7 {
		t.Fatalf("unexpected frame header: %+v", f)
	}
	if f.ASDU.TypeID != MSpNa1 || f.ASDU.CommonAddress != 0x1234 {
		t.Fatalf("unexpected ASDU header: %+v", f.ASDU)
	}
	if len(f.ASDU.InformationObjs) != 1 || f.ASDU.InformationObjs[0].Value.SinglePoint != SPOn {
		t.Fatalf("unexpected information object: %+v", f.ASDU.InformationObjs)
	}
}

func TestDecoderResynchronizesOnGarbagePrefix(t *testing.T) {
	dec := NewDecoder(DefaultParams())
	raw := append([]byte{0xFF, 0xFF}, BuildU(UStartDtActive)...)

	frames, resynced := dec.Feed(raw)
	if resynced != 2 {
		t.Fatalf("want 2 discarded bytes, got %d", resynced)
	}
	if len(frames) != 1 || frames[0].Family != FamilyU || frames[0].UCommand != UStartDtActive {
		t.Fatalf("unexpected frames: %+v", frames)
	}
}

func TestDecoderFeedsAcrossPartialChunks(t *testing.T) {
	dec := NewDecoder(DefaultParams())
	raw := BuildU(UTestFrActive)

	frames, _ := dec.Feed(raw[:3])
	if len(frames) != 0 {
		t.Fatalf("expected no frame from a partial chunk, got %d", len(frames))
	}
	frames, _ = dec.Feed(raw[3:])
	if len(frames) != 1 || frames[0].UCommand != UTestFrActive {
		t.Fatalf("unexpected frames after completing the chunk: %+v", frames)
	}
}

func TestUCommandLabel(t *testing.T) {
	tests := []struct {
		cmd  byte
		want string
	}{
		{UStartDtActive, "STARTDT ACT"},
		{UStopDtConfirm, "STOPDT CON"},
		{0x00, "U(0x00)"},
	}
	for _, tt := range tests {
		if got := UCommandLabel(tt.cmd); got != tt.want {
			t.Errorf("UCommandLabel(0x%02x) = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}
