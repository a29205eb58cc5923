// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package signalrow

import (
	"testing"
	"time"

	"github.com/iec104harness/harness/asdu"
)

func TestRowIOA(t *testing.T) {
	r := Row{IOA1: 0x01, IOA2: 0x02, IOA3: 0x03}
	if got, want := r.IOA(), asdu.InfoObjAddr(0x030201); got != want {
		t.Fatalf("IOA() = %#x, want %#x", got, want)
	}
}

func TestTransmittedBySide(t *testing.T) {
	r := Row{NLSSource: "Q", FWKSource: "nein"}
	if !r.TransmittedByMaster() {
		t.Fatalf("expected TransmittedByMaster true")
	}
	if r.TransmittedBySlave() {
		t.Fatalf("expected TransmittedBySlave false")
	}
}

func TestIncludeInLegacyGI(t *testing.T) {
	r := Row{GeneralInterrogate: "O"}
	if !r.IncludeInLegacyGI() {
		t.Fatalf("expected IncludeInLegacyGI true for 'O'")
	}
	r.GeneralInterrogate = "x"
	if r.IncludeInLegacyGI() {
		t.Fatalf("expected IncludeInLegacyGI false for 'x'")
	}
}

func TestBuildLabelIndex(t *testing.T) {
	rows := []Row{
		{Label: "Schalterstellung", IOA1: 1},
		{Label: "", IOA1: 2},
		{Label: "Messwert", IOA1: 3},
	}
	idx := BuildLabelIndex(rows)
	if len(idx) != 2 {
		t.Fatalf("len(idx) = %d, want 2", len(idx))
	}
	if idx[asdu.InfoObjAddr(1)] != "Schalterstellung" {
		t.Fatalf("idx[1] = %q", idx[asdu.InfoObjAddr(1)])
	}
	if _, ok := idx[asdu.InfoObjAddr(2)]; ok {
		t.Fatalf("expected no entry for IOA 2 (empty label)")
	}
}

func TestInterpretSkipsNonPositiveTypeID(t *testing.T) {
	_, err := Interpret(Row{TypeID: 0}, Profile{}, time.Now())
	if err != Skip {
		t.Fatalf("err = %v, want Skip", err)
	}
}

func TestInterpretUnknownTypeID(t *testing.T) {
	_, err := Interpret(Row{TypeID: 250}, Profile{}, time.Now())
	var ierr *InterpretError
	if err == nil {
		t.Fatalf("expected an error for unknown type_id")
	}
	if !asErrorAs(err, &ierr) || ierr.Kind != BadTypeId {
		t.Fatalf("err = %v, want InterpretError{Kind: BadTypeId}", err)
	}
}

func TestInterpretBadQualifier(t *testing.T) {
	row := Row{TypeID: 1, IOA1: 1, Value: "1", Qualifier: "not-binary"}
	_, err := Interpret(row, Profile{}, time.Now())
	var ierr *InterpretError
	if !asErrorAs(err, &ierr) || ierr.Kind != BadQualifier {
		t.Fatalf("err = %v, want InterpretError{Kind: BadQualifier}", err)
	}
}

func TestInterpretSinglePointDefaults(t *testing.T) {
	row := Row{TypeID: 1, IOA1: 7, Value: "1"}
	a, err := Interpret(row, Profile{CommonAddress: 42}, time.Now())
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if a.CommonAddress != 42 {
		t.Fatalf("CommonAddress = %d, want 42", a.CommonAddress)
	}
	if a.Cause.Cause != asdu.CauseInterrogated {
		t.Fatalf("Cause = %d, want default 20", a.Cause.Cause)
	}
	if a.VSQ != asdu.DefaultVSQ {
		t.Fatalf("VSQ = %#x, want %#x", a.VSQ, asdu.DefaultVSQ)
	}
	if len(a.InformationObjs) != 1 || a.InformationObjs[0].IOA != 7 {
		t.Fatalf("unexpected information objects: %+v", a.InformationObjs)
	}
	if a.InformationObjs[0].Value.SinglePoint != asdu.SPOn {
		t.Fatalf("value = %v, want On", a.InformationObjs[0].Value.SinglePoint)
	}
}

func TestInterpretDoubleCommandQualifierOverride(t *testing.T) {
	// S/E=1(select), QU=1, DCS from qualifier's low bits would be 2(On),
	// but the value text "1" (Off) must win.
	row := Row{TypeID: 58, IOA1: 9, Value: "1", Qualifier: "10000110"}
	a, err := Interpret(row, Profile{}, time.Now())
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	dco := a.InformationObjs[0].Value.DCO
	if !dco.SelectExecute {
		t.Fatalf("expected SelectExecute true from explicit qualifier")
	}
	if dco.Command != asdu.DPOff {
		t.Fatalf("Command = %v, want Off (from value text, not qualifier)", dco.Command)
	}
}

// asErrorAs stands in for errors.As with a direct type assertion (it does
// not unwrap), which suffices because Interpret returns *InterpretError
// unwrapped.
func asErrorAs(err error, target **InterpretError) bool {
	ierr, ok := err.(*InterpretError)
	if !ok {
		return false
	}
	*target = ierr
	return true
}
