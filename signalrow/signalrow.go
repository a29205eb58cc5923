// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

// Package signalrow maps one operator-supplied signal row onto a fully
// formed ASDU. Rows are parsed once into a typed struct; all downstream
// code consumes the typed form rather than raw spreadsheet columns.
package signalrow

import (
	"regexp"

	"github.com/iec104harness/harness/asdu"
)

// Row is one signal-list entry, holding the recognized import columns
// plus an open bag for anything else a spreadsheet import carries.
type Row struct {
	Label              string // "Datenpunkt / Meldetext"
	TypeID             int    // "IEC104- Typ"; <=0 means "ignore this row"
	IOA1, IOA2, IOA3   int    // "IOA 1"/"IOA 2"/"IOA 3", each 0..255
	Cause              int    // "Übertragungsursache"; 0 means "use default 20"
	HasOriginator      bool
	Originator         int // "Herkunftsadresse"
	Value              string // "Wert"
	Qualifier          string // "Qualifier"; 8-char binary string or empty
	NLSSource          string // "Quelle/Senke von der NLS betrachtet"
	FWKSource          string // "Quelle/Senke von der FWK betrachtet"
	GeneralInterrogate string // "GA- Generalabfrage (keine Wischer)"

	Extras map[string]string
}

// qualifierPattern: a declared qualifier must be exactly 8 binary digits.
var qualifierPattern = regexp.MustCompile(`^[01]{8}$`)

// TransmittedByMaster reports whether the "NLS" source/sink column marks
// this row for master-side transmission (its text contains "Q").
func (r Row) TransmittedByMaster() bool {
	return containsQ(r.NLSSource)
}

// TransmittedBySlave reports the same for the "FWK" column.
func (r Row) TransmittedBySlave() bool {
	return containsQ(r.FWKSource)
}

func containsQ(s string) bool {
	for _, r := range s {
		if r == 'Q' || r == 'q' {
			return true
		}
	}
	return false
}

// IncludeInLegacyGI reports whether the row should be replayed during a
// legacy-mode general-interrogation response ("GA- Generalabfrage (keine
// Wischer)" lowercased equals "o").
func (r Row) IncludeInLegacyGI() bool {
	return lower(r.GeneralInterrogate) == "o"
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// IOA assembles the three little-endian octets into a 24-bit address.
func (r Row) IOA() asdu.InfoObjAddr {
	return asdu.InfoObjAddr(uint32(r.IOA1&0xFF) | uint32(r.IOA2&0xFF)<<8 | uint32(r.IOA3&0xFF)<<16)
}

// LabelIndex resolves an IOA back to its row's display label ("Datenpunkt
// / Meldetext"), built once per sub-test for message-text resolution in
// recordings.
type LabelIndex map[asdu.InfoObjAddr]string

// BuildLabelIndex indexes rows by IOA, skipping rows with no label.
func BuildLabelIndex(rows []Row) LabelIndex {
	idx := make(LabelIndex, len(rows))
	for _, r := range rows {
		if r.Label == "" {
			continue
		}
		idx[r.IOA()] = r.Label
	}
	return idx
}
