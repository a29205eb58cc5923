// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package orchestrator

import (
	"github.com/iec104harness/harness/asdu"
	"github.com/iec104harness/harness/eventbus"
	"github.com/iec104harness/harness/signalrow"
)

// segment is a contiguous run of rows transmitted by one side.
type segment struct {
	side eventbus.Side
	rows []signalrow.Row
}

// signature is the (type_id, cot, ioa) matching key pairing a sent row
// with its counter-telegram; value and qualifier are deliberately
// excluded and surface only in the recorded diff.
type signature struct {
	typeID asdu.TypeID
	cause  uint8
	ioa    asdu.InfoObjAddr
}

// buildSegmentation walks rows in order, appending each row once per
// transmitting side (master then slave), then coalesces consecutive
// same-side entries into segments.
func buildSegmentation(rows []signalrow.Row) []segment {
	type sided struct {
		side eventbus.Side
		row  signalrow.Row
	}
	var flat []sided
	for _, r := range rows {
		if r.TransmittedByMaster() {
			flat = append(flat, sided{eventbus.SideClient, r})
		}
		if r.TransmittedBySlave() {
			flat = append(flat, sided{eventbus.SideServer, r})
		}
	}

	var segments []segment
	for _, s := range flat {
		if n := len(segments); n > 0 && segments[n-1].side == s.side {
			segments[n-1].rows = append(segments[n-1].rows, s.row)
			continue
		}
		segments = append(segments, segment{side: s.side, rows: []signalrow.Row{s.row}})
	}
	return segments
}

// otherSide returns the side expected to receive what side transmits.
func otherSide(side eventbus.Side) eventbus.Side {
	if side == eventbus.SideClient {
		return eventbus.SideServer
	}
	return eventbus.SideClient
}

// rowSignature derives the expected counter-telegram signature for a sent
// row, using the defaults Interpret would apply so it matches what the
// receiving endpoint actually decodes.
func rowSignature(row signalrow.Row) signature {
	cause := uint8(asdu.CauseInterrogated)
	if row.Cause > 0 {
		cause = uint8(row.Cause)
	}
	return signature{typeID: asdu.TypeID(row.TypeID), cause: cause & 0x3F, ioa: row.IOA()}
}

func telegramSignature(t eventbus.Telegram) signature {
	return signature{typeID: t.TypeID, cause: t.Cause.Cause, ioa: t.IOA}
}
