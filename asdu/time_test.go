// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package asdu

import (
	"testing"
	"time"
)

func TestCP56Time2aRoundTrip(t *testing.T) {
	tm := time.Date(2025, time.November, 3, 18, 42, 11, 250_000_000, time.UTC)
	wire := EncodeCP56Time2a(tm, time.UTC)
	if len(wire) != 7 {
		t.Fatalf("wire length = %d, want 7", len(wire))
	}
	got := ParseCP56Time2a(wire, time.UTC)
	if !got.Equal(tm) {
		t.Errorf("round trip = %v, want %v", got, tm)
	}
}

func TestParseCP56Time2aInvalidFlag(t *testing.T) {
	wire := EncodeCP56Time2a(time.Now(), time.UTC)
	wire[2] |= 0x80 // IV bit set
	got := ParseCP56Time2a(wire, time.UTC)
	if !got.IsZero() {
		t.Errorf("expected zero time for IV-flagged timestamp, got %v", got)
	}
}
