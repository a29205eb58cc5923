// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

// Package asdu implements IEC 60870-5-104 frame and information-object
// encoding: byte-exact U/S/I frame parsing and building, and the value
// codec for the type identifiers exercised by this harness.
package asdu

import (
	"errors"
	"time"
)

// CommonAddr is the ASDU common address (station address), fixed at 2
// octets in this harness's profile.
type CommonAddr uint16

// InvalidCommonAddr means the address field carries no meaningful station.
const InvalidCommonAddr CommonAddr = 0

// OriginAddr is the originator address. Fixed at 1 octet.
type OriginAddr uint8

// InfoObjAddr is the information object address: three little-endian
// octets on the wire.
type InfoObjAddr uint32

// MaxInfoObjAddr is the largest representable 24-bit IOA.
const MaxInfoObjAddr InfoObjAddr = 0xFFFFFF

// Params carries the per-endpoint ASDU defaults. Field widths are not
// configurable: CA=2 bytes, originator=1 byte, IOA=3 bytes for every
// endpoint, so the only per-endpoint knobs are the common address and
// originator default value themselves.
type Params struct {
	CommonAddress   CommonAddr
	OriginatorAddr  OriginAddr
	InfoObjTimeZone *time.Location
}

// DefaultParams returns a Params with UTC timestamps and address 0 (must
// be overridden by the caller before use).
func DefaultParams() Params {
	return Params{InfoObjTimeZone: time.UTC}
}

// Valid reports whether p is usable.
func (p Params) Valid() error {
	if p.CommonAddress == InvalidCommonAddr {
		return ErrCommonAddrZero
	}
	if p.InfoObjTimeZone == nil {
		return ErrParam
	}
	return nil
}

// Errors returned by this package, grouped by concern.
var (
	ErrParam           = errors.New("asdu: invalid params")
	ErrCommonAddrZero  = errors.New("asdu: common address must not be zero")
	ErrCommonAddrFit   = errors.New("asdu: common address does not fit in 2 bytes")
	ErrInfoObjAddrFit  = errors.New("asdu: information object address does not fit in 3 bytes")
)
