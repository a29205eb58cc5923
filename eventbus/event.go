// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

// Package eventbus fans telegram, TCP-lifecycle, and link-status events out
// to every subscriber, in-process, best-effort.
package eventbus

import (
	"time"

	"github.com/iec104harness/harness/asdu"
)

// Side identifies which endpoint an event originated from.
type Side string

// The two valid sides.
const (
	SideClient Side = "client"
	SideServer Side = "server"
)

// Direction classifies whether a frame was sent or received.
type Direction string

// Directions.
const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// Kind tags an Event's concrete payload.
type Kind int

// Event kinds.
const (
	KindTelegram Kind = iota
	KindTcpLifecycle
	KindLinkStatus
	KindDiagnostic
)

// Telegram describes one observed or injected I/S/U frame.
type Telegram struct {
	Side         Side
	Direction    Direction
	SeqInStream  uint64
	WallTime     time.Time
	Delta        time.Duration
	LocalEP      string
	RemoteEP     string
	FrameFamily  asdu.FrameFamily
	Label        string

	HasASDU    bool
	TypeID     asdu.TypeID
	Cause      asdu.CauseOfTransmission
	Originator asdu.OriginAddr
	CA         asdu.CommonAddr
	IOA        asdu.InfoObjAddr
	Value      asdu.TypedValue
	Qualifier  asdu.Qualifier
}

// TcpLifecycle marks a socket-level milestone (SYN, SYN ACK, ACK, RST ACK).
type TcpLifecycle struct {
	Side      Side
	Label     string
	Direction Direction
}

// LinkStatus reports a connection's up/down state.
type LinkStatus struct {
	Side      Side
	Connected bool
	LocalEP   string
	RemoteEP  string
}

// Diagnostic reports a recoverable protocol-level anomaly, such as bytes
// discarded while the frame decoder resynchronized. The session continues;
// the event is the only trace.
type Diagnostic struct {
	Side         Side
	Message      string
	DroppedBytes int
}

// Event is the tagged union carried by the bus. One variant covers both
// decoded frames and synthesized markers; TCP lifecycle is its own
// variant and never masquerades as a telegram.
type Event struct {
	Kind Kind

	Telegram     Telegram
	TcpLifecycle TcpLifecycle
	LinkStatus   LinkStatus
	Diagnostic   Diagnostic
}
