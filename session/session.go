// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package session

import (
	"errors"
	"time"
)

// Phase is a session's position in the handshake/run lifecycle.
type Phase int

// Phases, in lifecycle order.
const (
	Closed Phase = iota
	Connecting
	Started
	Running
	Stopping
)

func (p Phase) String() string {
	switch p {
	case Closed:
		return "Closed"
	case Connecting:
		return "Connecting"
	case Started:
		return "Started"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// seqModulo is the 15-bit sequence-number wraparound.
const seqModulo = 1 << 15

// seqNoCount returns the circular distance from first to last, mod
// seqModulo.
func seqNoCount(first, last uint16) uint16 {
	return (last - first) & (seqModulo - 1)
}

// pendingIFrame records when an outbound I-frame was sent, for T1
// expiry checks.
type pendingIFrame struct {
	seqNo  uint16
	sentAt time.Time
}

// State is the externally observable session state.
type State struct {
	VS, VR                    uint16
	AckSent, AckReceived      uint16
	K, W                      uint16
	UnackedSent, UnackedRecvd uint16
	LastTxAt, LastRxAt        time.Time
	Phase                     Phase
}

// Errors returned by Machine's transitions.
var (
	ErrIllegalTransition   = errors.New("session: illegal state transition")
	ErrSequenceViolation   = errors.New("session: received send-seq does not match v_r")
	ErrSendWindowExhausted = errors.New("session: unacked_sent has reached k")
	ErrAckOutOfRange       = errors.New("session: acknowledged sequence is not between ack_received and v_s")
)

// Machine is the pure state machine an endpoint drives with OnSendIFrame/
// OnReceiveIFrame/Tick; it never touches a socket, so sequence and timer
// discipline stay testable without a live connection.
type Machine struct {
	cfg     Config
	state   State
	pending []pendingIFrame

	testFrSentAt      time.Time
	awaitingTestFrCon bool
}

// New returns a Machine in Closed phase that uses cfg as given; it fills
// no defaults, so cfg must already have passed Valid().
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg, state: State{K: cfg.SendUnAckLimitK, W: cfg.RecvUnAckLimitW, Phase: Closed}}
}

// State returns a snapshot of the current session state.
func (m *Machine) State() State { return m.state }

// Connect moves Closed -> Connecting, on TCP connect/accept.
func (m *Machine) Connect() error {
	if m.state.Phase != Closed {
		return ErrIllegalTransition
	}
	m.state.Phase = Connecting
	return nil
}

// OnStartDTAct moves Connecting -> Started, whichever side sends or
// receives STARTDT_ACT.
func (m *Machine) OnStartDTAct() error {
	if m.state.Phase != Connecting {
		return ErrIllegalTransition
	}
	m.state.Phase = Started
	return nil
}

// OnStartDTCon moves Started -> Running, whichever side sends or receives
// STARTDT_CON.
func (m *Machine) OnStartDTCon(now time.Time) error {
	if m.state.Phase != Started {
		return ErrIllegalTransition
	}
	m.state.Phase = Running
	m.state.LastRxAt = now
	m.state.LastTxAt = now
	return nil
}

// OnStopDT moves Running -> Stopping, on STOPDT_ACT or STOPDT_CON.
func (m *Machine) OnStopDT() error {
	if m.state.Phase != Running {
		return ErrIllegalTransition
	}
	m.state.Phase = Stopping
	return nil
}

// Close forces Closed from any phase, on TCP loss or a fatal protocol
// error.
func (m *Machine) Close() {
	m.state.Phase = Closed
	m.pending = nil
	m.state.UnackedSent = 0
	m.state.UnackedRecvd = 0
	m.awaitingTestFrCon = false
}

// CanSend reports whether an I-frame may be sent without exceeding k.
func (m *Machine) CanSend() bool {
	return m.state.Phase == Running && m.state.UnackedSent < m.state.K
}

// OnSendIFrame assigns and returns the send sequence number for an
// outbound I-frame, advancing v_s and unacked_sent.
func (m *Machine) OnSendIFrame(now time.Time) (uint16, error) {
	if !m.CanSend() {
		return 0, ErrSendWindowExhausted
	}
	seq := m.state.VS
	m.pending = append(m.pending, pendingIFrame{seqNo: seq, sentAt: now})
	m.state.VS = (seq + 1) % seqModulo
	m.state.UnackedSent++
	m.state.LastTxAt = now
	return seq, nil
}

// OnReceiveIFrame validates sendSN against v_r, advances v_r and
// unacked_received, and reports whether a mandatory S-frame is now due
// (unacked_received == w).
func (m *Machine) OnReceiveIFrame(sendSN uint16, now time.Time) (sFrameDue bool, err error) {
	if sendSN != m.state.VR {
		m.Close()
		return false, ErrSequenceViolation
	}
	m.state.VR = (m.state.VR + 1) % seqModulo
	m.state.UnackedRecvd++
	m.state.LastRxAt = now
	return m.state.UnackedRecvd >= m.state.W, nil
}

// OnSFrameSent records that an S-frame (or a piggy-backed recv-seq) has
// acknowledged every I-frame received so far.
func (m *Machine) OnSFrameSent() {
	m.state.AckSent = m.state.VR
	m.state.UnackedRecvd = 0
}

// OnAck advances ack_received from a received S-frame or piggy-backed
// recv-seq, discarding any pending I-frame records it confirms. recvSN
// must lie within [ack_received, v_s]; a recvSN equal to ack_received
// repeats the previous acknowledgement and confirms nothing new.
func (m *Machine) OnAck(recvSN uint16) error {
	oldAck := m.state.AckReceived
	if seqNoCount(oldAck, recvSN) > seqNoCount(oldAck, m.state.VS) {
		return ErrAckOutOfRange
	}
	kept := m.pending[:0]
	for _, p := range m.pending {
		if seqNoCount(oldAck, p.seqNo) < seqNoCount(oldAck, recvSN) {
			continue // now acknowledged
		}
		kept = append(kept, p)
	}
	m.pending = kept
	m.state.AckReceived = recvSN
	m.state.UnackedSent = seqNoCount(recvSN, m.state.VS)
	return nil
}

// AwaitingTestFrCon reports whether a keepalive TESTFR_ACT was sent and its
// TESTFR_CON is still outstanding, for endpoint-level keepalive policies
// that must not fire a second TESTFR_ACT while one is already in flight.
func (m *Machine) AwaitingTestFrCon() bool { return m.awaitingTestFrCon }

// IdleDuration reports how long the session has gone without sending or
// receiving a frame, as of now. Endpoints use this to drive keepalive
// policies external to the T1/T2/T3 discipline Tick enforces (e.g. a
// master's own quiescence-based TESTFR_ACT interval).
func (m *Machine) IdleDuration(now time.Time) time.Duration {
	idleSince := m.state.LastTxAt
	if m.state.LastRxAt.After(idleSince) {
		idleSince = m.state.LastRxAt
	}
	return now.Sub(idleSince)
}

// TimerAction tags what Tick wants the endpoint to do.
type TimerAction int

// Timer actions.
const (
	ActionNone TimerAction = iota
	ActionSendTestFr
	ActionSendSFrame
	ActionCloseT1Expired
)

// Tick evaluates T1/T2/T3 against now and returns the action due, if any.
// The caller (an endpoint) is responsible for actually sending the frame
// or closing the socket; Tick only advances internal bookkeeping for the
// action it reports.
func (m *Machine) Tick(now time.Time) TimerAction {
	if m.state.Phase != Running {
		return ActionNone
	}

	if m.awaitingTestFrCon && now.Sub(m.testFrSentAt) >= m.cfg.SendUnAckTimeout1 {
		return ActionCloseT1Expired
	}
	if len(m.pending) > 0 && now.Sub(m.pending[0].sentAt) >= m.cfg.SendUnAckTimeout1 {
		return ActionCloseT1Expired
	}

	if m.state.UnackedRecvd > 0 && now.Sub(m.state.LastRxAt) >= m.cfg.RecvUnAckTimeout2 {
		return ActionSendSFrame
	}

	idleSince := m.state.LastTxAt
	if m.state.LastRxAt.After(idleSince) {
		idleSince = m.state.LastRxAt
	}
	if !m.awaitingTestFrCon && now.Sub(idleSince) >= m.cfg.IdleTimeout3 {
		return ActionSendTestFr
	}
	return ActionNone
}

// OnTestFrActSent records that a keepalive TESTFR_ACT was just sent and
// starts its T1 confirmation deadline.
func (m *Machine) OnTestFrActSent(now time.Time) {
	m.testFrSentAt = now
	m.awaitingTestFrCon = true
	m.state.LastTxAt = now
}

// OnTestFrCon clears the pending keepalive deadline.
func (m *Machine) OnTestFrCon(now time.Time) {
	m.awaitingTestFrCon = false
	m.state.LastRxAt = now
}

// OnAnyFrameReceived resets the T3 idle clock; any received I, S, or U
// frame counts as link activity.
func (m *Machine) OnAnyFrameReceived(now time.Time) {
	m.state.LastRxAt = now
}
