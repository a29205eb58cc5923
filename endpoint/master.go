// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package endpoint

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/iec104harness/harness/asdu"
	"github.com/iec104harness/harness/clog"
	"github.com/iec104harness/harness/eventbus"
	"github.com/iec104harness/harness/session"
	"github.com/iec104harness/harness/signalrow"
)

// Master actively connects to a remote 104 outstation and reconnects
// after a retry delay on any failure.
type Master struct {
	cfg Config
	bus *eventbus.Bus
	log clog.Clog

	status statusTracker
	cmds   chan Command
	stop   chan struct{}
	done   chan struct{}
}

// keepAliveInterval is the master's own quiescence-based TESTFR_ACT
// interval, distinct from (and normally shorter than) the generic T3
// idle timeout session.Config enforces.
const keepAliveInterval = 15 * time.Second

// NewMaster returns a Master ready for Run. cfg must have passed Valid().
func NewMaster(cfg Config, bus *eventbus.Bus, log clog.Clog) *Master {
	return &Master{
		cfg:  cfg,
		bus:  bus,
		log:  log,
		cmds: make(chan Command, commandQueueDepth),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Commands returns the channel the orchestrator sends send_signal/
// set_test_active commands on.
func (m *Master) Commands() chan<- Command { return m.cmds }

// Status returns a read-copied connection snapshot.
func (m *Master) Status() Status { return m.status.get() }

// Stop requests a cooperative shutdown; Run returns once the current
// connection attempt or session unwinds.
func (m *Master) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}

// Done is closed once Run has returned.
func (m *Master) Done() <-chan struct{} { return m.done }

// Run dials, handshakes, and serves until ctx is canceled or Stop is
// called, reconnecting after cfg.RetryDelay on any failure.
func (m *Master) Run(ctx context.Context) error {
	defer close(m.done)
	p := &publisher{bus: m.bus, side: eventbus.SideClient}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			return nil
		default:
		}

		m.log.Debug("master: dialing %s", m.cfg.RemoteAddr)
		conn, err := net.DialTimeout("tcp", m.cfg.RemoteAddr, m.cfg.Session.ConnectTimeout0)
		if err != nil {
			m.log.Warn("master: dial failed: %v", err)
			if !sleepOrDone(ctx, m.stop, m.cfg.RetryDelay) {
				return nil
			}
			continue
		}

		p.local, p.remote = conn.LocalAddr().String(), conn.RemoteAddr().String()
		p.lifecycle("SYN", eventbus.DirectionSend)
		p.lifecycle("SYN ACK", eventbus.DirectionRecv)
		p.lifecycle("ACK", eventbus.DirectionSend)
		p.linkStatus(true, p.local, p.remote)
		m.status.set(Status{Connected: true, LocalAddr: p.local, RemoteAddr: p.remote})

		err = m.runSession(ctx, conn, p)
		_ = conn.Close()
		p.lifecycle("RST ACK", eventbus.DirectionSend)
		p.linkStatus(false, p.local, p.remote)
		m.status.set(Status{Connected: false})
		if err != nil {
			m.log.Error("master: session ended: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			return nil
		default:
		}
		if !sleepOrDone(ctx, m.stop, m.cfg.RetryDelay) {
			return nil
		}
	}
}

func (m *Master) runSession(ctx context.Context, conn net.Conn, p *publisher) error {
	machine := session.New(m.cfg.Session)
	if err := machine.Connect(); err != nil {
		return err
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	frameCh := make(chan asdu.Frame, 64)
	errCh := make(chan error, 1)
	go readLoop(connCtx, conn, m.cfg.asduParams(), p, frameCh, errCh)

	if err := writeFrame(conn, asdu.BuildU(asdu.UStartDtActive)); err != nil {
		return err
	}
	p.telegram(eventbus.DirectionSend, asdu.FamilyU, asdu.UCommandLabel(asdu.UStartDtActive), nil)
	if err := machine.OnStartDTAct(); err != nil {
		return err
	}
	m.status.setSession(machine.State())

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var pending []signalrow.Row

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			return nil

		case err := <-errCh:
			return err

		case frame := <-frameCh:
			now := time.Now()
			machine.OnAnyFrameReceived(now)
			if err := m.handleFrame(conn, machine, frame, now, p); err != nil {
				return err
			}
			m.status.setSession(machine.State())
			pending = m.drainPending(conn, machine, p, pending)

		case now := <-ticker.C:
			if err := m.onTick(conn, machine, now, p); err != nil {
				return err
			}
			m.status.setSession(machine.State())
			pending = m.drainPending(conn, machine, p, pending)

		case cmd := <-m.cmds:
			switch cmd.Kind {
			case CmdSetTestActive:
				// Accepted for interface symmetry with Slave; only the
				// slave's GI auto-reply is gated on it.
			case CmdSendSignal:
				if machine.State().Phase != session.Running {
					continue
				}
				if !machine.CanSend() {
					pending = append(pending, cmd.Row)
					continue
				}
				if err := m.sendRow(conn, machine, p, cmd.Row); err != nil {
					m.log.Warn("master: send_signal: %v", err)
				}
			}
			m.status.setSession(machine.State())
		}
	}
}

func (m *Master) onTick(conn net.Conn, machine *session.Machine, now time.Time, p *publisher) error {
	if machine.State().Phase == session.Running && !machine.AwaitingTestFrCon() &&
		machine.IdleDuration(now) >= keepAliveInterval {
		if err := writeFrame(conn, asdu.BuildU(asdu.UTestFrActive)); err != nil {
			return err
		}
		machine.OnTestFrActSent(now)
		p.telegram(eventbus.DirectionSend, asdu.FamilyU, asdu.UCommandLabel(asdu.UTestFrActive), nil)
		return nil
	}

	switch machine.Tick(now) {
	case session.ActionSendTestFr:
		if err := writeFrame(conn, asdu.BuildU(asdu.UTestFrActive)); err != nil {
			return err
		}
		machine.OnTestFrActSent(now)
		p.telegram(eventbus.DirectionSend, asdu.FamilyU, asdu.UCommandLabel(asdu.UTestFrActive), nil)
	case session.ActionSendSFrame:
		if err := writeFrame(conn, asdu.BuildS(machine.State().VR)); err != nil {
			return err
		}
		machine.OnSFrameSent()
		p.telegram(eventbus.DirectionSend, asdu.FamilyS, "S", nil)
	case session.ActionCloseT1Expired:
		return errors.New("endpoint: master T1 expired")
	}
	return nil
}

func (m *Master) handleFrame(conn net.Conn, machine *session.Machine, frame asdu.Frame, now time.Time, p *publisher) error {
	switch frame.Family {
	case asdu.FamilyS:
		p.telegram(eventbus.DirectionRecv, asdu.FamilyS, "S", nil)
		return machine.OnAck(frame.RecvSN)

	case asdu.FamilyU:
		label := asdu.UCommandLabel(frame.UCommand)
		p.telegram(eventbus.DirectionRecv, asdu.FamilyU, label, nil)
		switch frame.UCommand {
		case asdu.UStartDtConfirm:
			return machine.OnStartDTCon(now)
		case asdu.UStopDtConfirm:
			return machine.OnStopDT()
		case asdu.UTestFrActive:
			if err := writeFrame(conn, asdu.BuildU(asdu.UTestFrConfirm)); err != nil {
				return err
			}
			p.telegram(eventbus.DirectionSend, asdu.FamilyU, asdu.UCommandLabel(asdu.UTestFrConfirm), nil)
		case asdu.UTestFrConfirm:
			machine.OnTestFrCon(now)
		}
		return nil

	case asdu.FamilyI:
		if err := machine.OnAck(frame.RecvSN); err != nil {
			return err
		}
		sFrameDue, err := machine.OnReceiveIFrame(frame.SendSN, now)
		if err != nil {
			return err
		}
		p.telegram(eventbus.DirectionRecv, asdu.FamilyI, "I", frame.ASDU)
		if sFrameDue {
			if err := writeFrame(conn, asdu.BuildS(machine.State().VR)); err != nil {
				return err
			}
			machine.OnSFrameSent()
			p.telegram(eventbus.DirectionSend, asdu.FamilyS, "S", nil)
		}
		return nil
	}
	return nil
}

// sendRow builds and transmits the I-frame for row, advancing the session.
func (m *Master) sendRow(conn net.Conn, machine *session.Machine, p *publisher, row signalrow.Row) error {
	a, err := buildRow(row, m.cfg.Profile)
	if errors.Is(err, signalrow.Skip) {
		return nil
	}
	if err != nil {
		return err
	}
	return sendASDU(conn, machine, p, a)
}

// drainPending retries deferred rows once the k-window has room.
func (m *Master) drainPending(conn net.Conn, machine *session.Machine, p *publisher, pending []signalrow.Row) []signalrow.Row {
	i := 0
	for i < len(pending) && machine.CanSend() {
		if err := m.sendRow(conn, machine, p, pending[i]); err != nil {
			m.log.Warn("master: deferred send_signal: %v", err)
		}
		i++
	}
	return pending[i:]
}

// sendASDU encodes a, wraps it in an I-frame, and transmits it, advancing
// machine's send sequence. The frame's receive field piggy-backs the
// current v_r, so everything received so far counts as acknowledged.
func sendASDU(conn net.Conn, machine *session.Machine, p *publisher, a *asdu.ASDU) error {
	body, err := asdu.EncodeASDU(a)
	if err != nil {
		return err
	}
	seq, err := machine.OnSendIFrame(time.Now())
	if err != nil {
		return err
	}
	raw, err := asdu.BuildI(seq, machine.State().VR, body)
	if err != nil {
		return err
	}
	if err := writeFrame(conn, raw); err != nil {
		return err
	}
	machine.OnSFrameSent()
	p.telegram(eventbus.DirectionSend, asdu.FamilyI, "I", a)
	return nil
}
