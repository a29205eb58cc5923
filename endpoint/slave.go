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

// Slave listens for one inbound 104 connection at a time, answering
// STARTDT/TESTFR automatically and interrogation commands with the
// COT=6->7->10 sequence unless a running test suppresses it.
type Slave struct {
	cfg Config
	bus *eventbus.Bus
	log clog.Clog

	status statusTracker
	cmds   chan Command
	stop   chan struct{}
	done   chan struct{}
}

// NewSlave returns a Slave ready for Run. cfg must have passed Valid().
func NewSlave(cfg Config, bus *eventbus.Bus, log clog.Clog) *Slave {
	return &Slave{
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
func (s *Slave) Commands() chan<- Command { return s.cmds }

// Status returns a read-copied connection snapshot.
func (s *Slave) Status() Status { return s.status.get() }

// Stop requests a cooperative shutdown.
func (s *Slave) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

// Done is closed once Run has returned.
func (s *Slave) Done() <-chan struct{} { return s.done }

// Run binds cfg.ListenAddr and accepts one connection at a time until ctx
// is canceled or Stop is called. Accept polls with a ~1s timeout so a stop
// request is honored promptly.
func (s *Slave) Run(ctx context.Context) error {
	defer close(s.done)

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer ln.Close()
	tl, ok := ln.(*net.TCPListener)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		default:
		}

		if ok {
			_ = tl.SetDeadline(time.Now().Add(s.cfg.AcceptPollInterval))
		}
		conn, err := ln.Accept()
		if err != nil {
			if ne, isNetErr := err.(net.Error); isNetErr && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.stop:
				return nil
			default:
			}
			s.log.Error("slave: accept failed: %v", err)
			return err
		}

		p := &publisher{bus: s.bus, side: eventbus.SideServer,
			local: conn.LocalAddr().String(), remote: conn.RemoteAddr().String()}
		p.lifecycle("SYN", eventbus.DirectionRecv)
		p.lifecycle("SYN ACK", eventbus.DirectionSend)
		p.lifecycle("ACK", eventbus.DirectionRecv)
		p.linkStatus(true, p.local, p.remote)
		s.status.set(Status{Connected: true, LocalAddr: p.local, RemoteAddr: p.remote})

		err = s.runSession(ctx, conn, p)
		_ = conn.Close()
		p.lifecycle("RST ACK", eventbus.DirectionSend)
		p.linkStatus(false, p.local, p.remote)
		s.status.set(Status{Connected: false})
		if err != nil {
			s.log.Error("slave: session ended: %v", err)
		}
	}
}

func (s *Slave) runSession(ctx context.Context, conn net.Conn, p *publisher) error {
	machine := session.New(s.cfg.Session)
	if err := machine.Connect(); err != nil {
		return err
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	frameCh := make(chan asdu.Frame, 64)
	errCh := make(chan error, 1)
	go readLoop(connCtx, conn, s.cfg.asduParams(), p, frameCh, errCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var testActive bool
	var pending []signalrow.Row

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil

		case err := <-errCh:
			return err

		case frame := <-frameCh:
			now := time.Now()
			machine.OnAnyFrameReceived(now)
			if err := s.handleFrame(conn, machine, frame, now, p, &testActive); err != nil {
				return err
			}
			s.status.setSession(machine.State())
			pending = s.drainPending(conn, machine, p, pending)

		case now := <-ticker.C:
			if err := s.onTick(conn, machine, now, p); err != nil {
				return err
			}
			s.status.setSession(machine.State())
			pending = s.drainPending(conn, machine, p, pending)

		case cmd := <-s.cmds:
			switch cmd.Kind {
			case CmdSetTestActive:
				testActive = cmd.TestActive
			case CmdSendSignal:
				if machine.State().Phase != session.Running {
					continue
				}
				if !machine.CanSend() {
					pending = append(pending, cmd.Row)
					continue
				}
				if err := s.sendRow(conn, machine, p, cmd.Row); err != nil {
					s.log.Warn("slave: send_signal: %v", err)
				}
			}
			s.status.setSession(machine.State())
		}
	}
}

func (s *Slave) onTick(conn net.Conn, machine *session.Machine, now time.Time, p *publisher) error {
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
		return errors.New("endpoint: slave T1 expired")
	}
	return nil
}

func (s *Slave) handleFrame(conn net.Conn, machine *session.Machine, frame asdu.Frame, now time.Time, p *publisher, testActive *bool) error {
	switch frame.Family {
	case asdu.FamilyS:
		p.telegram(eventbus.DirectionRecv, asdu.FamilyS, "S", nil)
		return machine.OnAck(frame.RecvSN)

	case asdu.FamilyU:
		label := asdu.UCommandLabel(frame.UCommand)
		p.telegram(eventbus.DirectionRecv, asdu.FamilyU, label, nil)
		switch frame.UCommand {
		case asdu.UStartDtActive:
			if err := machine.OnStartDTAct(); err != nil {
				return err
			}
			if err := writeFrame(conn, asdu.BuildU(asdu.UStartDtConfirm)); err != nil {
				return err
			}
			p.telegram(eventbus.DirectionSend, asdu.FamilyU, asdu.UCommandLabel(asdu.UStartDtConfirm), nil)
			return machine.OnStartDTCon(now)
		case asdu.UStopDtActive:
			if err := machine.OnStopDT(); err != nil {
				return err
			}
			if err := writeFrame(conn, asdu.BuildU(asdu.UStopDtConfirm)); err != nil {
				return err
			}
			p.telegram(eventbus.DirectionSend, asdu.FamilyU, asdu.UCommandLabel(asdu.UStopDtConfirm), nil)
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
		// Outside a test the slave acknowledges each I-frame immediately;
		// during one it falls back to the w/T2 discipline so the
		// orchestrator's injections stay uncluttered by per-frame acks.
		if !*testActive || sFrameDue {
			if err := writeFrame(conn, asdu.BuildS(machine.State().VR)); err != nil {
				return err
			}
			machine.OnSFrameSent()
			p.telegram(eventbus.DirectionSend, asdu.FamilyS, "S", nil)
		}
		if frame.ASDU != nil && frame.ASDU.TypeID == asdu.CIcNa1 && frame.ASDU.Cause.Cause == asdu.CauseActivation && !*testActive {
			return s.answerInterrogation(conn, machine, p, frame.ASDU)
		}
		return nil
	}
	return nil
}

// answerInterrogation replies to a station interrogation with COT=7
// (activation confirm) then COT=10 (activation termination). No signal
// payload is inserted here; the orchestrator performs value transmission
// via send_signal.
func (s *Slave) answerInterrogation(conn net.Conn, machine *session.Machine, p *publisher, req *asdu.ASDU) error {
	confirm := cloneWithCause(req, asdu.CauseActivationCon)
	if err := sendASDU(conn, machine, p, confirm); err != nil {
		return err
	}
	terminate := cloneWithCause(req, asdu.CauseActivationTerm)
	return sendASDU(conn, machine, p, terminate)
}

func cloneWithCause(a *asdu.ASDU, cause uint8) *asdu.ASDU {
	clone := *a
	clone.Cause = asdu.CauseOfTransmission{Cause: cause & 0x3F, Test: a.Cause.Test}
	clone.InformationObjs = append([]asdu.InformationObject(nil), a.InformationObjs...)
	return &clone
}

func (s *Slave) sendRow(conn net.Conn, machine *session.Machine, p *publisher, row signalrow.Row) error {
	a, err := buildRow(row, s.cfg.Profile)
	if errors.Is(err, signalrow.Skip) {
		return nil
	}
	if err != nil {
		return err
	}
	return sendASDU(conn, machine, p, a)
}

func (s *Slave) drainPending(conn net.Conn, machine *session.Machine, p *publisher, pending []signalrow.Row) []signalrow.Row {
	i := 0
	for i < len(pending) && machine.CanSend() {
		if err := s.sendRow(conn, machine, p, pending[i]); err != nil {
			s.log.Warn("slave: deferred send_signal: %v", err)
		}
		i++
	}
	return pending[i:]
}
