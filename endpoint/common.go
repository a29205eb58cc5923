// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

// Package endpoint owns a single TCP socket and its session state machine,
// one per role. Master actively connects and retries;
// Slave listens and accepts one connection at a time. Both feed every
// observed or injected frame to an eventbus.Bus and accept a command queue
// of send_signal/set_test_active operations from the test orchestrator.
package endpoint

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/iec104harness/harness/asdu"
	"github.com/iec104harness/harness/eventbus"
	"github.com/iec104harness/harness/session"
	"github.com/iec104harness/harness/signalrow"
)

// Role distinguishes the two endpoint kinds.
type Role int

// Roles.
const (
	RoleMaster Role = iota
	RoleSlave
)

// commandQueueDepth bounds the per-endpoint command channel; the
// orchestrator paces its own injections with an inter-signal sleep, so
// this only needs to absorb bursts.
const commandQueueDepth = 64

// CommandKind tags a Command's payload.
type CommandKind int

// Command kinds.
const (
	CmdSendSignal CommandKind = iota
	CmdSetTestActive
)

// Command is one orchestrator-issued instruction to an endpoint.
type Command struct {
	Kind       CommandKind
	Row        signalrow.Row
	TestActive bool
}

// Config holds everything an endpoint needs beyond the bus and logger.
type Config struct {
	Role Role

	// RemoteAddr is the master's dial target ("ip:port", conventionally
	// port 2404).
	RemoteAddr string
	// ListenAddr is the slave's bind address.
	ListenAddr string
	// RetryDelay is the master's reconnect backoff, default 5s.
	RetryDelay time.Duration
	// AcceptPollInterval bounds the slave's blocking accept call so stop
	// requests are honored within ~1s.
	AcceptPollInterval time.Duration

	Session session.Config
	Profile signalrow.Profile
}

// Valid fills RetryDelay/AcceptPollInterval defaults and validates Session.
func (c *Config) Valid() error {
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.AcceptPollInterval <= 0 {
		c.AcceptPollInterval = 1 * time.Second
	}
	return c.Session.Valid()
}

// Status is the read-copied connection snapshot exposed to status
// consumers (supervisor, metrics).
type Status struct {
	Connected  bool
	LocalAddr  string
	RemoteAddr string
	Session    session.State
}

func (c *Config) asduParams() asdu.Params {
	p := asdu.DefaultParams()
	p.CommonAddress = c.Profile.CommonAddress
	p.OriginatorAddr = c.Profile.DefaultOriginator
	if c.Profile.TimeZone != nil {
		p.InfoObjTimeZone = c.Profile.TimeZone
	}
	return p
}

// statusTracker guards the read-copied Status snapshot under a short
// mutex; the state machine itself stays owned by the session goroutine.
type statusTracker struct {
	mu sync.Mutex
	st Status
}

func (t *statusTracker) set(st Status) {
	t.mu.Lock()
	t.st = st
	t.mu.Unlock()
}

func (t *statusTracker) setSession(s session.State) {
	t.mu.Lock()
	t.st.Session = s
	t.mu.Unlock()
}

func (t *statusTracker) get() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st
}

// seqCounter assigns SeqInStream/Delta for one endpoint's published
// telegrams.
type seqCounter struct {
	mu   sync.Mutex
	n    uint64
	last time.Time
}

func (c *seqCounter) next(now time.Time) (seq uint64, delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	if !c.last.IsZero() {
		delta = now.Sub(c.last)
	}
	c.last = now
	return c.n, delta
}

// publisher bundles the pieces every emit* helper needs.
type publisher struct {
	bus    *eventbus.Bus
	side   eventbus.Side
	seq    seqCounter
	local  string
	remote string
}

func (p *publisher) lifecycle(label string, dir eventbus.Direction) {
	p.bus.Publish(eventbus.Event{
		Kind: eventbus.KindTcpLifecycle,
		TcpLifecycle: eventbus.TcpLifecycle{
			Side: p.side, Label: label, Direction: dir,
		},
	})
}

func (p *publisher) diagnostic(message string, dropped int) {
	p.bus.Publish(eventbus.Event{
		Kind: eventbus.KindDiagnostic,
		Diagnostic: eventbus.Diagnostic{
			Side: p.side, Message: message, DroppedBytes: dropped,
		},
	})
}

func (p *publisher) linkStatus(connected bool, local, remote string) {
	p.bus.Publish(eventbus.Event{
		Kind: eventbus.KindLinkStatus,
		LinkStatus: eventbus.LinkStatus{
			Side: p.side, Connected: connected, LocalEP: local, RemoteEP: remote,
		},
	})
}

// telegram publishes a frame event. a is nil for bare U/S-frames.
func (p *publisher) telegram(dir eventbus.Direction, family asdu.FrameFamily, label string, a *asdu.ASDU) {
	now := time.Now()
	seq, delta := p.seq.next(now)
	t := eventbus.Telegram{
		Side: p.side, Direction: dir, SeqInStream: seq, WallTime: now, Delta: delta,
		LocalEP: p.local, RemoteEP: p.remote, FrameFamily: family, Label: label,
	}
	if a != nil {
		t.HasASDU = true
		t.TypeID = a.TypeID
		t.Cause = a.Cause
		t.Originator = a.Originator
		t.CA = a.CommonAddress
		if len(a.InformationObjs) > 0 {
			obj := a.InformationObjs[0]
			t.IOA = obj.IOA
			t.Value = obj.Value
			t.Qualifier = obj.Qualifier
		}
	}
	p.bus.Publish(eventbus.Event{Kind: eventbus.KindTelegram, Telegram: t})
}

// writeFrame writes raw in full or returns the first I/O error.
func writeFrame(conn net.Conn, raw []byte) error {
	for written := 0; written < len(raw); {
		n, err := conn.Write(raw[written:])
		if err != nil {
			return fmt.Errorf("endpoint: write: %w", err)
		}
		written += n
	}
	return nil
}

// readLoop decodes the byte stream into frames and pushes them to frameCh,
// polling ctx.Done() within ~1s via a read deadline. Malformed bytes are
// dropped with a diagnostic event on the bus; the session continues.
func readLoop(ctx context.Context, conn net.Conn, params asdu.Params, p *publisher, frameCh chan<- asdu.Frame, errCh chan<- error) {
	dec := asdu.NewDecoder(params)
	buf := make([]byte, asdu.APDUSizeMax)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case errCh <- err:
			case <-ctx.Done():
			}
			return
		}
		frames, resynced := dec.Feed(buf[:n])
		if resynced > 0 {
			p.diagnostic("resynchronized after discarding malformed bytes", resynced)
		}
		for _, f := range frames {
			select {
			case frameCh <- f:
			case <-ctx.Done():
				return
			}
		}
	}
}

// sleepOrDone blocks for d or until ctx/stop fires, reporting which.
func sleepOrDone(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	}
}

// buildRow interprets row against profile for "now" and returns the ASDU
// ready to send, or Skip if the row's type_id is ignorable.
func buildRow(row signalrow.Row, profile signalrow.Profile) (*asdu.ASDU, error) {
	return signalrow.Interpret(row, profile, time.Now())
}
