// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

// Package supervisor owns the master and slave endpoints' lifecycles,
// routes their events into the event bus and history log, and exposes a
// connection-status snapshot plus Prometheus metrics. One Supervisor is
// constructed at program start and its handle passed down; nothing here
// reaches for ambient state.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/iec104harness/harness/clog"
	"github.com/iec104harness/harness/endpoint"
	"github.com/iec104harness/harness/eventbus"
	"github.com/iec104harness/harness/history"
)

// Supervisor starts/stops one master and one slave endpoint on demand,
// in response to the start_client/stop_client/start_server/stop_server
// control commands, and forwards every telegram onto the history log.
type Supervisor struct {
	bus  *eventbus.Bus
	hist *history.History
	log  clog.Clog

	masterCfg endpoint.Config
	slaveCfg  endpoint.Config

	mu     sync.Mutex
	master *runningEndpoint
	slave  *runningEndpoint
}

type runningEndpoint struct {
	ep     interface {
		Run(ctx context.Context) error
		Stop()
		Done() <-chan struct{}
	}
	cancel context.CancelFunc
}

// New returns a Supervisor. masterCfg/slaveCfg must have passed Valid().
func New(masterCfg, slaveCfg endpoint.Config, bus *eventbus.Bus, hist *history.History, log clog.Clog) *Supervisor {
	return &Supervisor{bus: bus, hist: hist, log: log, masterCfg: masterCfg, slaveCfg: slaveCfg}
}

// StartClient starts the master endpoint if it is not already running.
func (s *Supervisor) StartClient(ctx context.Context) (*endpoint.Master, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.master != nil {
		return nil, fmt.Errorf("supervisor: client already running")
	}
	m := endpoint.NewMaster(s.masterCfg, s.bus, s.log)
	runCtx, cancel := context.WithCancel(ctx)
	s.master = &runningEndpoint{ep: m, cancel: cancel}
	go func() {
		if err := m.Run(runCtx); err != nil {
			s.log.Warn("supervisor: client stopped: %v", err)
		}
	}()
	return m, nil
}

// StopClient requests a cooperative shutdown of the master endpoint.
func (s *Supervisor) StopClient() {
	s.mu.Lock()
	re := s.master
	s.master = nil
	s.mu.Unlock()
	if re == nil {
		return
	}
	re.ep.Stop()
	re.cancel()
	<-re.ep.Done()
}

// StartServer starts the slave endpoint if it is not already running.
func (s *Supervisor) StartServer(ctx context.Context) (*endpoint.Slave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slave != nil {
		return nil, fmt.Errorf("supervisor: server already running")
	}
	sl := endpoint.NewSlave(s.slaveCfg, s.bus, s.log)
	runCtx, cancel := context.WithCancel(ctx)
	s.slave = &runningEndpoint{ep: sl, cancel: cancel}
	go func() {
		if err := sl.Run(runCtx); err != nil {
			s.log.Warn("supervisor: server stopped: %v", err)
		}
	}()
	return sl, nil
}

// StopServer requests a cooperative shutdown of the slave endpoint.
func (s *Supervisor) StopServer() {
	s.mu.Lock()
	re := s.slave
	s.slave = nil
	s.mu.Unlock()
	if re == nil {
		return
	}
	re.ep.Stop()
	re.cancel()
	<-re.ep.Done()
}

// StopAll shuts both endpoints down and joins their goroutines.
func (s *Supervisor) StopAll() {
	s.StopClient()
	s.StopServer()
}

// ConnectionSnapshot is both sides' connection status.
type ConnectionSnapshot struct {
	Client endpoint.Status
	Server endpoint.Status
}

// Status returns a read-copied snapshot of both endpoints' connection
// state. A nil/zero Status is reported for a side that isn't running.
func (s *Supervisor) Status() ConnectionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var snap ConnectionSnapshot
	if s.master != nil {
		if m, ok := s.master.ep.(*endpoint.Master); ok {
			snap.Client = m.Status()
		}
	}
	if s.slave != nil {
		if sl, ok := s.slave.ep.(*endpoint.Slave); ok {
			snap.Server = sl.Status()
		}
	}
	return snap
}

// Master returns the running master endpoint, or nil.
func (s *Supervisor) Master() *endpoint.Master {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.master == nil {
		return nil
	}
	m, _ := s.master.ep.(*endpoint.Master)
	return m
}

// Slave returns the running slave endpoint, or nil.
func (s *Supervisor) Slave() *endpoint.Slave {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slave == nil {
		return nil
	}
	sl, _ := s.slave.ep.(*endpoint.Slave)
	return sl
}

// RecordLoop drains the bus and appends every telegram to the history
// log until ctx is canceled. Run this once per process alongside the
// endpoints.
func (s *Supervisor) RecordLoop(ctx context.Context) {
	h, ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(h)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Kind != eventbus.KindTelegram {
				continue
			}
			rec := toHistoryRecord(ev.Telegram)
			if err := s.hist.Record(ev.Telegram.Side, rec); err != nil {
				s.log.Warn("supervisor: history record: %v", err)
			}
		}
	}
}

func toHistoryRecord(t eventbus.Telegram) history.Record {
	rec := history.Record{
		Side: t.Side, Sequence: t.SeqInStream, Timestamp: t.WallTime.Format("2006-01-02T15:04:05.000Z07:00"),
		DeltaMillis: t.Delta.Milliseconds(), LocalEndpoint: t.LocalEP, RemoteEndpoint: t.RemoteEP,
		FrameFamily: t.FrameFamily.String(), Label: t.Label, Direction: t.Direction,
	}
	if t.HasASDU {
		typeID := uint8(t.TypeID)
		cause := t.Cause.Byte()
		orig := uint8(t.Originator)
		station := uint16(t.CA)
		ioa := uint32(t.IOA)
		rec.TypeID, rec.Cause, rec.Originator, rec.Station, rec.IOA = &typeID, &cause, &orig, &station, &ioa
		rec.Value = t.Value.String()
		if t.Qualifier.Present {
			rec.Qualifier = fmt.Sprintf("%08b", t.Qualifier.Value)
		}
	}
	return rec
}
