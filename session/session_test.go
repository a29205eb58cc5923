// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package session

import (
	"testing"
	"time"
)

func runningMachine(t *testing.T, cfg Config) *Machine {
	t.Helper()
	if err := cfg.Valid(); err != nil {
		t.Fatalf("Valid() failed: %v", err)
	}
	m := New(cfg)
	now := time.Now()
	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.OnStartDTAct(); err != nil {
		t.Fatalf("OnStartDTAct failed: %v", err)
	}
	if err := m.OnStartDTCon(now); err != nil {
		t.Fatalf("OnStartDTCon failed: %v", err)
	}
	return m
}

func TestConfigValidFillsDefaults(t *testing.T) {
	cfg := Config{}
	if err := cfg.Valid(); err != nil {
		t.Fatalf("Valid() failed: %v", err)
	}
	want := DefaultConfig()
	if cfg != want {
		t.Errorf("Valid() = %+v, want defaults %+v", cfg, want)
	}
}

func TestConfigValidRejectsOutOfRangeK(t *testing.T) {
	cfg := Config{SendUnAckLimitK: 40000}
	if err := cfg.Valid(); err == nil {
		t.Fatal("expected an error for out-of-range k")
	}
}

func TestFlowControlBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendUnAckLimitK = 3
	m := runningMachine(t, cfg)

	now := time.Now()
	sent := 0
	for i := 0; i < 5; i++ {
		if !m.CanSend() {
			continue
		}
		if _, err := m.OnSendIFrame(now); err != nil {
			t.Fatalf("OnSendIFrame failed: %v", err)
		}
		sent++
	}
	if sent != 3 {
		t.Fatalf("sent %d I-frames before blocking, want 3 (k)", sent)
	}
	if m.State().UnackedSent > m.State().K {
		t.Fatalf("unacked_sent %d exceeds k %d", m.State().UnackedSent, m.State().K)
	}

	// An S-frame ack for the first frame should free exactly one slot.
	if err := m.OnAck(1); err != nil {
		t.Fatalf("OnAck failed: %v", err)
	}
	if !m.CanSend() {
		t.Fatal("expected a free send slot after ack")
	}
}

func TestSequenceDiscipline(t *testing.T) {
	master := runningMachine(t, DefaultConfig())
	slave := runningMachine(t, DefaultConfig())

	now := time.Now()
	const n = 20
	for i := 0; i < n; i++ {
		seq, err := master.OnSendIFrame(now)
		if err != nil {
			t.Fatalf("OnSendIFrame failed at %d: %v", i, err)
		}
		due, err := slave.OnReceiveIFrame(seq, now)
		if err != nil {
			t.Fatalf("OnReceiveIFrame failed at %d: %v", i, err)
		}
		if due {
			slave.OnSFrameSent()
			if err := master.OnAck(slave.State().VR); err != nil {
				t.Fatalf("OnAck failed at %d: %v", i, err)
			}
		}
	}

	if master.State().VS != n%seqModulo {
		t.Fatalf("master v_s = %d, want %d", master.State().VS, n%seqModulo)
	}
	if slave.State().VR != n%seqModulo {
		t.Fatalf("slave v_r = %d, want %d", slave.State().VR, n%seqModulo)
	}
	if master.State().VS != slave.State().VR {
		t.Fatalf("master v_s %d != slave v_r %d", master.State().VS, slave.State().VR)
	}
}

func TestReceiveSequenceViolationClosesSession(t *testing.T) {
	slave := runningMachine(t, DefaultConfig())
	if _, err := slave.OnReceiveIFrame(5, time.Now()); err != ErrSequenceViolation {
		t.Fatalf("got %v, want ErrSequenceViolation", err)
	}
	if slave.State().Phase != Closed {
		t.Fatalf("phase = %v, want Closed after sequence violation", slave.State().Phase)
	}
}

func TestTimerDisciplineSendsTestFrAfterT3(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendUnAckTimeout1 = 1 * time.Second
	cfg.RecvUnAckTimeout2 = 300 * time.Millisecond
	cfg.IdleTimeout3 = 2 * time.Second
	m := runningMachine(t, cfg)

	base := time.Now()
	if action := m.Tick(base.Add(500 * time.Millisecond)); action != ActionNone {
		t.Fatalf("Tick too early = %v, want ActionNone", action)
	}

	afterIdle := base.Add(cfg.IdleTimeout3 + time.Millisecond)
	if action := m.Tick(afterIdle); action != ActionSendTestFr {
		t.Fatalf("Tick after T3 = %v, want ActionSendTestFr", action)
	}
	m.OnTestFrActSent(afterIdle)

	afterT1 := afterIdle.Add(cfg.SendUnAckTimeout1 + time.Millisecond)
	if action := m.Tick(afterT1); action != ActionCloseT1Expired {
		t.Fatalf("Tick after T1 with no TESTFR_CON = %v, want ActionCloseT1Expired", action)
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	m := New(DefaultConfig())
	if err := m.OnStartDTAct(); err != ErrIllegalTransition {
		t.Fatalf("got %v, want ErrIllegalTransition", err)
	}
}
