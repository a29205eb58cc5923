// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package endpoint

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/iec104harness/harness/asdu"
	"github.com/iec104harness/harness/clog"
	"github.com/iec104harness/harness/eventbus"
	"github.com/iec104harness/harness/session"
	"github.com/iec104harness/harness/signalrow"
)

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func waitForEvent(t *testing.T, ch <-chan eventbus.Event, pred func(eventbus.Event) bool, timeout time.Duration) eventbus.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-ch:
			if pred(e) {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for expected event")
		}
	}
}

func TestMasterSlaveHandshakeAndSignal(t *testing.T) {
	addr := freePort(t)
	bus := eventbus.New()
	_, sub := bus.Subscribe()

	profile := signalrow.Profile{CommonAddress: 1, DefaultOriginator: 0, TimeZone: time.UTC}
	sessCfg := session.DefaultConfig()

	slaveCfg := Config{Role: RoleSlave, ListenAddr: addr, Session: sessCfg, Profile: profile}
	if err := slaveCfg.Valid(); err != nil {
		t.Fatalf("slave config invalid: %v", err)
	}
	masterCfg := Config{Role: RoleMaster, RemoteAddr: addr, Session: sessCfg, Profile: profile, RetryDelay: 200 * time.Millisecond}
	if err := masterCfg.Valid(); err != nil {
		t.Fatalf("master config invalid: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slave := NewSlave(slaveCfg, bus, clog.NewLogger("slave"))
	master := NewMaster(masterCfg, bus, clog.NewLogger("master"))

	go slave.Run(ctx)
	time.Sleep(50 * time.Millisecond)
	go master.Run(ctx)

	waitForEvent(t, sub, func(e eventbus.Event) bool {
		return e.Kind == eventbus.KindLinkStatus && e.LinkStatus.Side == eventbus.SideClient && e.LinkStatus.Connected
	}, 2*time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for master.Status().Session.Phase != session.Running && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if master.Status().Session.Phase != session.Running {
		t.Fatalf("master never reached Running, status=%+v", master.Status())
	}

	row := signalrow.Row{TypeID: 1, IOA1: 7, Value: "1"}
	master.Commands() <- Command{Kind: CmdSendSignal, Row: row}

	waitForEvent(t, sub, func(e eventbus.Event) bool {
		return e.Kind == eventbus.KindTelegram && e.Telegram.Side == eventbus.SideServer &&
			e.Telegram.Direction == eventbus.DirectionRecv && e.Telegram.HasASDU && e.Telegram.IOA == 7
	}, 2*time.Second)

	slave.Stop()
	master.Stop()
	<-slave.Done()
	<-master.Done()
}

func TestSlaveEmitsDiagnosticOnGarbagePrefix(t *testing.T) {
	addr := freePort(t)
	bus := eventbus.New()
	_, sub := bus.Subscribe()

	profile := signalrow.Profile{CommonAddress: 1, TimeZone: time.UTC}
	slaveCfg := Config{Role: RoleSlave, ListenAddr: addr, Session: session.DefaultConfig(), Profile: profile}
	if err := slaveCfg.Valid(); err != nil {
		t.Fatalf("slave config invalid: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	slave := NewSlave(slaveCfg, bus, clog.NewLogger("slave"))
	go slave.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	raw := append([]byte{0xFF, 0xFF}, asdu.BuildU(asdu.UStartDtActive)...)
	if _, err := conn.Write(raw); err != nil {
		t.Fatalf("write: %v", err)
	}

	diag := waitForEvent(t, sub, func(e eventbus.Event) bool {
		return e.Kind == eventbus.KindDiagnostic && e.Diagnostic.Side == eventbus.SideServer
	}, 2*time.Second)
	if diag.Diagnostic.DroppedBytes != 2 {
		t.Fatalf("dropped bytes = %d, want 2", diag.Diagnostic.DroppedBytes)
	}

	// The garbage prefix must not cost the frame behind it.
	waitForEvent(t, sub, func(e eventbus.Event) bool {
		return e.Kind == eventbus.KindTelegram && e.Telegram.Side == eventbus.SideServer &&
			e.Telegram.Direction == eventbus.DirectionSend && e.Telegram.Label == "STARTDT CON"
	}, 2*time.Second)

	slave.Stop()
	<-slave.Done()
}
