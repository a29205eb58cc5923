// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/iec104harness/harness/clog"
	"github.com/iec104harness/harness/endpoint"
	"github.com/iec104harness/harness/eventbus"
	"github.com/iec104harness/harness/signalrow"
)

// CommandSink is the narrow surface the orchestrator needs from an
// endpoint, satisfied by both *endpoint.Master and *endpoint.Slave.
type CommandSink interface {
	Commands() chan<- endpoint.Command
}

// Config tunes the orchestrator's pacing.
type Config struct {
	RecordingDir string // data/pruefungskommunikation
	ProtocolDir  string // data/pruefprotokolle

	PreTestPause            time.Duration // default 35s
	IncomingTelegramTimeout time.Duration // default 5s
	InterSignalPause        time.Duration // default 50ms
}

// Valid fills defaults.
func (c *Config) Valid() error {
	if c.PreTestPause <= 0 {
		c.PreTestPause = 35 * time.Second
	}
	if c.IncomingTelegramTimeout <= 0 {
		c.IncomingTelegramTimeout = 5 * time.Second
	}
	if c.InterSignalPause <= 0 {
		c.InterSignalPause = 50 * time.Millisecond
	}
	if c.RecordingDir == "" {
		return fmt.Errorf("orchestrator: RecordingDir required")
	}
	if c.ProtocolDir == "" {
		return fmt.Errorf("orchestrator: ProtocolDir required")
	}
	return nil
}

// Orchestrator sequences a TestRun's sub-tests across a master and a
// slave endpoint: signal injection in segment order, counter-telegram
// matching, per-sub-test recordings, and a sanitized run summary.
type Orchestrator struct {
	cfg    Config
	bus    *eventbus.Bus
	master CommandSink
	slave  CommandSink
	log    clog.Clog

	mu      sync.Mutex
	aborted bool
	abortCh chan struct{}
}

// New returns an Orchestrator ready for Run. cfg must have passed Valid().
func New(cfg Config, bus *eventbus.Bus, master, slave CommandSink, log clog.Clog) *Orchestrator {
	return &Orchestrator{cfg: cfg, bus: bus, master: master, slave: slave, log: log, abortCh: make(chan struct{})}
}

// Abort flips the run-level abort flag, checked at every sleep boundary.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.aborted {
		o.aborted = true
		close(o.abortCh)
	}
}

func (o *Orchestrator) isAborted() bool {
	select {
	case <-o.abortCh:
		return true
	default:
		return false
	}
}

// sinkFor returns the CommandSink serving side.
func (o *Orchestrator) sinkFor(side eventbus.Side) CommandSink {
	if side == eventbus.SideClient {
		return o.master
	}
	return o.slave
}

// Run executes run's sub-tests in order, persisting a per-sub-test
// recording and a final sanitized run summary.
func (o *Orchestrator) Run(ctx context.Context, run *TestRun) error {
	run.Phase = PhaseQueued
	run.StartedAt = time.Now()

	o.slave.Commands() <- endpoint.Command{Kind: endpoint.CmdSetTestActive, TestActive: true}
	defer func() {
		o.slave.Commands() <- endpoint.Command{Kind: endpoint.CmdSetTestActive, TestActive: false}
	}()

	for i := range run.SubTests {
		if o.isAborted() {
			o.abortRemaining(run, i)
			break
		}
		if err := o.runSubTest(ctx, run, i); err != nil {
			o.log.Error("orchestrator: sub-test %d failed: %v", i, err)
			o.abortRemaining(run, i)
			break
		}
	}

	run.FinishedAt = time.Now()
	if o.isAborted() {
		run.Phase = PhaseAborted
	} else {
		run.Phase = PhaseCompleted
	}
	return o.saveSummary(run)
}

// runSubTest drives one sub-test: pre-test pause, segmented injection,
// counter-telegram drain, recording persistence.
func (o *Orchestrator) runSubTest(ctx context.Context, run *TestRun, i int) error {
	st := &run.SubTests[i]
	st.Phase = PhasePreparing
	st.LogFile = fmt.Sprintf("%s_teil%d_%s_kommunikationsverlauf.json", run.ConfigID, i+1, run.ID)

	labels := signalrow.BuildLabelIndex(st.Rows)
	rec := newRecorder(o.bus, labels)
	recCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go rec.run(recCtx)

	if !o.sleepOrAbort(ctx, o.cfg.PreTestPause) {
		st.Phase = PhaseAborted
		return rec.save(o.cfg.RecordingDir, run.ConfigID, run.ID, i, true)
	}

	st.Phase = PhaseRunning
	segments := buildSegmentation(st.Rows)

	var lastSendAt time.Time
	for _, seg := range segments {
		if o.isAborted() {
			break
		}
		if rec.pendingCount(seg.side) > 0 {
			o.waitForTurn(ctx, rec, seg.side)
		}

		sink := o.sinkFor(seg.side)
		var sigs []signature
		for _, row := range seg.rows {
			sink.Commands() <- endpoint.Command{Kind: endpoint.CmdSendSignal, Row: row}
			sigs = append(sigs, rowSignature(row))
			lastSendAt = time.Now()
			if !o.sleepOrAbort(ctx, o.cfg.InterSignalPause) {
				break
			}
		}
		rec.expect(otherSide(seg.side), sigs)
	}

	if !lastSendAt.IsZero() {
		deadline := lastSendAt.Add(o.cfg.IncomingTelegramTimeout)
		for time.Now().Before(deadline) && !o.isAborted() {
			if rec.pendingCount(eventbus.SideClient) == 0 && rec.pendingCount(eventbus.SideServer) == 0 {
				break
			}
			o.sleepOrAbort(ctx, 50*time.Millisecond)
		}
		rec.clearPending(eventbus.SideClient)
		rec.clearPending(eventbus.SideServer)
	}

	aborted := o.isAborted()
	if aborted {
		st.Phase = PhaseAborted
	} else {
		st.Phase = PhaseCompleted
	}
	cancel()
	return rec.save(o.cfg.RecordingDir, run.ConfigID, run.ID, i, aborted)
}

// waitForTurn blocks until side's pending expectations drain or the
// incoming-telegram timeout passes.
func (o *Orchestrator) waitForTurn(ctx context.Context, rec *recorder, side eventbus.Side) {
	deadline := time.Now().Add(o.cfg.IncomingTelegramTimeout)
	for time.Now().Before(deadline) {
		if rec.pendingCount(side) == 0 || o.isAborted() {
			return
		}
		if !o.sleepOrAbort(ctx, 50*time.Millisecond) {
			return
		}
	}
	rec.clearPending(side)
}

// sleepOrAbort blocks for d or until ctx/abort fires; returns false if it
// was interrupted rather than completing the full sleep.
func (o *Orchestrator) sleepOrAbort(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-o.abortCh:
		return false
	}
}

func (o *Orchestrator) abortRemaining(run *TestRun, from int) {
	o.Abort()
	for i := from; i < len(run.SubTests); i++ {
		if run.SubTests[i].Phase != PhaseCompleted {
			run.SubTests[i].Phase = PhaseAborted
		}
	}
}

// summary is the sanitized run-summary document persisted to the
// protocols directory.
type summary struct {
	ID              string          `json:"id"`
	ConfigurationID string          `json:"configurationId"`
	Name            string          `json:"name"`
	FinishedAt      time.Time       `json:"finishedAt"`
	StartedAt       time.Time       `json:"startedAt"`
	Aborted         bool            `json:"aborted"`
	Teilpruefungen  []summaryEntry  `json:"teilpruefungen"`
	DisplayName     string          `json:"displayName"`
}

type summaryEntry struct {
	Index        int    `json:"index"`
	Pruefungsart string `json:"pruefungsart"`
	Status       Phase  `json:"status"`
	LogFile      string `json:"logFile"`
}

func (o *Orchestrator) saveSummary(run *TestRun) error {
	if err := os.MkdirAll(o.cfg.ProtocolDir, 0o755); err != nil {
		return fmt.Errorf("orchestrator: create protocol dir: %w", err)
	}
	s := summary{
		ID: run.ID, ConfigurationID: run.ConfigID, Name: run.Name,
		FinishedAt: run.FinishedAt, StartedAt: run.StartedAt, Aborted: o.isAborted(),
		DisplayName: run.Name,
	}
	for _, st := range run.SubTests {
		s.Teilpruefungen = append(s.Teilpruefungen, summaryEntry{
			Index: st.Index, Pruefungsart: st.Kind, Status: st.Phase, LogFile: st.LogFile,
		})
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("orchestrator: marshal summary: %w", err)
	}
	return os.WriteFile(filepath.Join(o.cfg.ProtocolDir, run.ID+".json"), body, 0o644)
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return xid.New().String() }
