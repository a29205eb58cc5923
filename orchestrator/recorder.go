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

	"github.com/iec104harness/harness/eventbus"
	"github.com/iec104harness/harness/signalrow"
)

// recordEntry is one telegram captured into a sub-test's recording,
// matching the `telegram` event-bus message shape.
type recordEntry struct {
	Side           eventbus.Side      `json:"side"`
	Direction      eventbus.Direction `json:"direction"`
	Sequence       uint64             `json:"sequence"`
	Timestamp      time.Time          `json:"timestamp"`
	DeltaMillis    int64              `json:"delta_ms"`
	LocalEndpoint  string             `json:"local_endpoint"`
	RemoteEndpoint string             `json:"remote_endpoint"`
	FrameFamily    string             `json:"frame_family"`
	Label          string             `json:"label"`

	TypeID     *uint8  `json:"type_id,omitempty"`
	Cause      *uint8  `json:"cause,omitempty"`
	Originator *uint8  `json:"originator,omitempty"`
	Station    *uint16 `json:"station,omitempty"`
	IOA        *uint32 `json:"ioa,omitempty"`
	Value      string  `json:"value,omitempty"`
	Qualifier  string  `json:"qualifier,omitempty"`
	LabelText  string  `json:"label_text,omitempty"` // resolved "Datenpunkt / Meldetext", if known
}

// recording is the JSON document persisted per sub-test.
type recording struct {
	ConfigID string        `json:"configurationId"`
	RunID    string        `json:"runId"`
	Index    int           `json:"index"`
	Aborted  bool          `json:"aborted"`
	Entries  []recordEntry `json:"entries"`
}

// recorder subscribes to the bus for the lifetime of one sub-test,
// capturing every telegram into entries and tracking which expected
// counter-telegram signatures are still outstanding per side.
type recorder struct {
	bus    *eventbus.Bus
	labels signalrow.LabelIndex

	mu      sync.Mutex
	entries []recordEntry
	pending map[eventbus.Side][]signature
}

func newRecorder(bus *eventbus.Bus, labels signalrow.LabelIndex) *recorder {
	return &recorder{bus: bus, labels: labels, pending: make(map[eventbus.Side][]signature)}
}

// run drains the bus subscription until ctx is canceled, appending every
// telegram to entries and clearing matched pending signatures.
func (r *recorder) run(ctx context.Context) {
	h, ch := r.bus.Subscribe()
	defer r.bus.Unsubscribe(h)
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
			r.append(ev.Telegram)
			if ev.Telegram.Direction == eventbus.DirectionRecv {
				r.resolve(ev.Telegram.Side, telegramSignature(ev.Telegram))
			}
		}
	}
}

func (r *recorder) append(t eventbus.Telegram) {
	e := recordEntry{
		Side: t.Side, Direction: t.Direction, Sequence: t.SeqInStream,
		Timestamp: t.WallTime, DeltaMillis: t.Delta.Milliseconds(),
		LocalEndpoint: t.LocalEP, RemoteEndpoint: t.RemoteEP,
		FrameFamily: t.FrameFamily.String(), Label: t.Label,
	}
	if t.HasASDU {
		typeID := uint8(t.TypeID)
		cause := t.Cause.Byte()
		orig := uint8(t.Originator)
		station := uint16(t.CA)
		ioa := uint32(t.IOA)
		e.TypeID, e.Cause, e.Originator, e.Station, e.IOA = &typeID, &cause, &orig, &station, &ioa
		e.Value = t.Value.String()
		if t.Qualifier.Present {
			e.Qualifier = fmt.Sprintf("%08b", t.Qualifier.Value)
		}
		if r.labels != nil {
			e.LabelText = r.labels[t.IOA]
		}
	}

	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

// expect registers the signatures a segment sent by side should elicit
// from the other side.
func (r *recorder) expect(side eventbus.Side, sigs []signature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[side] = append(r.pending[side], sigs...)
}

func (r *recorder) resolve(side eventbus.Side, sig signature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.pending[side]
	for i, s := range list {
		if s == sig {
			r.pending[side] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (r *recorder) pendingCount(side eventbus.Side) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending[side])
}

// clearPending drops all outstanding expectations silently; the mismatch
// stays detectable later by diffing the recording against the reference.
func (r *recorder) clearPending(side eventbus.Side) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[side] = nil
}

// save persists the sub-test's recording as a single JSON document to
// dir/"{configID}_teil{index+1}_{runID}_kommunikationsverlauf.json".
func (r *recorder) save(dir, configID, runID string, index int, aborted bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("orchestrator: create recording dir: %w", err)
	}
	r.mu.Lock()
	entries := append([]recordEntry(nil), r.entries...)
	r.mu.Unlock()

	doc := recording{ConfigID: configID, RunID: runID, Index: index, Aborted: aborted, Entries: entries}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("orchestrator: marshal recording: %w", err)
	}
	name := fmt.Sprintf("%s_teil%d_%s_kommunikationsverlauf.json", configID, index+1, runID)
	return os.WriteFile(filepath.Join(dir, name), body, 0o644)
}
