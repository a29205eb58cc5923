// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

// Package orchestrator sequences signal injection and counter-telegram
// matching across a run's ordered sub-tests.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iec104harness/harness/signalrow"
)

// Phase is shared by TestRun and SubTest.
type Phase int

// Phases.
const (
	PhaseQueued Phase = iota
	PhasePreparing
	PhaseRunning
	PhaseCompleted
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseQueued:
		return "Queued"
	case PhasePreparing:
		return "Preparing"
	case PhaseRunning:
		return "Running"
	case PhaseCompleted:
		return "Completed"
	case PhaseAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// MarshalJSON renders the phase as the status string the sanitized run
// summary and recording files carry.
func (p Phase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON parses the status string back into a Phase.
func (p *Phase) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "Queued":
		*p = PhaseQueued
	case "Preparing":
		*p = PhasePreparing
	case "Running":
		*p = PhaseRunning
	case "Completed":
		*p = PhaseCompleted
	case "Aborted":
		*p = PhaseAborted
	default:
		return fmt.Errorf("orchestrator: unknown phase %q", s)
	}
	return nil
}

// SubTest is one ordered signal list executed as a unit within a run
// (Teilprüfung).
type SubTest struct {
	Index   int
	Kind    string // e.g. "GI"; free text
	Rows    []signalrow.Row
	Phase   Phase
	LogFile string
}

// TestRun is a sequence of sub-tests executed in order.
type TestRun struct {
	ID         string
	ConfigID   string
	Name       string
	SubTests   []SubTest
	Phase      Phase
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewTestRun assigns sequential indices to subTests and returns a run
// ready for Orchestrator.Run.
func NewTestRun(id, configID, name string, subTests []SubTest) *TestRun {
	for i := range subTests {
		subTests[i].Index = i
		subTests[i].Phase = PhaseQueued
	}
	return &TestRun{ID: id, ConfigID: configID, Name: name, SubTests: subTests, Phase: PhaseQueued}
}
