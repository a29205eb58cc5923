// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

// Command harness runs one configured test run end-to-end: it starts a
// master and a slave endpoint, drives the orchestrator through every
// sub-test, persists recordings and a run summary, and exits with a code
// reflecting the outcome.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/rs/xid"

	"github.com/iec104harness/harness/clog"
	"github.com/iec104harness/harness/eventbus"
	"github.com/iec104harness/harness/history"
	"github.com/iec104harness/harness/orchestrator"
	"github.com/iec104harness/harness/supervisor"
)

// Exit codes.
const (
	exitSuccess       = 0
	exitInvalidConfig = 1
	exitIO            = 2
	exitAborted       = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a run configuration JSON file (data/pruefungskonfigurationen/{id}.json)")
	dataDir := flag.String("data-dir", "data", "base directory for recordings, protocols, and history")
	logLevel := flag.String("log-level", "warn", "off|critical|error|warn|debug")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "harness: -config is required")
		return exitInvalidConfig
	}

	cfg, err := loadRunConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidConfig
	}

	logger := clog.NewLogger("harness")
	logger.SetLogLevel(parseLevel(*logLevel))

	hist, err := history.New(filepath.Join(*dataDir, "beobachten"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitIO
	}

	masterCfg, slaveCfg, err := cfg.endpointConfigs()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidConfig
	}
	bus := eventbus.New()
	sup := supervisor.New(masterCfg, slaveCfg, bus, hist, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go sup.RecordLoop(ctx)

	if _, err := sup.StartServer(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitIO
	}
	if _, err := sup.StartClient(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		sup.StopAll()
		return exitIO
	}
	defer sup.StopAll()

	orchCfg := orchestrator.Config{
		RecordingDir: filepath.Join(*dataDir, "pruefungskommunikation"),
		ProtocolDir:  filepath.Join(*dataDir, "pruefprotokolle"),
	}
	if err := orchCfg.Valid(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidConfig
	}

	orch := orchestrator.New(orchCfg, bus, sup.Master(), sup.Slave(), logger)

	runID := xid.New().String()
	testRun := cfg.testRun(runID)

	go func() {
		<-ctx.Done()
		orch.Abort()
	}()

	if err := orch.Run(ctx, testRun); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitIO
	}

	if testRun.Phase == orchestrator.PhaseAborted {
		return exitAborted
	}
	return exitSuccess
}

func parseLevel(s string) clog.Level {
	switch s {
	case "debug":
		return clog.LevelDebug
	case "warn":
		return clog.LevelWarn
	case "error":
		return clog.LevelError
	case "critical":
		return clog.LevelCritical
	default:
		return clog.LevelOff
	}
}
