// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/iec104harness/harness/asdu"
	"github.com/iec104harness/harness/endpoint"
	"github.com/iec104harness/harness/orchestrator"
	"github.com/iec104harness/harness/session"
	"github.com/iec104harness/harness/signalrow"
)

// clientSettings configures the master endpoint: it dials RemoteAddr and
// declares the common address it believes the remote station answers to
// (RemoteCommonAddress).
type clientSettings struct {
	LocalAddr           string `json:"local_addr"`
	RemoteAddr          string `json:"remote_addr"`
	RemoteCommonAddress uint16 `json:"remote_common_address"`
	OriginatorAddress   uint8  `json:"originator_address"`
}

// serverSettings mirrors ServerSettings: the slave endpoint binds
// LocalAddr and answers for CommonAddress.
type serverSettings struct {
	LocalAddr         string `json:"local_addr"`
	CommonAddress     uint16 `json:"common_address"`
	OriginatorAddress uint8  `json:"originator_address"`
}

// subTestConfig is one entry of runConfig.SubTests.
type subTestConfig struct {
	Kind string          `json:"kind"`
	Rows []signalrow.Row `json:"rows"`
}

// runConfig is the on-disk shape of data/pruefungskonfigurationen/{id}.json.
type runConfig struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Client   clientSettings  `json:"client"`
	Server   serverSettings  `json:"server"`
	SubTests []subTestConfig `json:"subTests"`
}

// loadRunConfig reads and validates a run configuration. Every check
// below happens before any endpoint starts; a bad configuration is
// rejected here, never mid-run.
func loadRunConfig(path string) (*runConfig, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("harness: read config: %w", err)
	}
	var cfg runConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("harness: parse config: %w", err)
	}
	if cfg.ID == "" {
		return nil, fmt.Errorf("harness: config missing id")
	}
	if err := validateCommonAddress(cfg.Client, cfg.Server); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateCommonAddress rejects a harness configuration where the master's
// declared remote common address and the slave's declared common address
// disagree, rather than silently picking one side's value.
func validateCommonAddress(c clientSettings, s serverSettings) error {
	if c.RemoteCommonAddress != s.CommonAddress {
		return fmt.Errorf("harness: common address mismatch: client expects %d, server answers for %d",
			c.RemoteCommonAddress, s.CommonAddress)
	}
	return nil
}

// endpointConfigs derives the validated endpoint.Config pair a run needs.
func (c *runConfig) endpointConfigs() (masterCfg, slaveCfg endpoint.Config, err error) {
	sessCfg := session.DefaultConfig()

	masterProfile := signalrow.Profile{
		CommonAddress:     asdu.CommonAddr(c.Client.RemoteCommonAddress),
		DefaultOriginator: asdu.OriginAddr(c.Client.OriginatorAddress),
		TimeZone:          time.Local,
	}
	slaveProfile := signalrow.Profile{
		CommonAddress:     asdu.CommonAddr(c.Server.CommonAddress),
		DefaultOriginator: asdu.OriginAddr(c.Server.OriginatorAddress),
		TimeZone:          time.Local,
	}

	masterCfg = endpoint.Config{
		Role: endpoint.RoleMaster, RemoteAddr: c.Client.RemoteAddr,
		Session: sessCfg, Profile: masterProfile,
	}
	slaveCfg = endpoint.Config{
		Role: endpoint.RoleSlave, ListenAddr: c.Server.LocalAddr,
		Session: sessCfg, Profile: slaveProfile,
	}
	if err := masterCfg.Valid(); err != nil {
		return endpoint.Config{}, endpoint.Config{}, fmt.Errorf("harness: client config: %w", err)
	}
	if err := slaveCfg.Valid(); err != nil {
		return endpoint.Config{}, endpoint.Config{}, fmt.Errorf("harness: server config: %w", err)
	}
	return masterCfg, slaveCfg, nil
}

// testRun builds the orchestrator.TestRun this config describes.
func (c *runConfig) testRun(runID string) *orchestrator.TestRun {
	subs := make([]orchestrator.SubTest, len(c.SubTests))
	for i, st := range c.SubTests {
		subs[i] = orchestrator.SubTest{Kind: st.Kind, Rows: st.Rows}
	}
	return orchestrator.NewTestRun(runID, c.ID, c.Name, subs)
}
