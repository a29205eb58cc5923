// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

// Package session implements the per-connection IEC 60870-5-104 state
// machine: handshake phases, sequence accounting, and timer discipline,
// independent of any socket.
package session

import (
	"errors"
	"time"
)

// Configuration ranges, per IEC 60870-5-104.
const (
	ConnectTimeout0Min = 1 * time.Second
	ConnectTimeout0Max = 255 * time.Second

	SendUnAckTimeout1Min = 1 * time.Second
	SendUnAckTimeout1Max = 255 * time.Second

	RecvUnAckTimeout2Min = 1 * time.Second
	RecvUnAckTimeout2Max = 255 * time.Second

	IdleTimeout3Min = 1 * time.Second
	IdleTimeout3Max = 48 * time.Hour

	SendUnAckLimitKMin = 1
	SendUnAckLimitKMax = 32767

	RecvUnAckLimitWMin = 1
	RecvUnAckLimitWMax = 32767
)

// Config holds the T0-T3/k/w knobs.
type Config struct {
	// T0: maximum time to establish a TCP connection. Default 30s.
	ConnectTimeout0 time.Duration
	// T1: maximum time to wait for an acknowledgement of a sent I-frame or
	// TESTFR_ACT; expiry closes the session. Default 15s.
	SendUnAckTimeout1 time.Duration
	// T2: maximum delay before acking received I-frames; must be < T1.
	// Default 10s.
	RecvUnAckTimeout2 time.Duration
	// T3: idle timeout triggering TESTFR_ACT; must be > T1. Default 20s.
	IdleTimeout3 time.Duration
	// k: max unacknowledged sent I-frames. Default 12.
	SendUnAckLimitK uint16
	// w: max unacknowledged received I-frames before a mandatory S-frame.
	// Default 8.
	RecvUnAckLimitW uint16
}

// DefaultConfig returns the IEC-mandated defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout0:   30 * time.Second,
		SendUnAckTimeout1: 15 * time.Second,
		RecvUnAckTimeout2: 10 * time.Second,
		IdleTimeout3:      20 * time.Second,
		SendUnAckLimitK:   12,
		RecvUnAckLimitW:   8,
	}
}

// Valid fills in every unset field with its IEC default and rejects values
// outside the standard's ranges.
func (c *Config) Valid() error {
	if c == nil {
		return errors.New("session: nil config")
	}
	if c.ConnectTimeout0 == 0 {
		c.ConnectTimeout0 = 30 * time.Second
	} else if c.ConnectTimeout0 < ConnectTimeout0Min || c.ConnectTimeout0 > ConnectTimeout0Max {
		return errors.New(`session: ConnectTimeout0 "t0" not in [1, 255]s`)
	}
	if c.SendUnAckLimitK == 0 {
		c.SendUnAckLimitK = 12
	} else if c.SendUnAckLimitK < SendUnAckLimitKMin || c.SendUnAckLimitK > SendUnAckLimitKMax {
		return errors.New(`session: SendUnAckLimitK "k" not in [1, 32767]`)
	}
	if c.SendUnAckTimeout1 == 0 {
		c.SendUnAckTimeout1 = 15 * time.Second
	} else if c.SendUnAckTimeout1 < SendUnAckTimeout1Min || c.SendUnAckTimeout1 > SendUnAckTimeout1Max {
		return errors.New(`session: SendUnAckTimeout1 "t1" not in [1, 255]s`)
	}
	if c.RecvUnAckLimitW == 0 {
		c.RecvUnAckLimitW = 8
	} else if c.RecvUnAckLimitW < RecvUnAckLimitWMin || c.RecvUnAckLimitW > RecvUnAckLimitWMax {
		return errors.New(`session: RecvUnAckLimitW "w" not in [1, 32767]`)
	}
	if c.RecvUnAckTimeout2 == 0 {
		c.RecvUnAckTimeout2 = 10 * time.Second
	} else if c.RecvUnAckTimeout2 < RecvUnAckTimeout2Min || c.RecvUnAckTimeout2 > RecvUnAckTimeout2Max {
		return errors.New(`session: RecvUnAckTimeout2 "t2" not in [1, 255]s`)
	}
	if c.IdleTimeout3 == 0 {
		c.IdleTimeout3 = 20 * time.Second
	} else if c.IdleTimeout3 < IdleTimeout3Min || c.IdleTimeout3 > IdleTimeout3Max {
		return errors.New(`session: IdleTimeout3 "t3" not in [1s, 48h]`)
	}
	if c.RecvUnAckTimeout2 >= c.SendUnAckTimeout1 {
		return errors.New("session: RecvUnAckTimeout2 (t2) must be less than SendUnAckTimeout1 (t1)")
	}
	if c.IdleTimeout3 <= c.SendUnAckTimeout1 {
		return errors.New("session: IdleTimeout3 (t3) must be greater than SendUnAckTimeout1 (t1)")
	}
	return nil
}
