// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package jobs implements job execution: a bounded
// thread pool, an interval/cron scheduler, and a durable SQLite-backed
// job queue with retry/backoff, all satisfying pkg/runtime's JobService
// structurally.
package jobs

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

var durationPattern = regexp.MustCompile(`^(\d+)(s|m|h|d|w)?$`)

var unitSeconds = map[string]int64{"s": 1, "m": 60, "h": 3600, "d": 86400, "w": 604800}

// ParseDuration parses the duration grammar: a bare integer
// (seconds) or an integer with a single s/m/h/d/w suffix.
func ParseDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("jobs: invalid duration %q", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("jobs: invalid duration %q: %w", s, err)
	}
	unit := m[2]
	if unit == "" {
		unit = "s"
	}
	return time.Duration(n*unitSeconds[unit]) * time.Second, nil
}

// FormatDuration renders d using up to two units, largest to smallest
// (e.g. "1w 2d", "5m 30s").
func FormatDuration(d time.Duration) string {
	total := int64(d.Seconds())
	if total == 0 {
		return "0s"
	}
	order := []struct {
		suffix  string
		seconds int64
	}{
		{"w", 604800}, {"d", 86400}, {"h", 3600}, {"m", 60}, {"s", 1},
	}
	var parts []string
	for _, u := range order {
		if total >= u.seconds {
			units := total / u.seconds
			total -= units * u.seconds
			parts = append(parts, fmt.Sprintf("%d%s", units, u.suffix))
			if len(parts) == 2 {
				break
			}
		}
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

// Backoff grows geometrically (×1.5) per attempt, capped at 30s, the
// reconnection-style retry curve. Shared by the durable job queue and
// by pkg/wsocket's client-side reconnect loop.
func Backoff(attempts, baseSeconds int) time.Duration {
	if baseSeconds <= 0 {
		baseSeconds = 1
	}
	d := float64(baseSeconds) * math.Pow(1.5, float64(attempts-1))
	if d > 30 {
		d = 30
	}
	return time.Duration(d * float64(time.Second))
}
