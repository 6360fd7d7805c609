// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines run phases and the per-host Report produced by a launch.
package model

import (
	"sort"
	"sync"
)

// Phase is a stage of the orchestration state machine.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseConnect
	PhasePrepare
	PhaseDistribute
	PhaseFinalize
	PhaseLaunch
	PhaseCleanup
	PhaseDone
)

var phaseNames = [...]string{
	PhaseIdle:       "idle",
	PhaseConnect:    "connect",
	PhasePrepare:    "prepare",
	PhaseDistribute: "distribute",
	PhaseFinalize:   "finalize",
	PhaseLaunch:     "launch",
	PhaseCleanup:    "cleanup",
	PhaseDone:       "done",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// HostStatus is the outcome of one host's launched command.
type HostStatus struct {
	Assignment Assignment
	// ExitCode of the remote command; -1 when no status was received.
	ExitCode int
	// Err is set when the command could not be run or was interrupted.
	Err error
	// AfterReap marks hosts whose command ended after the reaper ran.
	AfterReap bool
	// Reaped marks AfterReap hosts whose role makes that termination
	// expected.
	Reaped bool
}

// Failed reports whether this host should be surfaced as a failure.
func (s HostStatus) Failed() bool {
	if s.Reaped {
		return false
	}
	return s.Err != nil || s.ExitCode != 0
}

// Report collects host statuses. Safe for concurrent use.
type Report struct {
	mu       sync.Mutex
	statuses []HostStatus
	reaped   bool
}

// Add records a status.
func (r *Report) Add(s HostStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

// MarkReaped records that the reaper ran.
func (r *Report) MarkReaped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reaped = true
}

// Reaped reports whether the reaper ran.
func (r *Report) Reaped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reaped
}

// Statuses returns the recorded statuses ordered by rank.
func (r *Report) Statuses() []HostStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HostStatus, len(r.statuses))
	copy(out, r.statuses)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Assignment.Rank < out[j].Assignment.Rank
	})
	return out
}

// Failed returns the statuses of hosts that failed.
func (r *Report) Failed() []HostStatus {
	var failed []HostStatus
	for _, s := range r.Statuses() {
		if s.Failed() {
			failed = append(failed, s)
		}
	}
	return failed
}
