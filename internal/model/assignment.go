// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the per-host role Assignment.
package model

import "fmt"

// Job names used by the parameter-server topology.
const (
	JobParameterServer = "ps"
	JobWorker          = "worker"
)

// Assignment is the identity of a single host within the run.
type Assignment struct {
	Host Host
	// Rank is unique across the whole run, starting at 0.
	Rank int
	// JobName is "ps" or "worker" for the parameter-server topology, empty
	// otherwise.
	JobName string
	// TaskIndex counts hosts within JobName. Only meaningful when JobName is set.
	TaskIndex int
}

// HasJob reports whether the assignment carries a job name and task index.
func (a Assignment) HasJob() bool { return a.JobName != "" }

// String is used in logs.
func (a Assignment) String() string {
	if !a.HasJob() {
		return fmt.Sprintf("%s rank=%d", a.Host, a.Rank)
	}
	return fmt.Sprintf("%s rank=%d job=%s task=%d", a.Host, a.Rank, a.JobName, a.TaskIndex)
}
