// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// Package model holds the plain data types shared by every stage of a launch:
// the hosts taking part, the immutable RunPlan, the per-host role Assignment,
// the ordered Environment injected into each remote command, and the Report
// collected when the run finishes.
//
// # Core Concepts
//
//   - Host: one remote machine, identified by its address. The parameter-server
//     topology allows an embedded port ("10.0.0.1:2222") which is handed to the
//     training program but never used for the SSH connection itself.
//
//   - RunPlan: everything decided before the first remote contact. It is built
//     once by NewRunPlan and only read afterwards.
//
//   - Assignment: rank, and for the parameter-server topology the job name and
//     task index, of a single host.
//
//   - Environment: an ordered list of variables. It is built fresh for every
//     host and never shared.
//
// Nothing in this package performs I/O.
package model
