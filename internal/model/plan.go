// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the RunPlan, the immutable description of a launch.
package model

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/google/uuid"
)

// RemoteDirPrefix prefixes every per-run remote working directory.
const RemoteDirPrefix = "launcher-tmp-"

// RunPlan is everything decided before the first remote contact.
type RunPlan struct {
	// Hosts lists every host in launch order.
	Hosts []Host
	// RemoteDir is the per-run working directory, relative to the remote
	// login directory.
	RemoteDir string
	// Script is the local path of the training program.
	Script string
	// ScriptBase is the basename of Script.
	ScriptBase string
	// AuxFiles are additional local files copied next to the script.
	AuxFiles []string
	// PrepareCmd is an optional shell snippet run before the script.
	PrepareCmd string
	// Interpreter prefixes the script invocation ("python"). Empty runs the
	// script directly.
	Interpreter string
	// ScriptArgs are passed through to the script verbatim.
	ScriptArgs []string
	// MasterPort is the rendezvous port on the master host.
	MasterPort int
	// ExtraEnv is appended to every host's environment.
	ExtraEnv Environment
}

// PlanInput carries the caller-provided parts of a RunPlan.
type PlanInput struct {
	Hosts       []Host
	Script      string
	AuxFiles    []string
	PrepareCmd  string
	Interpreter string
	ScriptArgs  []string
	MasterPort  int
	ExtraEnv    Environment
}

// NewRunPlan builds a RunPlan with a freshly generated remote directory.
func NewRunPlan(in PlanInput) (*RunPlan, error) {
	if len(in.Hosts) == 0 {
		return nil, fmt.Errorf("run plan needs at least one host")
	}
	if in.Script == "" {
		return nil, fmt.Errorf("run plan needs a training script")
	}
	// Version 1 UUIDs embed the time and node, so two runs started on the
	// same machine never collide.
	id, err := uuid.NewUUID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate remote directory name: %w", err)
	}

	return &RunPlan{
		Hosts:       append([]Host(nil), in.Hosts...),
		RemoteDir:   RemoteDirPrefix + id.String(),
		Script:      in.Script,
		ScriptBase:  filepath.Base(in.Script),
		AuxFiles:    append([]string(nil), in.AuxFiles...),
		PrepareCmd:  in.PrepareCmd,
		Interpreter: in.Interpreter,
		ScriptArgs:  append([]string(nil), in.ScriptArgs...),
		MasterPort:  in.MasterPort,
		ExtraEnv:    Environment{vars: in.ExtraEnv.Vars()},
	}, nil
}

// Files returns the script followed by the auxiliary files.
func (p *RunPlan) Files() []string {
	return append([]string{p.Script}, p.AuxFiles...)
}

// RemoteScript is the remote path of the uploaded script.
func (p *RunPlan) RemoteScript() string {
	return path.Join(p.RemoteDir, p.ScriptBase)
}

// RemotePath is where a local file lands on every host.
func (p *RunPlan) RemotePath(localPath string) string {
	return path.Join(p.RemoteDir, filepath.Base(localPath))
}
