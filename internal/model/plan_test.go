package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunPlan(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	in := PlanInput{
		Hosts:       []Host{{Address: "a"}, {Address: "b"}},
		Script:      "/home/me/train.py",
		AuxFiles:    []string{"/data/vocab.txt"},
		Interpreter: "python",
		ScriptArgs:  []string{"--lr", "0.1"},
		MasterPort:  29500,
	}

	// --- Act ---
	p1, err := NewRunPlan(in)
	require.NoError(t, err)
	p2, err := NewRunPlan(in)
	require.NoError(t, err)

	// --- Assert ---
	assert.True(t, strings.HasPrefix(p1.RemoteDir, RemoteDirPrefix))
	assert.NotEqual(t, p1.RemoteDir, p2.RemoteDir, "every run gets its own remote directory")
	assert.Equal(t, "train.py", p1.ScriptBase)
	assert.Equal(t, p1.RemoteDir+"/train.py", p1.RemoteScript())
	assert.Equal(t, p1.RemoteDir+"/vocab.txt", p1.RemotePath("/data/vocab.txt"))
	assert.Equal(t, []string{"/home/me/train.py", "/data/vocab.txt"}, p1.Files())

	// The plan owns its slices.
	in.Hosts[0].Address = "mutated"
	assert.Equal(t, "a", p1.Hosts[0].Address)
}

func TestNewRunPlan_Invalid(t *testing.T) {
	t.Parallel()

	_, err := NewRunPlan(PlanInput{Script: "train.py"})
	require.Error(t, err)

	_, err = NewRunPlan(PlanInput{Hosts: []Host{{Address: "a"}}})
	require.Error(t, err)
}

func TestReport_FailedSkipsReaped(t *testing.T) {
	t.Parallel()

	var r Report
	r.Add(HostStatus{Assignment: Assignment{Rank: 2}, ExitCode: 137, Reaped: true})
	r.Add(HostStatus{Assignment: Assignment{Rank: 1}, ExitCode: 1})
	r.Add(HostStatus{Assignment: Assignment{Rank: 0}, ExitCode: 0})

	statuses := r.Statuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, 0, statuses[0].Assignment.Rank)
	assert.Equal(t, 2, statuses[2].Assignment.Rank)

	failed := r.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Assignment.Rank)
}

func TestPhase_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "launch", PhaseLaunch.String())
	assert.Equal(t, "unknown", Phase(99).String())
}
