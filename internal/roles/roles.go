// Package roles decides which host plays which part in a distributed run:
// its rank, the environment it sees and the flags its script receives.
package roles

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/specialistvlad/gridlaunch/internal/model"
)

// Injected environment variable names.
const (
	EnvWorldSize   = "WORLD_SIZE"
	EnvRendezvous  = "RENDEZVOUS"
	EnvMasterAddr  = "MASTER_ADDR"
	EnvMasterPort  = "MASTER_PORT"
	EnvRank        = "RANK"
	EnvJobName     = "JOB_NAME"
	EnvTaskIndex   = "TASK_INDEX"
	EnvPSHosts     = "PS_HOSTS"
	EnvWorkerHosts = "WORKER_HOSTS"

	// RendezvousEnv tells the training framework to read the rendezvous
	// settings from the environment.
	RendezvousEnv = "env://"
)

// Strategy is a role topology.
type Strategy interface {
	// Name identifies the topology in logs and events.
	Name() string
	// Hosts returns every host in launch order.
	Hosts() []model.Host
	// Assign returns one assignment per host, in launch order, with ranks
	// 0..n-1.
	Assign() []model.Assignment
	// Environment returns the variables exported for a.
	Environment(plan *model.RunPlan, a model.Assignment) model.Environment
	// Args returns the role flags appended after the script arguments.
	Args(a model.Assignment) []string
	// TriggersReap reports whether the end of a's command starts the reaper.
	TriggersReap(a model.Assignment) bool
	// Reapable reports whether a's command is expected to be killed by the
	// reaper rather than exit on its own.
	Reapable(a model.Assignment) bool
	// Describe prints the topology for --only_show_instances.
	Describe(w io.Writer) error
}

// commonEnvironment builds the variables every topology exports, followed by
// plan.ExtraEnv, which never replaces them.
func commonEnvironment(plan *model.RunPlan, master model.Host, worldSize, rank int, extra ...model.EnvVar) model.Environment {
	var env model.Environment
	env.Set(EnvWorldSize, strconv.Itoa(worldSize))
	env.Set(EnvRendezvous, RendezvousEnv)
	env.Set(EnvMasterAddr, master.Address)
	env.Set(EnvMasterPort, strconv.Itoa(plan.MasterPort))
	env.Set(EnvRank, strconv.Itoa(rank))
	for _, v := range extra {
		env.Set(v.Name, v.Value)
	}
	for _, v := range plan.ExtraEnv.Vars() {
		env.SetDefault(v.Name, v.Value)
	}
	return env
}

// CommandLine renders the shell line that runs the script for a:
//
//	export K=V; ...; cd <dir> ; [<prepare>; ]<interpreter> <script> <args...> <role flags...>
func CommandLine(plan *model.RunPlan, s Strategy, a model.Assignment) string {
	var b strings.Builder
	if exports := s.Environment(plan, a).Exports(); exports != "" {
		b.WriteString(exports)
		b.WriteString("; ")
	}
	fmt.Fprintf(&b, "cd %s ; ", model.ShellQuote(plan.RemoteDir))
	if plan.PrepareCmd != "" {
		b.WriteString(plan.PrepareCmd)
		b.WriteString("; ")
	}

	words := make([]string, 0, 2+len(plan.ScriptArgs))
	if plan.Interpreter != "" {
		words = append(words, plan.Interpreter, model.ShellQuote(plan.ScriptBase))
	} else {
		words = append(words, model.ShellQuote("./"+plan.ScriptBase))
	}
	for _, arg := range plan.ScriptArgs {
		words = append(words, model.ShellQuote(arg))
	}
	for _, arg := range s.Args(a) {
		words = append(words, model.ShellQuote(arg))
	}
	b.WriteString(strings.Join(words, " "))
	return b.String()
}

func describeList(w io.Writer, title string, hosts []model.Host) error {
	if _, err := fmt.Fprintf(w, "%s:\n", title); err != nil {
		return err
	}
	for _, h := range hosts {
		if _, err := fmt.Fprintf(w, "\t%s\n", h); err != nil {
			return err
		}
	}
	return nil
}
