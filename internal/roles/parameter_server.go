package roles

import (
	"fmt"
	"io"
	"strconv"

	"github.com/specialistvlad/gridlaunch/internal/model"
)

// ParameterServer is the ps/worker topology. Parameter servers take the
// lowest ranks, workers follow. Parameter servers never exit on their own:
// once worker 0 finishes, the reaper kills them.
type ParameterServer struct {
	ps      []model.Host
	workers []model.Host
}

var _ Strategy = (*ParameterServer)(nil)

// NewParameterServer validates both lists and returns the topology. ps may
// be empty; workers may not.
func NewParameterServer(ps, workers []model.Host) (*ParameterServer, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("at least one worker is required")
	}
	all := append(append([]model.Host(nil), ps...), workers...)
	if err := model.CheckUniqueHosts(all); err != nil {
		return nil, err
	}
	return &ParameterServer{
		ps:      append([]model.Host(nil), ps...),
		workers: append([]model.Host(nil), workers...),
	}, nil
}

func (s *ParameterServer) Name() string { return "parameter-server" }

func (s *ParameterServer) Hosts() []model.Host {
	return append(append([]model.Host(nil), s.ps...), s.workers...)
}

func (s *ParameterServer) Assign() []model.Assignment {
	out := make([]model.Assignment, 0, len(s.ps)+len(s.workers))
	rank := 0
	for i, h := range s.ps {
		out = append(out, model.Assignment{Host: h, Rank: rank, JobName: model.JobParameterServer, TaskIndex: i})
		rank++
	}
	for i, h := range s.workers {
		out = append(out, model.Assignment{Host: h, Rank: rank, JobName: model.JobWorker, TaskIndex: i})
		rank++
	}
	return out
}

func (s *ParameterServer) master() model.Host {
	if len(s.ps) > 0 {
		return s.ps[0]
	}
	return s.workers[0]
}

func (s *ParameterServer) Environment(plan *model.RunPlan, a model.Assignment) model.Environment {
	return commonEnvironment(plan, s.master(), len(s.ps)+len(s.workers), a.Rank,
		model.EnvVar{Name: EnvJobName, Value: a.JobName},
		model.EnvVar{Name: EnvTaskIndex, Value: strconv.Itoa(a.TaskIndex)},
		model.EnvVar{Name: EnvPSHosts, Value: model.JoinHosts(s.ps)},
		model.EnvVar{Name: EnvWorkerHosts, Value: model.JoinHosts(s.workers)},
	)
}

func (s *ParameterServer) Args(a model.Assignment) []string {
	var args []string
	if len(s.ps) > 0 {
		args = append(args, "--ps", model.JoinHosts(s.ps))
	}
	return append(args,
		"--worker", model.JoinHosts(s.workers),
		"--job_name", a.JobName,
		"--task_index", strconv.Itoa(a.TaskIndex),
	)
}

func (s *ParameterServer) TriggersReap(a model.Assignment) bool {
	return a.JobName == model.JobWorker && a.TaskIndex == 0
}

func (s *ParameterServer) Reapable(a model.Assignment) bool {
	return a.JobName == model.JobParameterServer
}

func (s *ParameterServer) Describe(w io.Writer) error {
	if err := describeList(w, "Parameter Servers", s.ps); err != nil {
		return err
	}
	return describeList(w, "Workers", s.workers)
}
