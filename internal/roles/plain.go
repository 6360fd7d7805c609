package roles

import (
	"fmt"
	"io"

	"github.com/specialistvlad/gridlaunch/internal/model"
)

// Plain is the master/worker topology: ranks follow the host list and the
// first host is the rendezvous master.
type Plain struct {
	hosts []model.Host
}

var _ Strategy = (*Plain)(nil)

// NewPlain validates hosts and returns the topology.
func NewPlain(hosts []model.Host) (*Plain, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("at least one instance is required")
	}
	if err := model.CheckUniqueHosts(hosts); err != nil {
		return nil, err
	}
	return &Plain{hosts: append([]model.Host(nil), hosts...)}, nil
}

func (p *Plain) Name() string { return "plain" }

func (p *Plain) Hosts() []model.Host { return append([]model.Host(nil), p.hosts...) }

func (p *Plain) Assign() []model.Assignment {
	out := make([]model.Assignment, len(p.hosts))
	for i, h := range p.hosts {
		out[i] = model.Assignment{Host: h, Rank: i}
	}
	return out
}

func (p *Plain) Environment(plan *model.RunPlan, a model.Assignment) model.Environment {
	return commonEnvironment(plan, p.hosts[0], len(p.hosts), a.Rank)
}

func (p *Plain) Args(model.Assignment) []string { return nil }

func (p *Plain) TriggersReap(model.Assignment) bool { return false }

func (p *Plain) Reapable(model.Assignment) bool { return false }

func (p *Plain) Describe(w io.Writer) error {
	return describeList(w, "Instances", p.hosts)
}
