package cpc

import (
	"math"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// dModel scales the schedule. It is fixed and unrelated to the network widths.
const dModel = 128

// ScheduledOptim is an Adam solver with a warmup learning rate schedule:
//
//	lr(n) = dModel^-0.5 · min(n^-0.5, n · warmup^-1.5)
//
// where n advances by Delta on every UpdateLearningRate.
type ScheduledOptim struct {
	solver *G.AdamSolver
	nodes  G.Nodes
	model  []G.ValueGrad

	Warmup int
	Steps  int // n
	Delta  int
	lr     float64
}

// OptimState is the resumable part of a ScheduledOptim.
type OptimState struct {
	Warmup, Steps, Delta int
}

// NewScheduledOptim creates an optimizer over the learnables. The first step uses the rate of n = 1.
func NewScheduledOptim(learnables G.Nodes, warmup int) *ScheduledOptim {
	retVal := &ScheduledOptim{
		nodes:  learnables,
		model:  G.NodesToValueGrads(learnables),
		Warmup: warmup,
		Delta:  1,
	}
	retVal.lr = Rate(1, warmup)
	retVal.solver = G.NewAdamSolver(
		G.WithLearnRate(retVal.lr),
		G.WithBeta1(0.9),
		G.WithBeta2(0.98),
		G.WithEps(1e-9),
		G.WithL2Reg(1e-4),
	)
	return retVal
}

// Rate is the learning rate after n steps with the given warmup.
func Rate(n, warmup int) float64 {
	if n < 1 {
		n = 1
	}
	fn, fw := float64(n), float64(warmup)
	return math.Pow(dModel, -0.5) * math.Min(math.Pow(fn, -0.5), fn*math.Pow(fw, -1.5))
}

// ZeroGrad clears the gradients of the learnables.
func (o *ScheduledOptim) ZeroGrad() {
	for _, n := range o.nodes {
		g, err := n.Grad()
		if err != nil {
			continue // nothing computed yet
		}
		if z, ok := g.(interface{ Zero() }); ok {
			z.Zero()
		}
	}
}

// Step applies the gradients.
func (o *ScheduledOptim) Step() error {
	if err := o.solver.Step(o.model); err != nil {
		return errors.Wrap(err, "adam step")
	}
	return nil
}

// UpdateLearningRate advances the schedule and returns the new rate.
func (o *ScheduledOptim) UpdateLearningRate() float64 {
	o.Steps += o.Delta
	o.lr = Rate(o.Steps, o.Warmup)
	G.WithLearnRate(o.lr)(o.solver)
	return o.lr
}

// IncreaseDelta doubles how far the schedule advances per update.
func (o *ScheduledOptim) IncreaseDelta() { o.Delta *= 2 }

// LearnRate is the rate the next Step uses.
func (o *ScheduledOptim) LearnRate() float64 { return o.lr }

func (o *ScheduledOptim) State() OptimState {
	return OptimState{Warmup: o.Warmup, Steps: o.Steps, Delta: o.Delta}
}

// Restore resumes the schedule from s.
func (o *ScheduledOptim) Restore(s OptimState) {
	o.Warmup, o.Steps, o.Delta = s.Warmup, s.Steps, s.Delta
	if o.Delta < 1 {
		o.Delta = 1
	}
	o.lr = Rate(o.Steps, o.Warmup)
	G.WithLearnRate(o.lr)(o.solver)
}
