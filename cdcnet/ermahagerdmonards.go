package cdc

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/gorgonia/ops/nn"
	"gorgonia.org/tensor"
)

type maebe struct {
	err error
}

// generic monad... may be useful
func (m *maebe) do(f func() (*G.Node, error)) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = f(); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// conv1d convolves a (B, C, 1, L) input along its last axis. There is no bias; batch norm follows.
func (m *maebe) conv1d(input *G.Node, s Stage, name string) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	featureCount := input.Shape()[1]
	filter := G.NewTensor(input.Graph(), Float, 4, G.WithShape(s.Filters, featureCount, 1, s.Kernel), G.WithName("Filter"+name), G.WithInit(G.GlorotU(1.0)))

	if retVal, m.err = nnops.Conv2d(input, filter, tensor.Shape{1, s.Kernel}, []int{0, s.Padding}, []int{1, s.Stride}, []int{1, 1}); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// batchnorm always normalizes with the statistics of the batch at hand.
func (m *maebe) batchnorm(input *G.Node) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	// note: the scale and biases will still be created
	// and they will still be backpropagated
	if retVal, _, _, _, m.err = nnops.BatchNorm(input, nil, nil, 0.997, 1e-5); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// stage is conv -> batchnorm -> relu
func (m *maebe) stage(input *G.Node, s Stage, name string) *G.Node {
	convolved := m.conv1d(input, s, name)
	normalized := m.batchnorm(convolved)
	return m.rectify(normalized)
}

// linear creates a (in, units) weight and a (1, units) bias shared by every row of the input.
func (m *maebe) linear(input *G.Node, units int, name string) *G.Node {
	if m.err != nil {
		return nil
	}
	w := G.NewTensor(input.Graph(), Float, 2, G.WithShape(input.Shape()[1], units), G.WithInit(G.GlorotN(1.0)), G.WithName(name+"_w"))
	b := G.NewTensor(input.Graph(), Float, 2, G.WithShape(1, units), G.WithName(name+"_b"), G.WithInit(G.Zeroes()))
	return m.affine(input, w, b)
}

// affine computes xw + b, broadcasting b over the rows of xw.
func (m *maebe) affine(x, w, b *G.Node) *G.Node {
	xw := m.mul(x, w)
	return m.do(func() (*G.Node, error) { return G.BroadcastAdd(xw, b, nil, []byte{0}) })
}

func (m *maebe) rectify(input *G.Node) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = nnops.Rectify(input); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) reshape(input *G.Node, to tensor.Shape) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = G.Reshape(input, to); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) slice(input *G.Node, slices ...tensor.Slice) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = G.Slice(input, slices...); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// stack stacks equally shaped nodes along a new leading axis.
func (m *maebe) stack(ns G.Nodes) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if len(ns) == 0 {
		m.err = errors.New("nothing to stack")
		return nil
	}
	rows := make(G.Nodes, len(ns))
	for i, n := range ns {
		shp := append(tensor.Shape{1}, n.Shape()...)
		rows[i] = m.reshape(n, shp)
	}
	if len(rows) == 1 {
		return rows[0]
	}
	return m.do(func() (*G.Node, error) { return G.Concat(0, rows...) })
}

func (m *maebe) mul(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Mul(a, b) })
}

func (m *maebe) sigmoid(a *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Sigmoid(a) })
}

func (m *maebe) tanh(a *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Tanh(a) })
}

func (m *maebe) add(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Add(a, b) })
}

func (m *maebe) sub(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Sub(a, b) })
}

func (m *maebe) hadamard(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.HadamardProd(a, b) })
}

// scalar makes a constant of the network's float type.
func scalar(v float64) *G.Node {
	switch Float {
	case G.Float64:
		return G.NewConstant(v)
	default:
		return G.NewConstant(float32(v))
	}
}
