package cdc

import (
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// gru is a single layer, unidirectional gated recurrent unit.
//
//	z  = σ(x·Wz + bz + h·Uz)
//	r  = σ(x·Wr + br + h·Ur)
//	n  = tanh(x·Wn + bn + r ⊙ (h·Un + bhn))
//	h' = (1-z) ⊙ n + z ⊙ h
type gru struct {
	in, hidden int

	wz, wr, wn      *G.Node // (in, hidden)
	uz, ur, un      *G.Node // (hidden, hidden)
	bz, br, bn, bhn *G.Node // (1, hidden)
}

func (m *maebe) gru(g *G.ExprGraph, in, hidden int, name string) *gru {
	if m.err != nil {
		return nil
	}
	w := func(rows int, n string) *G.Node {
		return G.NewMatrix(g, Float, G.WithShape(rows, hidden), G.WithInit(G.GlorotN(1.0)), G.WithName(name+"_"+n))
	}
	b := func(n string) *G.Node {
		return G.NewMatrix(g, Float, G.WithShape(1, hidden), G.WithInit(G.Zeroes()), G.WithName(name+"_"+n))
	}
	return &gru{
		in:     in,
		hidden: hidden,

		wz: w(in, "Wz"),
		wr: w(in, "Wr"),
		wn: w(in, "Wn"),
		uz: w(hidden, "Uz"),
		ur: w(hidden, "Ur"),
		un: w(hidden, "Un"),

		bz:  b("bz"),
		br:  b("br"),
		bn:  b("bn"),
		bhn: b("bhn"),
	}
}

// step advances the state h (B, hidden) by one input frame x (B, in).
func (m *maebe) step(c *gru, x, h *G.Node) *G.Node {
	if m.err != nil {
		return nil
	}
	z := m.sigmoid(m.add(m.affine(x, c.wz, c.bz), m.mul(h, c.uz)))
	r := m.sigmoid(m.add(m.affine(x, c.wr, c.br), m.mul(h, c.ur)))
	hn := m.affine(h, c.un, c.bhn)
	n := m.tanh(m.add(m.affine(x, c.wn, c.bn), m.hadamard(r, hn)))

	// (1-z)⊙n + z⊙h == n + z⊙(h-n)
	return m.add(n, m.hadamard(z, m.sub(h, n)))
}

// unroll runs the unit over xs from h0, returning the state after every step.
// The state after step t only depends on xs[:t+1].
func (m *maebe) unroll(c *gru, xs G.Nodes, h0 *G.Node) G.Nodes {
	if m.err != nil {
		return nil
	}
	retVal := make(G.Nodes, 0, len(xs))
	h := h0
	for _, x := range xs {
		h = m.step(c, x, h)
		retVal = append(retVal, h)
	}
	return retVal
}

// pick selects one of the (B, H) states with a (1, T) one-hot selector.
func (m *maebe) pick(hs G.Nodes, selector *G.Node) *G.Node {
	if m.err != nil {
		return nil
	}
	shp := hs[0].Shape()
	batch, hidden := shp[0], shp[1]
	rows := make(G.Nodes, len(hs))
	for i, h := range hs {
		rows[i] = m.reshape(h, tensor.Shape{1, batch * hidden})
	}
	stacked := rows[0]
	if len(rows) > 1 {
		stacked = m.do(func() (*G.Node, error) { return G.Concat(0, rows...) })
	}
	picked := m.do(func() (*G.Node, error) { return G.Mul(selector, stacked) })
	return m.reshape(picked, tensor.Shape{batch, hidden})
}
