package cdc

import (
	"fmt"
	"hash"
	"hash/fnv"
	"sort"

	"github.com/chewxy/hm"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var _ G.SDOp = knnMaskOp{}

// AuxLoss is an auxiliary loss on the batch of context vectors (B, H).
// It is added, unweighted, to the contrastive loss.
type AuxLoss interface {
	Apply(embeddings *G.Node) (*G.Node, error)
}

// KNNLoss pulls every embedding towards its K nearest neighbours in the batch.
//
// The loss is the mean squared distance to the K nearest neighbours divided by the
// mean squared distance between all pairs, so shrinking the whole space does not help.
// Neighbourhoods are picked anew every batch and are not differentiated through.
type KNNLoss struct {
	K int
}

// NewKNNLoss creates a KNNLoss over k neighbours.
func NewKNNLoss(k int) *KNNLoss { return &KNNLoss{K: k} }

// Apply builds the loss for a (B, H) batch of embeddings. B must exceed K.
func (l *KNNLoss) Apply(x *G.Node) (*G.Node, error) {
	if l.K < 1 {
		return nil, errors.Wrapf(ErrConfig, "knn loss with k = %d", l.K)
	}
	if x.Dims() != 2 {
		return nil, errors.Errorf("knn loss expects a matrix, got shape %v", x.Shape())
	}
	batch := x.Shape()[0]
	if batch <= l.K {
		return nil, errors.Wrapf(ErrConfig, "batch size %d leaves fewer than k = %d neighbours", batch, l.K)
	}

	var m maebe
	dist := m.sqdist(x)
	mask := m.do(func() (*G.Node, error) { return G.ApplyOp(knnMaskOp{k: l.K}, dist) })
	near := m.do(func() (*G.Node, error) { return G.Sum(m.hadamard(mask, dist)) })
	near = m.do(func() (*G.Node, error) { return G.Mul(near, scalar(1/float64(batch*l.K))) })
	all := m.do(func() (*G.Node, error) { return G.Sum(dist) })
	all = m.do(func() (*G.Node, error) { return G.Mul(all, scalar(1/float64(batch*(batch-1)))) })
	all = m.add(all, scalar(1e-6))
	retVal := m.do(func() (*G.Node, error) { return G.HadamardDiv(near, all) })
	return retVal, m.err
}

// sqdist computes the (B, B) squared euclidean distances between the rows of x.
func (m *maebe) sqdist(x *G.Node) *G.Node {
	if m.err != nil {
		return nil
	}
	batch := x.Shape()[0]
	sq := m.do(func() (*G.Node, error) { return G.Square(x) })
	sq = m.do(func() (*G.Node, error) { return G.Sum(sq, 1) })
	col := m.reshape(sq, tensor.Shape{batch, 1})
	row := m.reshape(sq, tensor.Shape{1, batch})
	norms := m.do(func() (*G.Node, error) { return G.BroadcastAdd(col, row, []byte{1}, []byte{0}) })

	xT := m.do(func() (*G.Node, error) { return G.Transpose(x) })
	gram := m.mul(x, xT)
	gram = m.do(func() (*G.Node, error) { return G.Mul(scalar(2), gram) })
	return m.sub(norms, gram)
}

// knnMaskOp marks, for every row i of a distance matrix, the k columns j != i closest to i.
// It has no gradient.
type knnMaskOp struct {
	k int
}

func (op knnMaskOp) Arity() int { return 1 }

func (op knnMaskOp) Type() hm.Type {
	a := hm.TypeVariable('a')
	t := G.TensorType{Dims: 2, Of: a}
	return hm.NewFnType(t, t)
}

func (op knnMaskOp) InferShape(ds ...G.DimSizer) (tensor.Shape, error) {
	if len(ds) != 1 {
		return nil, errors.Errorf("%v expects 1 input, got %d", op, len(ds))
	}
	s, ok := ds[0].(tensor.Shape)
	if !ok {
		return nil, errors.Errorf("%v expects a tensor.Shape, got %T", op, ds[0])
	}
	if s.Dims() != 2 || s[0] != s[1] {
		return nil, errors.Errorf("%v expects a square matrix, got %v", op, s)
	}
	return s.Clone(), nil
}

func (op knnMaskOp) Do(vals ...G.Value) (G.Value, error) {
	if len(vals) != 1 {
		return nil, errors.Errorf("%v expects 1 input, got %d", op, len(vals))
	}
	d, ok := vals[0].(tensor.Tensor)
	if !ok {
		return nil, errors.Errorf("%v expects a tensor, got %T", op, vals[0])
	}
	n := d.Shape()[0]
	retVal := tensor.New(tensor.Of(d.Dtype()), tensor.WithShape(n, n))

	row := make([]float64, n)
	switch data := d.Data().(type) {
	case []float32:
		mask := retVal.Data().([]float32)
		for i := 0; i < n; i++ {
			for j := range row {
				row[j] = float64(data[i*n+j])
			}
			for _, j := range nearest(row, i, op.k) {
				mask[i*n+j] = 1
			}
		}
	case []float64:
		mask := retVal.Data().([]float64)
		for i := 0; i < n; i++ {
			copy(row, data[i*n:(i+1)*n])
			for _, j := range nearest(row, i, op.k) {
				mask[i*n+j] = 1
			}
		}
	default:
		return nil, errors.Errorf("%v does not support %T", op, data)
	}
	return retVal, nil
}

func (op knnMaskOp) ReturnsPtr() bool     { return false }
func (op knnMaskOp) CallsExtern() bool    { return false }
func (op knnMaskOp) OverwritesInput() int { return -1 }

func (op knnMaskOp) WriteHash(h hash.Hash) { fmt.Fprintf(h, "knnMask{%d}", op.k) }

func (op knnMaskOp) Hashcode() uint32 {
	h := fnv.New32a()
	op.WriteHash(h)
	return h.Sum32()
}

func (op knnMaskOp) String() string { return fmt.Sprintf("knnMask{%d}", op.k) }

// DiffWRT says the mask is a constant as far as gradients go.
func (op knnMaskOp) DiffWRT(inputs int) []bool { return make([]bool, inputs) }

func (op knnMaskOp) SymDiff(inputs G.Nodes, output, grad *G.Node) (G.Nodes, error) {
	return make(G.Nodes, len(inputs)), nil
}

// nearest returns the indices of the k smallest entries of row, skipping self.
// Ties go to the lower index.
func nearest(row []float64, self, k int) []int {
	idx := make([]int, 0, len(row)-1)
	for j := range row {
		if j != self {
			idx = append(idx, j)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return row[idx[a]] < row[idx[b]] })
	if k > len(idx) {
		k = len(idx)
	}
	return idx[:k]
}
