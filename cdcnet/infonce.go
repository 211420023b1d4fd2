package cdc

import (
	"math/rand"
	"strconv"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"gorgonia.org/tensor/native"
)

// SampleAnchor draws the anchor timestep uniformly from [0, frames-timestep).
func SampleAnchor(r *rand.Rand, frames, timestep int) (int, error) {
	if frames-timestep <= 0 {
		return 0, errors.Wrapf(ErrConfig, "cannot sample an anchor: %d frames leave no room for a horizon of %d", frames, timestep)
	}
	return r.Intn(frames - timestep), nil
}

// futures gathers the frames picked by a (T, K) selector from a (B, D, T) embedding
// sequence into a (K, B, D) buffer.
func (m *maebe) futures(embedding, sel *G.Node) *G.Node {
	if m.err != nil {
		return nil
	}
	shp := embedding.Shape()
	batch, dim, frames := shp[0], shp[1], shp[2]
	horizon := sel.Shape()[1]

	flat := m.reshape(embedding, tensor.Shape{batch * dim, frames})
	fut := m.mul(flat, sel)
	fut = m.reshape(fut, tensor.Shape{batch, dim, horizon})
	return m.do(func() (*G.Node, error) { return G.Transpose(fut, 2, 0, 1) })
}

// predictorBank applies one independent linear map per future offset to the context (B, in).
func (m *maebe) predictorBank(context *G.Node, timestep, in, out int) G.Nodes {
	if m.err != nil {
		return nil
	}
	if got := context.Shape()[1]; got != in {
		m.err = errors.Wrapf(ErrConfig, "predictor bank expects a context of width %d, got %d", in, got)
		return nil
	}
	retVal := make(G.Nodes, timestep)
	for k := range retVal {
		retVal[k] = m.linear(context, out, "W"+strconv.Itoa(k+1))
	}
	return retVal
}

// infoNCE scores every target (B, D) against every prediction (B, D) of the same offset.
// Returned are the K (B, B) similarity matrices, and the NCE loss: the negative mean of
// the diagonal of the log-softmax over axis 0.
func (m *maebe) infoNCE(targets, preds G.Nodes, batch int) (scores G.Nodes, nce *G.Node) {
	if m.err != nil {
		return nil, nil
	}
	if len(targets) != len(preds) {
		m.err = errors.Wrapf(ErrConfig, "%d targets, %d predictions", len(targets), len(preds))
		return nil, nil
	}
	eye := G.NewConstant(identity(batch), G.WithName("I"))
	var total *G.Node
	for k := range targets {
		predT := m.do(func() (*G.Node, error) { return G.Transpose(preds[k]) })
		s := m.mul(targets[k], predT)
		scores = append(scores, s)

		diag := m.diagLogSoftmax(s, eye, batch)
		sum := m.do(func() (*G.Node, error) { return G.Sum(diag) })
		if total == nil {
			total = sum
			continue
		}
		total = m.add(total, sum)
	}
	scale := scalar(-1 / float64(batch*len(targets)))
	nce = m.do(func() (*G.Node, error) { return G.Mul(total, scale) })
	return scores, nce
}

// diagLogSoftmax returns the diagonal of the log-softmax of s over axis 0.
// Columns are shifted by their max before exponentiation.
func (m *maebe) diagLogSoftmax(s, eye *G.Node, batch int) *G.Node {
	colMax := m.do(func() (*G.Node, error) { return G.Max(s, 0) })
	rowMax := m.reshape(colMax, tensor.Shape{1, batch})
	shifted := m.do(func() (*G.Node, error) { return G.BroadcastSub(s, rowMax, nil, []byte{0}) })
	exp := m.do(func() (*G.Node, error) { return G.Exp(shifted) })
	sum := m.do(func() (*G.Node, error) { return G.Sum(exp, 0) })
	lse := m.do(func() (*G.Node, error) { return G.Log(sum) })
	lse = m.add(lse, colMax)

	diag := m.hadamard(s, eye)
	diag = m.do(func() (*G.Node, error) { return G.Sum(diag, 0) })
	return m.sub(diag, lse)
}

func identity(n int) tensor.Tensor {
	retVal := tensor.New(tensor.Of(Float), tensor.WithShape(n, n))
	for i := 0; i < n; i++ {
		switch Float {
		case G.Float64:
			retVal.SetAt(float64(1), i, i)
		default:
			retVal.SetAt(float32(1), i, i)
		}
	}
	return retVal
}

// Correct counts the columns j of a (B, B) similarity matrix whose softmax over axis 0
// peaks at row j. Ties go to the lowest row.
func Correct(scores G.Value) (int, error) {
	mat, err := asMatrixF32(scores)
	if err != nil {
		return 0, err
	}
	probs := softmaxCols(mat)
	var correct int
	for j := range probs {
		if argmaxCol(probs, j) == j {
			correct++
		}
	}
	return correct, nil
}

// Accuracy is the fraction of correct columns over all similarity matrices.
func Accuracy(scores []G.Value) (float32, error) {
	var correct, total int
	for i, s := range scores {
		c, err := Correct(s)
		if err != nil {
			return 0, errors.Wrapf(err, "offset %d", i+1)
		}
		correct += c
		total += s.Shape()[0]
	}
	if total == 0 {
		return 0, errors.New("no scores")
	}
	return float32(correct) / float32(total), nil
}

func asMatrixF32(v G.Value) ([][]float32, error) {
	t, ok := v.(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("expected a *tensor.Dense, got %T", v)
	}
	if t.Dims() != 2 || t.Shape()[0] != t.Shape()[1] {
		return nil, errors.Wrapf(ErrData, "scores of shape %v are not square", t.Shape())
	}
	switch t.Dtype() {
	case tensor.Float32:
		return native.MatrixF32(t)
	case tensor.Float64:
		m64, err := native.MatrixF64(t)
		if err != nil {
			return nil, err
		}
		retVal := make([][]float32, len(m64))
		for i, row := range m64 {
			retVal[i] = make([]float32, len(row))
			for j, x := range row {
				retVal[i][j] = float32(x)
			}
		}
		return retVal, nil
	}
	return nil, errors.Errorf("unsupported dtype %v", t.Dtype())
}

// softmaxCols normalizes each column of a square matrix.
func softmaxCols(a [][]float32) [][]float32 {
	n := len(a)
	retVal := make([][]float32, n)
	for i := range retVal {
		retVal[i] = make([]float32, n)
	}
	for j := 0; j < n; j++ {
		max := math32.Inf(-1)
		for i := 0; i < n; i++ {
			if a[i][j] > max {
				max = a[i][j]
			}
		}
		var sum float32
		for i := 0; i < n; i++ {
			retVal[i][j] = math32.Exp(a[i][j] - max)
			sum += retVal[i][j]
		}
		for i := 0; i < n; i++ {
			retVal[i][j] /= sum
		}
	}
	return retVal
}

func argmaxCol(a [][]float32, j int) int {
	best := 0
	for i := 1; i < len(a); i++ {
		if a[i][j] > a[best][j] {
			best = i
		}
	}
	return best
}
