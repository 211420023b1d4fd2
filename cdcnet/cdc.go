package cdc

import (
	"bytes"
	"encoding/gob"
	"math/rand"
	"strconv"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var Float = G.Float32

// Model is the CDCK2 network: a strided convolutional frame encoder, a GRU context
// aggregator, a bank of K linear predictors and the InfoNCE scorer.
//
// The graph is static. The GRU is unrolled over every encoded frame and the anchor is
// chosen at run time by two selector inputs, so one graph serves every anchor.
type Model struct {
	Config
	aux AuxLoss

	g *G.ExprGraph

	// inputs
	signal *G.Node // (B, F, L)
	hidden *G.Node // (1, B, H)
	ctxSel *G.Node // (1, T) one hot at the anchor
	futSel *G.Node // (T, K) picks the K frames after the anchor

	embedding     *G.Node   // (B, D, T)
	encodeSamples *G.Node   // (K, B, D)
	predictions   *G.Node   // (K, B, D)
	context       *G.Node   // (B, H)
	scores        G.Nodes   // K × (B, B)
	nce, knn      *G.Node   // scalars
	cost          *G.Node   // nce + knn
	states        G.Nodes   // GRU state after every frame
	bank          G.Nodes   // predictions per offset
	stages        []*G.Node // encoder stage outputs

	encodeVal, predVal, contextVal G.Value
	scoreVals                      []G.Value
	nceVal, knnVal, costVal        G.Value

	vm  G.VM
	rng *rand.Rand

	ctxT, futT *tensor.Dense
}

// Output is what a forward pass reports.
type Output struct {
	Accuracy float32 // fraction of correctly matched futures
	NCE      float32
	KNN      float32 // 0 when there is no auxiliary loss
	Cost     float32 // NCE + KNN
	Anchor   int

	Hidden  tensor.Tensor // (1, B, H) state after the anchor frame
	Context tensor.Tensor // (B, H)
}

// New returns a new, uninitialized *Model. aux may be nil.
func New(conf Config, aux AuxLoss) *Model {
	return &Model{
		Config: conf,
		aux:    aux,
	}
}

// Init validates the configuration and builds the graph.
func (d *Model) Init() error {
	if err := d.Validate(); err != nil {
		return err
	}
	d.reset()
	d.g = G.NewGraph()
	d.rng = rand.New(rand.NewSource(d.Seed))

	if err := d.fwd(); err != nil {
		return err
	}
	if err := d.bwd(); err != nil {
		return err
	}

	frames, horizon := d.Frames(), d.Timestep
	d.ctxT = tensor.New(tensor.Of(Float), tensor.WithShape(1, frames))
	d.futT = tensor.New(tensor.Of(Float), tensor.WithShape(frames, horizon))
	if d.FwdOnly {
		d.vm = G.NewTapeMachine(d.g)
	} else {
		d.vm = G.NewTapeMachine(d.g, G.BindDualValues(d.Model()...))
	}
	return nil
}

func (d *Model) fwd() error {
	batch, frames, horizon := d.BatchSize, d.Frames(), d.Timestep
	dim := d.EmbeddingDim()

	d.signal = G.NewTensor(d.g, Float, 3, G.WithShape(batch, d.Features, d.SeqLen), G.WithName("Signal"))
	d.hidden = G.NewTensor(d.g, Float, 3, G.WithShape(1, batch, d.Hidden), G.WithName("Hidden"))
	d.ctxSel = G.NewMatrix(d.g, Float, G.WithShape(1, frames), G.WithName("ContextSelector"))
	d.futSel = G.NewMatrix(d.g, Float, G.WithShape(frames, horizon), G.WithName("FutureSelector"))

	var m maebe

	// gorgonia only convolves BCHW, so the signal is a one pixel high image
	out := m.reshape(d.signal, tensor.Shape{batch, d.Features, 1, d.SeqLen})
	for i, s := range d.Stages {
		out = m.stage(out, s, "Enc"+strconv.Itoa(i))
		d.stages = append(d.stages, out)
	}
	d.embedding = m.reshape(out, tensor.Shape{batch, dim, frames})

	d.encodeSamples = m.futures(d.embedding, d.futSel)

	// the aggregator steps over frames: (T, B, D)
	seq := m.do(func() (*G.Node, error) { return G.Transpose(d.embedding, 2, 0, 1) })
	xs := make(G.Nodes, frames)
	for s := range xs {
		xs[s] = m.slice(seq, G.S(s))
	}
	h0 := m.reshape(d.hidden, tensor.Shape{batch, d.Hidden})
	cell := m.gru(d.g, dim, d.Hidden, "GRU")
	d.states = m.unroll(cell, xs, h0)
	d.context = m.pick(d.states, d.ctxSel)

	d.bank = m.predictorBank(d.context, horizon, d.Hidden, dim)
	d.predictions = m.stack(d.bank)

	targets := make(G.Nodes, horizon)
	for k := range targets {
		targets[k] = m.slice(d.encodeSamples, G.S(k))
	}
	d.scores, d.nce = m.infoNCE(targets, d.bank, batch)
	if m.err != nil {
		return m.err
	}

	d.cost = d.nce
	if d.aux != nil {
		var err error
		if d.knn, err = d.aux.Apply(d.context); err != nil {
			return errors.WithMessage(err, "auxiliary loss")
		}
		d.cost = m.add(d.nce, d.knn)
		G.Read(d.knn, &d.knnVal)
	}
	if m.err != nil {
		return m.err
	}

	G.Read(d.encodeSamples, &d.encodeVal)
	G.Read(d.predictions, &d.predVal)
	G.Read(d.context, &d.contextVal)
	d.scoreVals = make([]G.Value, len(d.scores))
	for k, s := range d.scores {
		G.Read(s, &d.scoreVals[k])
	}
	G.Read(d.nce, &d.nceVal)
	G.Read(d.cost, &d.costVal)
	return nil
}

func (d *Model) bwd() error {
	if d.FwdOnly {
		return nil
	}
	if _, err := G.Grad(d.cost, d.Model()...); err != nil {
		return errors.Wrap(err, "differentiating the cost")
	}
	return nil
}

// Model returns the learnables.
func (d *Model) Model() G.Nodes {
	retVal := make(G.Nodes, 0, d.g.Nodes().Len())
	for _, n := range d.g.AllNodes() {
		if n.IsVar() && !d.isInput(n) {
			retVal = append(retVal, n)
		}
	}
	return retVal
}

func (d *Model) isInput(n *G.Node) bool {
	return n == d.signal || n == d.hidden || n == d.ctxSel || n == d.futSel
}

// InitHidden returns a zeroed (1, B, H) recurrent state.
func (d *Model) InitHidden(batch int) tensor.Tensor {
	return tensor.New(tensor.Of(Float), tensor.WithShape(1, batch, d.Hidden))
}

// Forward draws an anchor from the model's random source and runs the network.
// If the model is not forward only, the gradients of Cost are left in the learnables.
func (d *Model) Forward(x, hidden tensor.Tensor) (Output, error) {
	t, err := SampleAnchor(d.rng, d.Frames(), d.Timestep)
	if err != nil {
		return Output{}, err
	}
	return d.ForwardAt(x, hidden, t)
}

// ForwardAt is Forward with the anchor forced to t.
func (d *Model) ForwardAt(x, hidden tensor.Tensor, t int) (Output, error) {
	if err := d.checkInputs(x, hidden); err != nil {
		return Output{}, err
	}
	if t < 0 || t >= d.Frames()-d.Timestep {
		return Output{}, errors.Wrapf(ErrConfig, "anchor %d outside [0, %d)", t, d.Frames()-d.Timestep)
	}
	d.setAnchor(t)

	d.vm.Reset()
	var s letter
	s.let(d.signal, x)
	s.let(d.hidden, hidden)
	s.let(d.ctxSel, d.ctxT)
	s.let(d.futSel, d.futT)
	if s.err != nil {
		return Output{}, s.err
	}
	if err := d.vm.RunAll(); err != nil {
		return Output{}, errors.WithStack(err)
	}
	return d.output(t)
}

func (d *Model) checkInputs(x, hidden tensor.Tensor) error {
	want := tensor.Shape{d.BatchSize, d.Features, d.SeqLen}
	if x == nil || !x.Shape().Eq(want) {
		var got tensor.Shape
		if x != nil {
			got = x.Shape()
		}
		return errors.Wrapf(ErrData, "signal batch has shape %v, expected %v", got, want)
	}
	if x.Dtype() != Float {
		return errors.Wrapf(ErrData, "signal batch is %v, expected %v", x.Dtype(), Float)
	}
	want = tensor.Shape{1, d.BatchSize, d.Hidden}
	if hidden == nil || !hidden.Shape().Eq(want) {
		return errors.Wrapf(ErrData, "hidden state does not have shape %v", want)
	}
	return nil
}

// setAnchor fills the selectors for anchor t.
func (d *Model) setAnchor(t int) {
	d.ctxT.Zero()
	d.futT.Zero()
	one := oneOf(Float)
	d.ctxT.SetAt(one, 0, t)
	for k := 0; k < d.Timestep; k++ {
		d.futT.SetAt(one, t+k+1, k)
	}
}

func (d *Model) output(t int) (retVal Output, err error) {
	retVal.Anchor = t
	if retVal.Accuracy, err = Accuracy(d.scoreVals); err != nil {
		return retVal, err
	}
	if retVal.NCE, err = scalarOf(d.nceVal); err != nil {
		return retVal, err
	}
	if d.knnVal != nil {
		if retVal.KNN, err = scalarOf(d.knnVal); err != nil {
			return retVal, err
		}
	}
	if retVal.Cost, err = scalarOf(d.costVal); err != nil {
		return retVal, err
	}

	ctx, ok := d.contextVal.(tensor.Tensor)
	if !ok {
		return retVal, errors.Errorf("context is a %T", d.contextVal)
	}
	retVal.Context = ctx.Clone().(tensor.Tensor)
	h := ctx.Clone().(tensor.Tensor)
	if err = h.Reshape(1, d.BatchSize, d.Hidden); err != nil {
		return retVal, errors.WithStack(err)
	}
	retVal.Hidden = h
	return retVal, nil
}

// EncodeSamples returns the (K, B, D) true futures of the last forward pass.
func (d *Model) EncodeSamples() G.Value { return d.encodeVal }

// Predictions returns the (K, B, D) predicted futures of the last forward pass.
func (d *Model) Predictions() G.Value { return d.predVal }

// Scores returns the K (B, B) similarity matrices of the last forward pass.
func (d *Model) Scores() []G.Value { return d.scoreVals }

// Reseed replaces the anchor sampler.
func (d *Model) Reseed(seed int64) { d.rng = rand.New(rand.NewSource(seed)) }

// Aux returns the auxiliary loss, which may be nil.
func (d *Model) Aux() AuxLoss { return d.aux }

func (d *Model) Clone() (*Model, error) {
	d2 := New(d.Config, d.aux)
	if err := d2.Init(); err != nil {
		return nil, err
	}
	if err := copyLearnables(d2.Model(), d.Model()); err != nil {
		return nil, err
	}
	return d2, nil
}

// Close releases the VM.
func (d *Model) Close() error {
	if d.vm == nil {
		return nil
	}
	return d.vm.Close()
}

func (d *Model) reset() {
	d.g = nil
	d.signal = nil
	d.hidden = nil
	d.ctxSel = nil
	d.futSel = nil

	d.embedding = nil
	d.encodeSamples = nil
	d.predictions = nil
	d.context = nil
	d.scores = nil
	d.nce, d.knn, d.cost = nil, nil, nil
	d.states, d.bank, d.stages = nil, nil, nil
	d.scoreVals = nil
	d.knnVal = nil
	if d.vm != nil {
		d.vm.Close()
		d.vm = nil
	}
}

// copyLearnables copies values between two models built from the same Config.
func copyLearnables(dst, src G.Nodes) error {
	if len(dst) != len(src) {
		return errors.Errorf("cannot copy %d learnables into %d", len(src), len(dst))
	}
	var errs manyErr
	for i, n := range src {
		if err := copyValue(dst[i], n.Value()); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// copyValue overwrites the data of n in place, keeping any gradient bound to it.
func copyValue(n *G.Node, v G.Value) error {
	if !v.Shape().Eq(n.Shape()) {
		return errors.Wrapf(ErrData, "learnable %v has shape %v, got %v", n.Name(), n.Shape(), v.Shape())
	}
	switch from := v.Data().(type) {
	case []float32:
		to, ok := n.Value().Data().([]float32)
		if !ok {
			return errors.Errorf("learnable %v is not %v", n.Name(), G.Float32)
		}
		copy(to, from)
	case []float64:
		to, ok := n.Value().Data().([]float64)
		if !ok {
			return errors.Errorf("learnable %v is not %v", n.Name(), G.Float64)
		}
		copy(to, from)
	default:
		return errors.Errorf("learnable %v holds %T", n.Name(), from)
	}
	return nil
}

type gobModel struct {
	Config Config
	KNN    int
}

func (d *Model) GobEncode() (retVal []byte, err error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	hdr := gobModel{Config: d.Config}
	if knn, ok := d.aux.(*KNNLoss); ok {
		hdr.KNN = knn.K
	}
	if err = enc.Encode(hdr); err != nil {
		return nil, err
	}
	for _, n := range d.Model() {
		v := n.Value()
		if err = enc.Encode(&v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (d *Model) GobDecode(p []byte) error {
	buf := bytes.NewBuffer(p)
	dec := gob.NewDecoder(buf)
	var hdr gobModel
	if err := dec.Decode(&hdr); err != nil {
		return err
	}
	d.Config = hdr.Config
	d.aux = nil
	if hdr.KNN > 0 {
		d.aux = NewKNNLoss(hdr.KNN)
	}
	if err := d.Init(); err != nil {
		return err
	}

	for _, n := range d.Model() {
		var v G.Value
		if err := dec.Decode(&v); err != nil {
			return err
		}
		if err := copyValue(n, v); err != nil {
			return err
		}
	}
	return nil
}
