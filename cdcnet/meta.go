package cdc

import (
	"bytes"
	"log"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Inferencer is a struct that holds a forward only copy of a *Model and its VM.
// No gradients are computed and nothing it does touches the original model.
//
// Batch normalization keeps using batch statistics.
type Inferencer struct {
	d   *Model
	buf *bytes.Buffer
}

// Infer takes a trained *Model, and creates an inference data structure such that it'd be easy to infer
func Infer(d *Model, toLog bool) (*Inferencer, error) {
	conf := d.Config
	conf.FwdOnly = true
	retVal := &Inferencer{
		d:   New(conf, d.aux),
		buf: new(bytes.Buffer),
	}
	if err := retVal.d.Init(); err != nil {
		return nil, err
	}
	if err := retVal.Sync(d); err != nil {
		retVal.Close()
		return nil, err
	}

	if toLog {
		retVal.d.vm.Close()
		logger := log.New(retVal.buf, "", 0)
		retVal.d.vm = G.NewTapeMachine(retVal.d.g,
			G.WithLogger(logger),
			G.WithWatchlist(),
			G.TraceExec(),
			G.WithValueFmt("%+1.1v"),
			G.WithNaNWatch(),
		)
	}
	return retVal, nil
}

// Model returns the forward only copy.
func (m *Inferencer) Model() *Model { return m.d }

// Sync copies the learnables of d, which must share the Inferencer's configuration.
func (m *Inferencer) Sync(d *Model) error {
	if err := copyLearnables(m.d.Model(), d.Model()); err != nil {
		return errors.WithMessage(err, "syncing inferencer")
	}
	return nil
}

func (m *Inferencer) InitHidden(batch int) tensor.Tensor { return m.d.InitHidden(batch) }

// Forward scores a batch at a random anchor.
func (m *Inferencer) Forward(x, hidden tensor.Tensor) (Output, error) {
	m.buf.Reset()
	return m.d.Forward(x, hidden)
}

// Score scores a batch at anchor t.
func (m *Inferencer) Score(x, hidden tensor.Tensor, t int) (Output, error) {
	m.buf.Reset()
	return m.d.ForwardAt(x, hidden, t)
}

// Predict runs the encoder and the aggregator over the whole sequence and returns the
// (B, H) context after the last frame along with the (1, B, H) state.
func (m *Inferencer) Predict(x, hidden tensor.Tensor) (context, state tensor.Tensor, err error) {
	m.buf.Reset()
	d := m.d
	if err = d.checkInputs(x, hidden); err != nil {
		return nil, nil, err
	}

	// no futures: the scores are all zero and are ignored
	d.ctxT.Zero()
	d.futT.Zero()
	d.ctxT.SetAt(oneOf(Float), 0, d.Frames()-1)

	d.vm.Reset()
	var s letter
	s.let(d.signal, x)
	s.let(d.hidden, hidden)
	s.let(d.ctxSel, d.ctxT)
	s.let(d.futSel, d.futT)
	if s.err != nil {
		return nil, nil, s.err
	}
	if err = d.vm.RunAll(); err != nil {
		return nil, nil, errors.WithStack(err)
	}

	ctx, ok := d.contextVal.(tensor.Tensor)
	if !ok {
		return nil, nil, errors.Errorf("context is a %T", d.contextVal)
	}
	context = ctx.Clone().(tensor.Tensor)
	state = ctx.Clone().(tensor.Tensor)
	if err = state.Reshape(1, d.BatchSize, d.Hidden); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	return context, state, nil
}

// ExecLog returns the execution log. If Infer was called with toLog = false, then it will return an empty string
func (m *Inferencer) ExecLog() string { return m.buf.String() }

// Close implements a closer, because well, a gorgonia VM is a resource.
func (m *Inferencer) Close() error { return m.d.Close() }
