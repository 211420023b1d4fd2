package cpc

import (
	"bytes"
	"context"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/chewxy/math32"
	cdc "github.com/gorgonia/cpc/cdcnet"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"
)

type fakeLoader struct {
	batches, size int
	i             int
	resets        int
}

func (l *fakeLoader) Len() int        { return l.batches }
func (l *fakeLoader) NumSamples() int { return l.batches * l.size }
func (l *fakeLoader) Reset()          { l.i = 0; l.resets++ }
func (l *fakeLoader) Next() (tensor.Tensor, error) {
	if l.i >= l.batches {
		return nil, io.EOF
	}
	l.i++
	return tensor.New(tensor.Of(cdc.Float), tensor.WithShape(l.size, 1, 4)), nil
}

// fakeModel returns the outputs in order.
type fakeModel struct {
	outs    []cdc.Output
	i       int
	hiddens []int
	err     error
}

func (m *fakeModel) InitHidden(batch int) tensor.Tensor {
	m.hiddens = append(m.hiddens, batch)
	return tensor.New(tensor.Of(cdc.Float), tensor.WithShape(1, batch, 2))
}

func (m *fakeModel) Forward(x, hidden tensor.Tensor) (cdc.Output, error) {
	if m.err != nil {
		return cdc.Output{}, m.err
	}
	out := m.outs[m.i%len(m.outs)]
	m.i++
	return out, nil
}

type fakeOptim struct {
	calls []string
	lr    float64
}

func (o *fakeOptim) ZeroGrad()   { o.calls = append(o.calls, "zero") }
func (o *fakeOptim) Step() error { o.calls = append(o.calls, "step"); return nil }
func (o *fakeOptim) UpdateLearningRate() float64 {
	o.calls = append(o.calls, "lr")
	o.lr += 0.5
	return o.lr
}

type recorder struct{ ps []Progress }

func (r *recorder) Encode(p Progress) error { r.ps = append(r.ps, p); return nil }
func (r *recorder) Flush() error            { return nil }

func nceOutputs(losses ...float32) []cdc.Output {
	retVal := make([]cdc.Output, len(losses))
	for i, l := range losses {
		retVal[i] = cdc.Output{Accuracy: 0.5, NCE: l, Cost: l}
	}
	return retVal
}

func TestTrainEpoch_Means(t *testing.T) {
	assert := assert.New(t)
	loader := &fakeLoader{batches: 5, size: 3}
	model := &fakeModel{outs: nceOutputs(1, 2, 3, 4, 5)}
	optim := &fakeOptim{}
	rec := &recorder{}

	losses, err := TrainEpoch(context.Background(), TrainArgs{
		Name:        "means",
		Model:       model,
		Optimizer:   optim,
		Loader:      loader,
		Encoder:     rec,
		Epoch:       2,
		Epochs:      3,
		LogInterval: 2,
	})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.InDelta(3.0, losses.Total, 1e-9)
	assert.InDelta(3.0, losses.CPC, 1e-9)
	assert.InDelta(0.0, losses.KNN, 1e-9)

	assert.Equal(1, loader.resets)
	assert.Equal([]int{3, 3, 3, 3, 3}, model.hiddens, "a fresh state sized to every batch")
	assert.Equal(strings.Repeat("zero step lr ", 5), strings.Join(optim.calls, " ")+" ")

	// batches 0, 2 and 4 are logged
	if assert.Len(rec.ps, 3) {
		p := rec.ps[1]
		assert.Equal(2, p.Epoch)
		assert.Equal(3, p.Epochs)
		assert.Equal(3, p.Batch)
		assert.Equal(5, p.Batches)
		assert.Equal(9, p.Seen)
		assert.Equal(15, p.Samples)
		assert.Equal(1.5, p.LearnRate)
		assert.Equal(float32(3), p.Loss)
		assert.InDelta(60, p.Percent(), 1e-9)
	}
}

func TestTrainEpoch_Errors(t *testing.T) {
	assert := assert.New(t)

	model := &fakeModel{outs: []cdc.Output{{NCE: math32.NaN(), Cost: math32.NaN()}}}
	_, err := TrainEpoch(context.Background(), TrainArgs{Model: model, Optimizer: &fakeOptim{}, Loader: &fakeLoader{batches: 2, size: 1}})
	assert.Equal(ErrNonFinite, errors.Cause(err))

	model = &fakeModel{outs: []cdc.Output{{KNN: math32.Inf(1), Cost: math32.Inf(1)}}}
	_, err = TrainEpoch(context.Background(), TrainArgs{Model: model, Optimizer: &fakeOptim{}, Loader: &fakeLoader{batches: 2, size: 1}})
	assert.Equal(ErrNonFinite, errors.Cause(err))

	optim := &fakeOptim{}
	model = &fakeModel{err: errors.Wrap(cdc.ErrData, "bad batch")}
	_, err = TrainEpoch(context.Background(), TrainArgs{Model: model, Optimizer: optim, Loader: &fakeLoader{batches: 2, size: 1}})
	assert.Equal(cdc.ErrData, errors.Cause(err))
	assert.Equal([]string{"zero"}, optim.calls, "no step after a failed forward")

	_, err = TrainEpoch(context.Background(), TrainArgs{Model: &fakeModel{outs: nceOutputs(1)}, Optimizer: &fakeOptim{}, Loader: &fakeLoader{}})
	assert.Error(err, "an empty epoch has no mean")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = TrainEpoch(ctx, TrainArgs{Model: &fakeModel{outs: nceOutputs(1)}, Optimizer: &fakeOptim{}, Loader: &fakeLoader{batches: 1, size: 1}})
	assert.Equal(context.Canceled, errors.Cause(err))
}

func TestValidate(t *testing.T) {
	model := &fakeModel{outs: []cdc.Output{
		{Accuracy: 1, NCE: 2, Cost: 2},
		{Accuracy: 0.5, NCE: 4, Cost: 4},
	}}
	acc, loss, err := Validate(context.Background(), model, &fakeLoader{batches: 2, size: 2})
	if err != nil {
		t.Fatal(err)
	}
	assert.InDelta(t, 0.75, acc, 1e-6)
	assert.InDelta(t, 3, loss, 1e-6)

	_, _, err = Validate(context.Background(), model, &fakeLoader{})
	assert.Error(t, err)
}

func TestLogEncoder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewLogEncoder(log.New(&buf, "", 0))
	p := Progress{Epoch: 1, Epochs: 10, Batch: 1, Batches: 4, Seen: 64, Samples: 256, LearnRate: 0.0001, Accuracy: 0.25, NCE: 2.5, Loss: 2.5, SecondsPerIter: 0.5}
	if err := enc.Encode(p); err != nil {
		t.Fatal(err)
	}
	want := "cpc loss: 2.5\nknn loss: 0\nTrain Epoch: 1/10 [64/256 (25%)]\tlr:0.00010\tAccuracy: 0.2500\tLoss: 2.500000  0.5 seconds/iteration\n"
	assert.Equal(t, want, buf.String())

	rec := &recorder{}
	multi := MultiEncoder{enc, rec}
	assert.NoError(t, multi.Encode(p))
	assert.NoError(t, multi.Flush())
	assert.Len(t, rec.ps, 1)
}
