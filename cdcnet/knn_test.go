package cdc

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestNearest(t *testing.T) {
	assert := assert.New(t)
	assert.Equal([]int{2, 3}, nearest([]float64{0, 5, 1, 3}, 0, 2))
	assert.Equal([]int{1, 2}, nearest([]float64{0, 1, 1, 1}, 0, 2), "ties go to the lower index")
	assert.Equal([]int{0}, nearest([]float64{7, 0, 9}, 1, 1))
	assert.Equal([]int{0, 2}, nearest([]float64{7, 0, 9}, 1, 5), "k is capped")
}

func TestKNNMaskOp(t *testing.T) {
	dist := tensor.New(tensor.WithShape(3, 3), tensor.WithBacking([]float32{
		0, 4, 1,
		4, 0, 2,
		1, 2, 0,
	}))
	op := knnMaskOp{k: 1}
	v, err := op.Do(dist)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, []float32{
		0, 0, 1,
		0, 0, 1,
		1, 0, 0,
	}, v.Data())

	_, err = op.InferShape(tensor.Shape{3, 4})
	assert.Error(t, err)
	assert.Equal(t, []bool{false}, op.DiffWRT(1))

	var gop G.Op = op
	assert.Equal(t, gop.Hashcode(), knnMaskOp{k: 1}.Hashcode())
	assert.NotEqual(t, gop.Hashcode(), knnMaskOp{k: 2}.Hashcode())
}

func TestKNNLoss(t *testing.T) {
	// two tight pairs, far apart
	x := tensor.New(tensor.WithShape(4, 2), tensor.WithBacking([]float32{
		0, 0,
		0, 1,
		10, 0,
		10, 1,
	}))
	g := G.NewGraph()
	in := G.NewMatrix(g, Float, G.WithShape(4, 2), G.WithName("x"), G.WithValue(x))

	loss, err := NewKNNLoss(1).Apply(in)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("%+v", err)
	}
	got, err := scalarOf(loss.Value())
	if err != nil {
		t.Fatal(err)
	}
	// every nearest neighbour is 1 away; the 12 ordered pairs sum to 808
	want := 1.0 / (808.0 / 12.0)
	assert.InDelta(t, want, got, 1e-4)
}

func TestKNNLoss_Grad(t *testing.T) {
	g := G.NewGraph()
	in := G.NewMatrix(g, Float, G.WithShape(5, 3), G.WithName("x"), G.WithInit(G.GlorotN(1.0)))
	loss, err := NewKNNLoss(2).Apply(in)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := G.Grad(loss, in); err != nil {
		t.Fatalf("%+v", err)
	}
	vm := G.NewTapeMachine(g, G.BindDualValues(in))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("%+v", err)
	}
	grad, err := in.Grad()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, tensor.Shape{5, 3}, grad.Shape())
}

func TestKNNLoss_BatchTooSmall(t *testing.T) {
	g := G.NewGraph()
	in := G.NewMatrix(g, Float, G.WithShape(3, 2), G.WithName("x"), G.WithInit(G.Zeroes()))
	_, err := NewKNNLoss(3).Apply(in)
	assert.Equal(t, ErrConfig, errors.Cause(err))

	_, err = NewKNNLoss(0).Apply(in)
	assert.Equal(t, ErrConfig, errors.Cause(err))
}
