package cdc

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// letter binds inputs until the first failure.
type letter struct {
	err error
}

func (l *letter) let(n *G.Node, v tensor.Tensor) {
	if l.err != nil {
		return
	}
	if l.err = G.Let(n, v); l.err != nil {
		l.err = errors.Wrapf(l.err, "binding %v", n.Name())
	}
}

func oneOf(dt tensor.Dtype) interface{} {
	if dt == G.Float64 {
		return float64(1)
	}
	return float32(1)
}

// scalarOf reads a scalar value as a float32.
func scalarOf(v G.Value) (float32, error) {
	if v == nil {
		return 0, errors.New("value was never computed")
	}
	switch x := v.Data().(type) {
	case float32:
		return x, nil
	case float64:
		return float32(x), nil
	case []float32:
		if len(x) == 1 {
			return x[0], nil
		}
	case []float64:
		if len(x) == 1 {
			return float32(x[0]), nil
		}
	}
	return 0, errors.Errorf("%v is not a scalar", v)
}

type manyErr []error

func (err manyErr) Error() string {
	var buf bytes.Buffer
	for _, e := range err {
		fmt.Fprintln(&buf, e.Error())
	}
	return buf.String()
}
