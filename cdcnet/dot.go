package cdc

import (
	"fmt"

	"github.com/awalterschulze/gographviz"
)

// ToDot draws the architecture: encoder stages, the aggregator, the predictor bank and the losses.
func (d *Model) ToDot() string {
	g := gographviz.NewGraph()
	if err := g.SetName("CDCK2"); err != nil {
		panic(err)
	}
	g.SetDir(true)

	box := func(label string) map[string]string {
		return map[string]string{
			"fontname": "Monaco",
			"shape":    "box",
			"label":    fmt.Sprintf("%q", label),
		}
	}
	edge := func(from, to string) { g.AddEdge(from, to, true, nil) }

	g.AddNode("CDCK2", "signal", box(fmt.Sprintf("signal (%d, %d, %d)", d.BatchSize, d.Features, d.SeqLen)))
	prev := "signal"
	n := d.SeqLen
	for i, s := range d.Stages {
		n = s.out(n)
		name := fmt.Sprintf("enc%d", i)
		g.AddNode("CDCK2", name, box(fmt.Sprintf("conv k%d s%d p%d → %d × %d | BN | ReLU", s.Kernel, s.Stride, s.Padding, s.Filters, n)))
		edge(prev, name)
		prev = name
	}

	g.AddNode("CDCK2", "gru", box(fmt.Sprintf("GRU %d → %d over %d frames", d.EmbeddingDim(), d.Hidden, d.Frames())))
	edge(prev, "gru")
	g.AddNode("CDCK2", "futures", box(fmt.Sprintf("futures (%d, %d, %d)", d.Timestep, d.BatchSize, d.EmbeddingDim())))
	edge(prev, "futures")

	g.AddNode("CDCK2", "nce", box("InfoNCE"))
	edge("futures", "nce")
	for k := 1; k <= d.Timestep; k++ {
		name := fmt.Sprintf("W%d", k)
		g.AddNode("CDCK2", name, box(fmt.Sprintf("W%d: %d → %d", k, d.Hidden, d.EmbeddingDim())))
		edge("gru", name)
		edge(name, "nce")
	}

	if knn, ok := d.aux.(*KNNLoss); ok {
		g.AddNode("CDCK2", "knn", box(fmt.Sprintf("kNN loss, k = %d", knn.K)))
		edge("gru", "knn")
	}
	return g.String()
}
