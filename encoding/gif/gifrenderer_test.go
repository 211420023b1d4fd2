package gif

import (
	"bytes"
	"image/gif"
	"testing"

	"github.com/gorgonia/cpc"
	"github.com/stretchr/testify/assert"
)

func TestEncoder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewGifEncoder(200, 400)
	enc.Writer = &buf

	for i, l := range []float32{4, 3.5, 2, 2.5} {
		p := cpc.Progress{
			Name:      "test",
			Epoch:     1,
			Epochs:    1,
			Batch:     i + 1,
			Batches:   4,
			Seen:      (i + 1) * 8,
			Samples:   32,
			LearnRate: 1e-4,
			Accuracy:  float32(i) / 4,
			Loss:      l,
		}
		if err := enc.Encode(p); err != nil {
			t.Fatal(err)
		}
	}
	assert.Equal(t, 4, enc.Frames())
	if err := enc.Flush(); err != nil {
		t.Fatal(err)
	}

	g, err := gif.DecodeAll(&buf)
	if err != nil {
		t.Fatal(err)
	}
	assert.Len(t, g.Image, 4)
	assert.Equal(t, 400, g.Image[0].Bounds().Dx())
	assert.Equal(t, 200, g.Image[0].Bounds().Dy())
}
