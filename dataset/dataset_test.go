package dataset

import (
	"bytes"
	"encoding/binary"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"
)

func ramp(n int, base float32) []float32 {
	retVal := make([]float32, n)
	for i := range retVal {
		retVal[i] = base + float32(i)
	}
	return retVal
}

func TestMemory(t *testing.T) {
	assert := assert.New(t)
	signals := [][]float32{
		ramp(10, 0),
		ramp(3, 100), // too short
		ramp(8, 200),
		ramp(12, 300),
		ramp(8, 400),
		ramp(9, 500),
	}
	m, err := NewMemory(signals, 8, 2, WithSeed(7))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(1, m.Dropped())
	assert.Equal(5, m.NumSamples())
	assert.Equal(2, m.Len(), "the last partial batch is dropped")

	for epoch := 0; epoch < 3; epoch++ {
		m.Reset()
		var batches int
		for {
			x, err := m.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatal(err)
			}
			batches++
			assert.Equal(tensor.Shape{2, 1, 8}, x.Shape())

			// every row is a contiguous crop of a single ramp
			data := x.Data().([]float32)
			for r := 0; r < 2; r++ {
				row := data[r*8 : (r+1)*8]
				for i := 1; i < len(row); i++ {
					assert.Equal(row[0]+float32(i), row[i])
				}
				assert.NotEqual(float32(100), row[0], "short signals are never served")
			}
		}
		assert.Equal(2, batches)
	}
}

func TestMemory_Seeded(t *testing.T) {
	signals := Synthetic(6, 50, 3)
	a, err := NewMemory(signals, 16, 3, WithSeed(11))
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewMemory(signals, 16, 3, WithSeed(11))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < a.Len(); i++ {
		xa, err := a.Next()
		if err != nil {
			t.Fatal(err)
		}
		xb, err := b.Next()
		if err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, xa.Data(), xb.Data())
	}
}

func TestMemory_WithoutShuffle(t *testing.T) {
	signals := [][]float32{ramp(4, 0), ramp(4, 10), ramp(4, 20), ramp(4, 30)}
	m, err := NewMemory(signals, 4, 2, WithoutShuffle())
	if err != nil {
		t.Fatal(err)
	}
	x, err := m.Next()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, []float32{0, 1, 2, 3, 10, 11, 12, 13}, x.Data())

	// batches do not share memory
	y, err := m.Next()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, []float32{20, 21, 22, 23, 30, 31, 32, 33}, y.Data())
	assert.Equal(t, []float32{0, 1, 2, 3, 10, 11, 12, 13}, x.Data())
}

func TestNewMemory_Errors(t *testing.T) {
	_, err := NewMemory([][]float32{ramp(4, 0)}, 4, 2)
	assert.Error(t, err, "one signal cannot fill a batch of two")
	_, err = NewMemory([][]float32{ramp(4, 0), ramp(4, 0)}, 0, 2)
	assert.Error(t, err)
}

func pcmBytes(samples ...int16) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

func TestReadPCM(t *testing.T) {
	got, err := ReadPCM(bytes.NewReader(pcmBytes(0, 16384, -32768, 32767)))
	if err != nil {
		t.Fatal(err)
	}
	assert.InDeltaSlice(t, []float32{0, 0.5, -1, 32767.0 / 32768}, got, 1e-6)

	_, err = ReadPCM(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestLoadDirAndList(t *testing.T) {
	dir, err := ioutil.TempDir("", "pcm")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	write := func(name string, samples ...int16) {
		if err := ioutil.WriteFile(filepath.Join(dir, name), pcmBytes(samples...), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("b.raw", 3, 4)
	write("a.raw", 1, 2)
	write("ignored.txt", 9)

	signals, err := LoadDir(dir, ".raw")
	if err != nil {
		t.Fatal(err)
	}
	assert := assert.New(t)
	if assert.Len(signals, 2) {
		assert.InDelta(1.0/32768, signals[0][0], 1e-9, "files are sorted by name")
		assert.InDelta(3.0/32768, signals[1][0], 1e-9)
	}

	list := filepath.Join(dir, "list.txt")
	if err := ioutil.WriteFile(list, []byte("b\n\na\n"), 0644); err != nil {
		t.Fatal(err)
	}
	signals, err = LoadList(list, dir, ".raw")
	if err != nil {
		t.Fatal(err)
	}
	if assert.Len(signals, 2) {
		assert.InDelta(3.0/32768, signals[0][0], 1e-9, "the list order is kept")
	}

	_, err = LoadList(list, dir, ".wav")
	assert.Error(err)
}

func TestNormalize(t *testing.T) {
	s := []float32{1, 2, 3, 6}
	Normalize(s)
	assert.InDeltaSlice(t, []float32{-2.0 / 3, -1.0 / 3, 0, 1}, s, 1e-6)

	silent := []float32{2, 2}
	Normalize(silent)
	assert.Equal(t, []float32{0, 0}, silent)
}

func TestSynthetic(t *testing.T) {
	a := Synthetic(3, 100, 42)
	b := Synthetic(3, 100, 42)
	assert.Equal(t, a, b)
	for _, s := range a {
		assert.Len(t, s, 100)
		peak := float32(0)
		for _, v := range s {
			if v > peak {
				peak = v
			} else if -v > peak {
				peak = -v
			}
		}
		assert.InDelta(t, 1, peak, 1e-5)
	}
}
