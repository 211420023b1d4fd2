// Package dataset loads raw signals and serves them as fixed size batches of random crops.
package dataset

import (
	"io"
	"log"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Memory serves batches of (B, 1, L) random crops of in-memory signals.
//
// Every epoch visits each signal once, in a shuffled order, with a fresh crop.
// Signals shorter than L are dropped when the loader is made, and so is the last
// partial batch of every epoch.
type Memory struct {
	signals   [][]float32
	seqLen    int
	batchSize int

	rng     *rand.Rand
	shuffle bool
	order   []int
	batch   int
	dropped int
}

// Option configures a Memory loader.
type Option func(*Memory)

// WithSeed seeds the shuffling and cropping.
func WithSeed(seed int64) Option {
	return func(m *Memory) { m.rng = rand.New(rand.NewSource(seed)) }
}

// WithoutShuffle keeps the signals in order. Crops are still random.
func WithoutShuffle() Option {
	return func(m *Memory) { m.shuffle = false }
}

// NewMemory makes a loader over signals.
func NewMemory(signals [][]float32, seqLen, batchSize int, opts ...Option) (*Memory, error) {
	if seqLen < 1 || batchSize < 1 {
		return nil, errors.Errorf("cannot make batches of %d × %d", batchSize, seqLen)
	}
	retVal := &Memory{
		seqLen:    seqLen,
		batchSize: batchSize,
		rng:       rand.New(rand.NewSource(1)),
		shuffle:   true,
	}
	for _, opt := range opts {
		opt(retVal)
	}
	for _, s := range signals {
		if len(s) < seqLen {
			retVal.dropped++
			continue
		}
		retVal.signals = append(retVal.signals, s)
	}
	if retVal.dropped > 0 {
		log.Printf("dataset: dropped %d of %d signals shorter than %d samples", retVal.dropped, len(signals), seqLen)
	}
	if len(retVal.signals) < batchSize {
		return nil, errors.Errorf("%d usable signals cannot fill a batch of %d", len(retVal.signals), batchSize)
	}
	retVal.order = make([]int, len(retVal.signals))
	for i := range retVal.order {
		retVal.order[i] = i
	}
	retVal.Reset()
	return retVal, nil
}

// Len is the number of batches per epoch.
func (m *Memory) Len() int { return len(m.signals) / m.batchSize }

// NumSamples is the number of usable signals.
func (m *Memory) NumSamples() int { return len(m.signals) }

// Dropped is the number of signals too short to crop.
func (m *Memory) Dropped() int { return m.dropped }

// Reset starts a new epoch.
func (m *Memory) Reset() {
	m.batch = 0
	if m.shuffle {
		m.rng.Shuffle(len(m.order), func(i, j int) { m.order[i], m.order[j] = m.order[j], m.order[i] })
	}
}

// Next returns the next (B, 1, L) batch, or io.EOF at the end of the epoch.
func (m *Memory) Next() (tensor.Tensor, error) {
	if m.batch >= m.Len() {
		return nil, io.EOF
	}
	// every batch gets its own backing; callers may hold on to earlier batches
	backing := make([]float32, m.batchSize*m.seqLen)
	start := m.batch * m.batchSize
	for i := 0; i < m.batchSize; i++ {
		s := m.signals[m.order[start+i]]
		off := m.rng.Intn(len(s) - m.seqLen + 1)
		copy(backing[i*m.seqLen:(i+1)*m.seqLen], s[off:off+m.seqLen])
	}
	m.batch++
	return tensor.New(tensor.WithShape(m.batchSize, 1, m.seqLen), tensor.WithBacking(backing)), nil
}
