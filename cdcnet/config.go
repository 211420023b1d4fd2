package cdc

import (
	"github.com/pkg/errors"
)

// ErrConfig is the cause of every configuration failure.
var ErrConfig = errors.New("invalid configuration")

// ErrData is the cause of every malformed batch error.
var ErrData = errors.New("malformed batch")

// Stage is one downsampling stage of the frame encoder.
type Stage struct {
	Filters int // output channels
	Kernel  int
	Stride  int
	Padding int
}

// out returns the length of the sequence after the stage is applied to a sequence of length n.
func (s Stage) out(n int) int { return (n+2*s.Padding-s.Kernel)/s.Stride + 1 }

// Config configures the neural network
type Config struct {
	Stages   []Stage // frame encoder stages
	Hidden   int     // GRU width
	Timestep int     // prediction horizon (K)

	BatchSize int
	SeqLen    int // raw signal length (L)
	Features  int // input channels

	Seed    int64 // seed of the anchor sampler
	FwdOnly bool  // is this a fwd only graph?
}

// DefaultStages are the five kernel 5 / stride 2 stages of CDCK2. Total stride is 32, embeddings are 256 wide.
func DefaultStages() []Stage {
	filters := []int{16, 32, 64, 128, 256}
	retVal := make([]Stage, len(filters))
	for i, f := range filters {
		retVal[i] = Stage{Filters: f, Kernel: 5, Stride: 2, Padding: 2}
	}
	return retVal
}

func DefaultConf(seqLen, timestep int) Config {
	return Config{
		Stages:   DefaultStages(),
		Hidden:   256,
		Timestep: timestep,

		BatchSize: 64,
		SeqLen:    seqLen,
		Features:  1,
		Seed:      1,
	}
}

// EmbeddingDim is the width of an encoded frame (D).
func (conf Config) EmbeddingDim() int {
	if len(conf.Stages) == 0 {
		return conf.Features
	}
	return conf.Stages[len(conf.Stages)-1].Filters
}

// CompressRatio is the total stride of the encoder.
func (conf Config) CompressRatio() int {
	r := 1
	for _, s := range conf.Stages {
		r *= s.Stride
	}
	return r
}

// Frames is the number of encoded frames (T) produced from SeqLen samples.
func (conf Config) Frames() int {
	n := conf.SeqLen
	for _, s := range conf.Stages {
		n = s.out(n)
	}
	return n
}

func (conf Config) IsValid() bool { return conf.Validate() == nil }

// Validate reports the first rule the configuration breaks. The returned error has ErrConfig as its cause.
func (conf Config) Validate() error {
	switch {
	case conf.Hidden < 1:
		return errors.Wrapf(ErrConfig, "hidden width %d", conf.Hidden)
	case conf.Timestep < 1:
		return errors.Wrapf(ErrConfig, "timestep %d", conf.Timestep)
	case conf.BatchSize < 1:
		return errors.Wrapf(ErrConfig, "batch size %d", conf.BatchSize)
	case conf.Features < 1:
		return errors.Wrapf(ErrConfig, "%d input features", conf.Features)
	case conf.SeqLen < 1:
		return errors.Wrapf(ErrConfig, "sequence length %d", conf.SeqLen)
	}
	for i, s := range conf.Stages {
		if s.Filters < 1 || s.Kernel < 1 || s.Stride < 1 || s.Padding < 0 {
			return errors.Wrapf(ErrConfig, "stage %d: %+v", i, s)
		}
	}

	frames := conf.Frames()
	if frames < 1 {
		return errors.Wrapf(ErrConfig, "encoder leaves no frames from %d samples", conf.SeqLen)
	}
	if want := conf.SeqLen / conf.CompressRatio(); frames != want {
		return errors.Wrapf(ErrConfig, "encoder produces %d frames from %d samples, expected %d (compress ratio %d)", frames, conf.SeqLen, want, conf.CompressRatio())
	}
	if conf.Timestep >= frames {
		return errors.Wrapf(ErrConfig, "timestep %d leaves no anchor in %d frames", conf.Timestep, frames)
	}
	return nil
}
