package cpc

import (
	"fmt"
	"io"

	cdc "github.com/gorgonia/cpc/cdcnet"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrNonFinite is the cause of the error returned when a loss is NaN or infinite.
var ErrNonFinite = errors.New("non-finite loss")

type Config struct {
	Name        string
	NNConf      cdc.Config
	KNN         int // neighbours of the auxiliary loss; 0 trains on the contrastive loss alone
	Epochs      int
	LogInterval int // batches between progress records
	WarmupSteps int
	SnapshotDir string // where the best model goes; empty disables snapshots

	// extensions
	OutputEncoder ProgressEncoder
}

// IsValid reports whether the configuration can be used to train.
func (c Config) IsValid() bool { return c.Validate() == nil }

// Validate reports the first rule the configuration breaks.
func (c Config) Validate() error {
	if err := c.NNConf.Validate(); err != nil {
		return err
	}
	switch {
	case c.Epochs < 1:
		return errors.Wrapf(cdc.ErrConfig, "%d epochs", c.Epochs)
	case c.LogInterval < 1:
		return errors.Wrapf(cdc.ErrConfig, "log interval %d", c.LogInterval)
	case c.WarmupSteps < 1:
		return errors.Wrapf(cdc.ErrConfig, "%d warmup steps", c.WarmupSteps)
	case c.KNN < 0:
		return errors.Wrapf(cdc.ErrConfig, "%d neighbours", c.KNN)
	case c.KNN > 0 && c.KNN >= c.NNConf.BatchSize:
		return errors.Wrapf(cdc.ErrConfig, "%d neighbours in batches of %d", c.KNN, c.NNConf.BatchSize)
	}
	return nil
}

// Model is anything that scores a batch of signals given a recurrent state.
// *cdc.Model and *cdc.Inferencer are Models.
type Model interface {
	InitHidden(batch int) tensor.Tensor
	Forward(x, hidden tensor.Tensor) (cdc.Output, error)
}

// Optimizer updates the learnables from the gradients left by Model.Forward.
type Optimizer interface {
	ZeroGrad()
	Step() error
	UpdateLearningRate() float64
}

// Loader produces the batches of an epoch, each a (B, 1, L) tensor.
// Next returns io.EOF once the epoch is exhausted.
type Loader interface {
	Len() int        // batches per epoch
	NumSamples() int // signals per epoch
	Reset()
	Next() (tensor.Tensor, error)
}

// ProgressEncoder encodes training progress as whatever.
//
// An example ProgressEncoder is the gif.Encoder. Another example would be a logger.
type ProgressEncoder interface {
	Encode(p Progress) error
	Flush() error
}

// Progress is the record emitted every LogInterval batches.
type Progress struct {
	Name           string
	Epoch, Epochs  int
	Batch, Batches int // Batch counts from 1
	Seen, Samples  int // signals so far / signals per epoch

	LearnRate      float64
	Accuracy       float32
	NCE, KNN, Loss float32
	SecondsPerIter float64
}

// Percent is the fraction of the epoch done, in percent.
func (p Progress) Percent() float64 {
	if p.Batches == 0 {
		return 0
	}
	return 100 * float64(p.Batch) / float64(p.Batches)
}

func (p Progress) String() string {
	return fmt.Sprintf("Train Epoch: %d/%d [%d/%d (%.0f%%)]\tlr:%.5f\tAccuracy: %.4f\tLoss: %.6f  %v seconds/iteration",
		p.Epoch, p.Epochs, p.Seen, p.Samples, p.Percent(), p.LearnRate, p.Accuracy, p.Loss, p.SecondsPerIter)
}

// Losses are per epoch means, or running totals while the epoch is in progress.
type Losses struct {
	CPC   float64
	KNN   float64
	Total float64
}

func (l *Losses) add(out cdc.Output) {
	l.CPC += float64(out.NCE)
	l.KNN += float64(out.KNN)
	l.Total += float64(out.Cost)
}

func (l Losses) div(n int) Losses {
	d := float64(n)
	return Losses{CPC: l.CPC / d, KNN: l.KNN / d, Total: l.Total / d}
}

var _ io.Closer = (*CPC)(nil)
