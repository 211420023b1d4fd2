package cpc

import (
	"context"
	"io"
	"time"

	"github.com/chewxy/math32"
	cdc "github.com/gorgonia/cpc/cdcnet"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// TrainArgs are the collaborators of one training epoch.
type TrainArgs struct {
	Name          string
	Model         Model
	Optimizer     Optimizer
	Loader        Loader
	Encoder       ProgressEncoder // may be nil
	Epoch, Epochs int
	LogInterval   int
}

// TrainEpoch runs one pass over args.Loader.
//
// Every batch gets a fresh recurrent state, a forward and backward pass of NCE + KNN, an
// optimizer step and a learning rate update. The returned Losses are means over the
// batches. The first error aborts the epoch.
func TrainEpoch(ctx context.Context, args TrainArgs) (Losses, error) {
	var total Losses
	interval := args.LogInterval
	if interval < 1 {
		interval = 1
	}

	args.Loader.Reset()
	start := time.Now()
	var batch, seen int
	for ; ; batch++ {
		if err := ctx.Err(); err != nil {
			return Losses{}, errors.WithMessagef(err, "epoch %d, batch %d", args.Epoch, batch)
		}
		x, err := args.Loader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Losses{}, errors.WithMessagef(err, "epoch %d: loading batch %d", args.Epoch, batch)
		}
		size := x.Shape()[0]

		args.Optimizer.ZeroGrad()
		hidden := args.Model.InitHidden(size)
		out, err := args.Model.Forward(x, hidden)
		if err != nil {
			return Losses{}, errors.WithMessagef(err, "epoch %d, batch %d", args.Epoch, batch)
		}
		if err = checkFinite(out); err != nil {
			return Losses{}, errors.WithMessagef(err, "epoch %d, batch %d", args.Epoch, batch)
		}
		if err = args.Optimizer.Step(); err != nil {
			return Losses{}, errors.WithMessagef(err, "epoch %d, batch %d: optimizer step", args.Epoch, batch)
		}
		lr := args.Optimizer.UpdateLearningRate()
		total.add(out)
		seen += size

		if batch%interval == 0 && args.Encoder != nil {
			p := Progress{
				Name:           args.Name,
				Epoch:          args.Epoch,
				Epochs:         args.Epochs,
				Batch:          batch + 1,
				Batches:        args.Loader.Len(),
				Seen:           seen,
				Samples:        args.Loader.NumSamples(),
				LearnRate:      lr,
				Accuracy:       out.Accuracy,
				NCE:            out.NCE,
				KNN:            out.KNN,
				Loss:           out.Cost,
				SecondsPerIter: time.Since(start).Seconds() / float64(batch+1),
			}
			if err = args.Encoder.Encode(p); err != nil {
				return Losses{}, errors.WithMessage(err, "encoding progress")
			}
		}
	}
	if batch == 0 {
		return Losses{}, errors.Errorf("epoch %d: the loader produced no batches", args.Epoch)
	}
	return total.div(batch), nil
}

// Validate scores every batch of loader without touching any learnable, and returns the
// mean accuracy and the mean contrastive loss.
func Validate(ctx context.Context, m Model, loader Loader) (acc, loss float32, err error) {
	loader.Reset()
	var x tensor.Tensor
	var out cdc.Output
	var batches int
	var accSum, lossSum float64
	for {
		if err = ctx.Err(); err != nil {
			return 0, 0, errors.WithMessage(err, "validation")
		}
		x, err = loader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, 0, errors.WithMessagef(err, "validation batch %d", batches)
		}
		out, err = m.Forward(x, m.InitHidden(x.Shape()[0]))
		if err != nil {
			return 0, 0, errors.WithMessagef(err, "validation batch %d", batches)
		}
		if err = checkFinite(out); err != nil {
			return 0, 0, errors.WithMessagef(err, "validation batch %d", batches)
		}
		accSum += float64(out.Accuracy)
		lossSum += float64(out.NCE)
		batches++
	}
	if batches == 0 {
		return 0, 0, errors.New("validation: the loader produced no batches")
	}
	return float32(accSum / float64(batches)), float32(lossSum / float64(batches)), nil
}

func checkFinite(out cdc.Output) error {
	for _, l := range []struct {
		name string
		v    float32
	}{{"nce", out.NCE}, {"knn", out.KNN}, {"cost", out.Cost}} {
		if math32.IsNaN(l.v) || math32.IsInf(l.v, 0) {
			return errors.Wrapf(ErrNonFinite, "%s is %v", l.name, l.v)
		}
	}
	return nil
}
