package cpc

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log"
	"os"

	cdc "github.com/gorgonia/cpc/cdcnet"
	"github.com/pkg/errors"
)

// CPC is the top level structure and the entry point of the API.
// It owns the network, its optimizer and a forward only copy used for validation.
type CPC struct {
	// state
	Statistics
	model   *cdc.Model
	inf     *cdc.Inferencer
	optim   *ScheduledOptim
	epoch   int
	bestAcc float32
	best    string // path of the best snapshot

	// config
	conf Config

	// io
	outEnc ProgressEncoder
	buf    bytes.Buffer
	logger *log.Logger
}

// New builds the network described by conf.
func New(conf Config) (*CPC, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	var aux cdc.AuxLoss
	if conf.KNN > 0 {
		aux = cdc.NewKNNLoss(conf.KNN)
	}
	model := cdc.New(conf.NNConf, aux)
	if err := model.Init(); err != nil {
		return nil, errors.WithMessage(err, "building the network")
	}
	retVal := &CPC{
		Statistics: makeStatistics(),
		model:      model,
		conf:       conf,
		outEnc:     conf.OutputEncoder,
		bestAcc:    -1,
	}
	if err := retVal.setup(); err != nil {
		model.Close()
		return nil, err
	}
	retVal.logger = log.New(&retVal.buf, "", log.Ltime)
	return retVal, nil
}

// setup builds the optimizer and the inferencer around a.model.
func (a *CPC) setup() (err error) {
	a.optim = NewScheduledOptim(a.model.Model(), a.conf.WarmupSteps)
	if a.inf, err = cdc.Infer(a.model, false); err != nil {
		return errors.WithMessage(err, "building the inferencer")
	}
	return nil
}

// Model returns the network being trained.
func (a *CPC) Model() *cdc.Model { return a.model }

// Optimizer returns the scheduled optimizer.
func (a *CPC) Optimizer() *ScheduledOptim { return a.optim }

// Learn trains until conf.Epochs epochs have been run, counting the epochs of a resumed snapshot.
// After each epoch the model is scored on val, if any, and the best scoring model so far is snapshotted.
func (a *CPC) Learn(ctx context.Context, train, val Loader) error {
	for a.epoch < a.conf.Epochs {
		a.epoch++
		a.logger.Printf("Epoch %d/%d", a.epoch, a.conf.Epochs)
		losses, err := TrainEpoch(ctx, TrainArgs{
			Name:        a.conf.Name,
			Model:       a.model,
			Optimizer:   a.optim,
			Loader:      train,
			Encoder:     a.outEnc,
			Epoch:       a.epoch,
			Epochs:      a.conf.Epochs,
			LogInterval: a.conf.LogInterval,
		})
		if err != nil {
			return errors.WithMessage(err, "train fail")
		}

		var valAcc, valLoss float32
		if val != nil {
			if err = a.inf.Sync(a.model); err != nil {
				return err
			}
			// every validation pass draws the same anchors
			a.inf.Model().Reseed(a.conf.NNConf.Seed)
			if valAcc, valLoss, err = Validate(ctx, a.inf, val); err != nil {
				return errors.WithMessage(err, "validation fail")
			}
		}
		lr := a.optim.LearnRate()
		a.update(a.epoch, losses, valAcc, valLoss, lr)
		log.Printf("Epoch %d: cpc %.6f knn %.6f total %.6f | validation accuracy %.4f loss %.6f | lr %.5f",
			a.epoch, losses.CPC, losses.KNN, losses.Total, valAcc, valLoss, lr)
		a.logger.Printf("cpc %.6f knn %.6f total %.6f val_acc %.4f val_loss %.6f", losses.CPC, losses.KNN, losses.Total, valAcc, valLoss)

		if val == nil || valAcc <= a.bestAcc {
			continue
		}
		a.bestAcc = valAcc
		if a.conf.SnapshotDir == "" {
			continue
		}
		if a.best, err = Snapshot(a.conf.SnapshotDir, a.conf.Name, a.state(valAcc, valLoss)); err != nil {
			return err
		}
	}
	if a.outEnc != nil {
		return a.outEnc.Flush()
	}
	return nil
}

func (a *CPC) state(valAcc, valLoss float32) map[string]interface{} {
	return map[string]interface{}{
		"epoch":           a.epoch,
		"validation_acc":  valAcc,
		"validation_loss": valLoss,
		"state_dict":      a.model,
		"optimizer":       a.optim.State(),
	}
}

// BestSnapshot is the path of the best snapshot written so far, if any.
func (a *CPC) BestSnapshot() string { return a.best }

// RunLog returns the log of the run so far.
func (a *CPC) RunLog() string { return a.buf.String() }

// Save the network into filename.
func (a *CPC) Save(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := gob.NewEncoder(f)
	return enc.Encode(a.model)
}

// Load the network from a file written by Save.
// The architecture in the file replaces the configured one.
func (a *CPC) Load(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	model := new(cdc.Model)
	dec := gob.NewDecoder(f)
	if err = dec.Decode(model); err != nil {
		return errors.WithStack(err)
	}
	return a.replace(model)
}

// Resume loads a snapshot written by Learn: the model, the learning rate schedule, the epoch and
// the best validation accuracy. Adam's moment estimates are not snapshotted and start from zero.
func (a *CPC) Resume(filename string) error {
	state, err := LoadSnapshot(filename)
	if err != nil {
		return err
	}
	model, ok := state["state_dict"].(*cdc.Model)
	if !ok {
		return errors.Errorf("snapshot %v holds no model", filename)
	}
	if err = a.replace(model); err != nil {
		return err
	}
	if s, ok := state["optimizer"].(OptimState); ok {
		a.optim.Restore(s)
	}
	if e, ok := state["epoch"].(int); ok {
		a.epoch = e
	}
	if acc, ok := state["validation_acc"].(float32); ok {
		a.bestAcc = acc
	}
	return nil
}

func (a *CPC) replace(model *cdc.Model) error {
	if err := a.close(); err != nil {
		return err
	}
	a.model = model
	a.conf.NNConf = model.Config
	return a.setup()
}

func (a *CPC) close() error {
	var errs []string
	if a.inf != nil {
		if err := a.inf.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		a.inf = nil
	}
	if a.model != nil {
		if err := a.model.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.New(fmt.Sprint(errs))
	}
	return nil
}

// Close releases the VMs.
func (a *CPC) Close() error { return a.close() }
