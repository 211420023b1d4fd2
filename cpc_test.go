package cpc

import (
	"context"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorgonia/cpc/dataset"
	cdc "github.com/gorgonia/cpc/cdcnet"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	good := Config{Name: "ok", NNConf: tinyNNConf(), KNN: 2, Epochs: 1, LogInterval: 1, WarmupSteps: 10}
	assert.True(t, good.IsValid())

	for _, mod := range []func(*Config){
		func(c *Config) { c.Epochs = 0 },
		func(c *Config) { c.LogInterval = 0 },
		func(c *Config) { c.WarmupSteps = 0 },
		func(c *Config) { c.KNN = 4 },
		func(c *Config) { c.NNConf.Timestep = 20 },
	} {
		c := good
		c.NNConf.Stages = append([]cdc.Stage(nil), good.NNConf.Stages...)
		mod(&c)
		assert.Equal(t, cdc.ErrConfig, errors.Cause(c.Validate()))
	}
}

func TestCPC_Learn(t *testing.T) {
	dir, err := ioutil.TempDir("", "cpc")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	rec := &recorder{}
	conf := Config{
		Name:          "tiny",
		NNConf:        tinyNNConf(),
		KNN:           2,
		Epochs:        2,
		LogInterval:   1,
		WarmupSteps:   10,
		SnapshotDir:   dir,
		OutputEncoder: rec,
	}
	train, err := dataset.NewMemory(dataset.Synthetic(12, 40, 1), conf.NNConf.SeqLen, conf.NNConf.BatchSize, dataset.WithSeed(1))
	if err != nil {
		t.Fatal(err)
	}
	val, err := dataset.NewMemory(dataset.Synthetic(8, 40, 2), conf.NNConf.SeqLen, conf.NNConf.BatchSize, dataset.WithSeed(2))
	if err != nil {
		t.Fatal(err)
	}

	a, err := New(conf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer a.Close()
	if err = a.Learn(context.Background(), train, val); err != nil {
		t.Fatalf("%+v", err)
	}

	assert := assert.New(t)
	assert.Equal([]int{1, 2}, a.Statistics.Epochs)
	assert.Len(rec.ps, 2*train.Len())
	for _, l := range a.Statistics.Train {
		assert.False(math.IsNaN(l.Total) || math.IsInf(l.Total, 0))
		assert.InDelta(l.CPC+l.KNN, l.Total, 1e-4)
	}
	for _, acc := range a.Statistics.ValAcc {
		assert.True(acc >= 0 && acc <= 1)
	}
	assert.Equal(3*2, a.Optimizer().State().Steps, "one schedule step per batch")
	assert.NotEmpty(a.RunLog())

	best := a.BestSnapshot()
	assert.Equal(SnapshotPath(dir, "tiny"), best)
	if _, err := os.Stat(best); err != nil {
		t.Fatalf("expected a snapshot: %v", err)
	}

	// a fresh run picks up the schedule and the weights
	b, err := New(conf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer b.Close()
	if err = b.Resume(best); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.True(b.Optimizer().State().Steps > 0)
	assert.Equal(a.Model().Config, b.Model().Config)

	// only the epochs left after the snapshot are run
	done := b.epoch
	assert.True(done >= 1 && done <= conf.Epochs)
	if err = b.Learn(context.Background(), train, val); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Len(b.Statistics.Epochs, conf.Epochs-done)
	assert.Equal(conf.Epochs, b.epoch)
	for _, e := range b.Statistics.Epochs {
		assert.True(e > done && e <= conf.Epochs, "epoch %d", e)
	}

	saved := filepath.Join(dir, "tiny.model")
	if err = a.Save(saved); err != nil {
		t.Fatal(err)
	}
	if err = b.Load(saved); err != nil {
		t.Fatalf("%+v", err)
	}
	want, have := a.Model().Model(), b.Model().Model()
	if assert.Equal(len(want), len(have)) {
		for i := range want {
			assert.Equal(want[i].Value().Data(), have[i].Value().Data())
		}
	}
}
