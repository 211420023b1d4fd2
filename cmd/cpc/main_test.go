package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunConfig_Defaults(t *testing.T) {
	conf := runConfig()
	if err := conf.Validate(); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.True(t, conf.KNN > 0, "the default run trains with the kNN loss")
	assert.True(t, conf.KNN < conf.NNConf.BatchSize)
	assert.Nil(t, conf.OutputEncoder)
}
