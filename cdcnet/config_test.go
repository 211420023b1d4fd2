package cdc

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	conf := DefaultConf(20480, 12)
	if !conf.IsValid() {
		t.Fatalf("Expected Default Config to be correct: %v", conf.Validate())
	}
	assert := assert.New(t)
	assert.Equal(32, conf.CompressRatio())
	assert.Equal(640, conf.Frames())
	assert.Equal(256, conf.EmbeddingDim())
}

func TestStage_out(t *testing.T) {
	s := Stage{Filters: 1, Kernel: 5, Stride: 2, Padding: 2}
	for _, c := range []struct{ in, out int }{
		{20480, 10240},
		{20, 10},
		{25, 13},
		{7, 4},
	} {
		if got := s.out(c.in); got != c.out {
			t.Errorf("Expected %d samples to become %d. Got %d instead", c.in, c.out, got)
		}
	}
}

var badConfs = []struct {
	name string
	conf func() Config
}{
	{"horizon longer than the sequence", func() Config { return DefaultConf(96, 5) }},
	{"horizon as long as the sequence", func() Config { return DefaultConf(96, 3) }},
	{"length not a multiple of the stride", func() Config { return DefaultConf(100, 1) }},
	{"no hidden units", func() Config { c := DefaultConf(20480, 12); c.Hidden = 0; return c }},
	{"no batch", func() Config { c := DefaultConf(20480, 12); c.BatchSize = 0; return c }},
	{"zero stride", func() Config {
		c := DefaultConf(20480, 12)
		c.Stages[2].Stride = 0
		return c
	}},
}

func TestConfig_Validate(t *testing.T) {
	for _, c := range badConfs {
		t.Run(c.name, func(t *testing.T) {
			conf := c.conf()
			err := conf.Validate()
			if err == nil {
				t.Fatalf("Expected %+v to be invalid", conf)
			}
			assert.Equal(t, ErrConfig, errors.Cause(err))
			assert.False(t, conf.IsValid())
		})
	}
}
