package cpc

import (
	"log"
	"os"

	"github.com/pkg/errors"
)

// LogEncoder prints progress records to a logger.
type LogEncoder struct {
	*log.Logger
}

// NewLogEncoder prints to stdout. A nil logger does the same.
func NewLogEncoder(l *log.Logger) *LogEncoder {
	if l == nil {
		l = log.New(os.Stdout, "", 0)
	}
	return &LogEncoder{l}
}

func (enc *LogEncoder) Encode(p Progress) error {
	enc.Printf("cpc loss: %v", p.NCE)
	enc.Printf("knn loss: %v", p.KNN)
	enc.Print(p.String())
	return nil
}

func (enc *LogEncoder) Flush() error { return nil }

// MultiEncoder sends every record to all of its encoders.
type MultiEncoder []ProgressEncoder

func (enc MultiEncoder) Encode(p Progress) error {
	for _, e := range enc {
		if err := e.Encode(p); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes every encoder, even after one fails.
func (enc MultiEncoder) Flush() error {
	var first error
	for _, e := range enc {
		if err := e.Flush(); err != nil && first == nil {
			first = errors.WithStack(err)
		}
	}
	return first
}
