package cpc

import (
	"encoding/gob"
	"log"
	"os"
	"path/filepath"

	cdc "github.com/gorgonia/cpc/cdcnet"
	"github.com/pkg/errors"
)

func init() {
	gob.Register(&cdc.Model{})
	gob.Register(OptimState{})
	gob.Register(Losses{})
}

// SnapshotPath is where Snapshot writes the state of runName.
func SnapshotPath(dir, runName string) string {
	return filepath.Join(dir, runName+"-model_best.pth")
}

// Snapshot gob encodes state into <dir>/<runName>-model_best.pth, replacing any previous snapshot.
//
// Values must be gob encodable. *cdc.Model, OptimState and Losses are registered.
func Snapshot(dir, runName string, state map[string]interface{}) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.WithStack(err)
	}
	filename := SnapshotPath(dir, runName)
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer f.Close()

	enc := gob.NewEncoder(f)
	if err = enc.Encode(state); err != nil {
		return "", errors.Wrapf(err, "encoding snapshot %v", filename)
	}
	if err = f.Sync(); err != nil {
		return "", errors.WithStack(err)
	}
	log.Printf("Snapshot saved to %s", filename)
	return filename, nil
}

// LoadSnapshot reads back what Snapshot wrote.
func LoadSnapshot(filename string) (map[string]interface{}, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	var state map[string]interface{}
	dec := gob.NewDecoder(f)
	if err = dec.Decode(&state); err != nil {
		return nil, errors.Wrapf(err, "decoding snapshot %v", filename)
	}
	return state, nil
}
