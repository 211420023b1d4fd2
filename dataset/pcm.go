package dataset

import (
	"bufio"
	"encoding/binary"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/vecf32"
)

// ReadPCM reads 16 bit little endian mono PCM and scales it to [-1, 1).
func ReadPCM(r io.Reader) ([]float32, error) {
	raw, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(raw)%2 != 0 {
		return nil, errors.Errorf("%d bytes is not a whole number of 16 bit samples", len(raw))
	}
	retVal := make([]float32, len(raw)/2)
	for i := range retVal {
		retVal[i] = float32(int16(binary.LittleEndian.Uint16(raw[2*i:])))
	}
	vecf32.Scale(retVal, 1.0/32768)
	return retVal, nil
}

// LoadPCM reads one PCM file.
func LoadPCM(filename string) ([]float32, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	retVal, err := ReadPCM(bufio.NewReader(f))
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %v", filename)
	}
	return retVal, nil
}

// LoadDir reads every file in dir with the given extension, sorted by name.
func LoadDir(dir, ext string) ([][]float32, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+ext))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	sort.Strings(matches)
	retVal := make([][]float32, 0, len(matches))
	for _, m := range matches {
		s, err := LoadPCM(m)
		if err != nil {
			return nil, err
		}
		retVal = append(retVal, s)
	}
	return retVal, nil
}

// LoadList reads the utterances named in a list file, one id per line, from dir.
// Each id names the file <dir>/<id><ext>. Blank lines are skipped.
func LoadList(list, dir, ext string) ([][]float32, error) {
	f, err := os.Open(list)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	var retVal [][]float32
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		id := strings.TrimSpace(sc.Text())
		if id == "" {
			continue
		}
		s, err := LoadPCM(filepath.Join(dir, id+ext))
		if err != nil {
			return nil, err
		}
		retVal = append(retVal, s)
	}
	if err = sc.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return retVal, nil
}

// Normalize shifts a signal to zero mean and scales it to unit peak. Silent signals are only centred.
func Normalize(s []float32) {
	if len(s) == 0 {
		return
	}
	mean := vecf32.Sum(s) / float32(len(s))
	vecf32.Trans(s, -mean)
	peak := vecf32.MaxOf(s)
	if low := -vecf32.MinOf(s); low > peak {
		peak = low
	}
	if peak > 0 {
		vecf32.Scale(s, 1/peak)
	}
}
