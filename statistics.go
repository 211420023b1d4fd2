package cpc

import (
	"encoding/csv"
	"os"
	"strconv"
)

// Statistics records one row per epoch.
type Statistics struct {
	Epochs    []int
	Train     []Losses
	ValAcc    []float32
	ValLoss   []float32
	LearnRate []float64
}

func makeStatistics() Statistics {
	return Statistics{
		Epochs:    make([]int, 0, 64),
		Train:     make([]Losses, 0, 64),
		ValAcc:    make([]float32, 0, 64),
		ValLoss:   make([]float32, 0, 64),
		LearnRate: make([]float64, 0, 64),
	}
}

func (s *Statistics) update(epoch int, train Losses, valAcc, valLoss float32, lr float64) {
	s.Epochs = append(s.Epochs, epoch)
	s.Train = append(s.Train, train)
	s.ValAcc = append(s.ValAcc, valAcc)
	s.ValLoss = append(s.ValLoss, valLoss)
	s.LearnRate = append(s.LearnRate, lr)
}

var statsHeader = []string{"epoch", "cpc", "knn", "total", "val_acc", "val_loss", "lr"}

func (s *Statistics) Dump(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(statsHeader); err != nil {
		return err
	}
	f64 := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	f32 := func(v float32) string { return strconv.FormatFloat(float64(v), 'f', 4, 32) }

	records := make([][]string, 0, len(s.Epochs))
	for i, epoch := range s.Epochs {
		tr := s.Train[i]
		records = append(records, []string{
			strconv.Itoa(epoch),
			f64(tr.CPC),
			f64(tr.KNN),
			f64(tr.Total),
			f32(s.ValAcc[i]),
			f32(s.ValLoss[i]),
			strconv.FormatFloat(s.LearnRate[i], 'g', 6, 64),
		})
	}
	if err := w.WriteAll(records); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
