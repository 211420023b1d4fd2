package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/gorgonia/cpc"
	cdc "github.com/gorgonia/cpc/cdcnet"
	"github.com/gorgonia/cpc/dataset"
	"github.com/gorgonia/cpc/encoding/gif"
	"github.com/gorgonia/cpc/encoding/mjpeg"

	_ "net/http/pprof"
)

var (
	name        = flag.String("name", "cdc", "name of the run; snapshots are named after it")
	trainDir    = flag.String("train", "", "directory of raw 16 bit PCM files to train on")
	trainList   = flag.String("train_list", "", "file listing the training utterances, one id per line, relative to -train")
	valDir      = flag.String("val", "", "directory of raw 16 bit PCM files to validate on")
	valList     = flag.String("val_list", "", "file listing the validation utterances, relative to -val")
	ext         = flag.String("ext", ".raw", "extension of the PCM files")
	synthetic   = flag.Int("synthetic", 256, "number of synthetic signals to use when no data is given")
	seqLen      = flag.Int("seq_len", 20480, "length of the random crops")
	timestep    = flag.Int("timestep", 12, "number of future frames to predict")
	batchSize   = flag.Int("batch", 64, "batch size")
	hidden      = flag.Int("hidden", 256, "size of the GRU state")
	epochs      = flag.Int("epochs", 60, "number of epochs")
	knn         = flag.Int("knn", 5, "neighbours of the auxiliary kNN loss, fewer than the batch size; 0 disables it")
	warmup      = flag.Int("warmup", 50, "warmup steps of the learning rate schedule")
	logInterval = flag.Int("log_interval", 50, "batches between progress logs")
	seed        = flag.Int64("seed", 1, "random seed")
	snapshots   = flag.String("snapshots", "snapshot", "directory of the best model snapshots")
	resume      = flag.String("resume", "", "snapshot to resume from")
	gifOut      = flag.String("gif", "", "render the training curves into this gif")
	stats       = flag.String("stats", "", "dump the per epoch statistics into this csv")
	addr        = flag.String("http", "", "serve live progress on this address (/ws and /mjpeg)")
)

func load(dir, list string, n int, seed int64) ([][]float32, error) {
	switch {
	case dir != "" && list != "":
		return dataset.LoadList(list, dir, *ext)
	case dir != "":
		return dataset.LoadDir(dir, *ext)
	}
	log.Printf("no data given, using %d synthetic signals", n)
	return dataset.Synthetic(n, 2*(*seqLen), seed), nil
}

// runConfig builds the run configuration from the flags. Output encoders are left to the caller.
func runConfig() cpc.Config {
	nnConf := cdc.DefaultConf(*seqLen, *timestep)
	nnConf.BatchSize = *batchSize
	nnConf.Hidden = *hidden
	nnConf.Seed = *seed
	return cpc.Config{
		Name:        *name,
		NNConf:      nnConf,
		KNN:         *knn,
		Epochs:      *epochs,
		LogInterval: *logInterval,
		WarmupSteps: *warmup,
		SnapshotDir: *snapshots,
	}
}

func main() {
	flag.Parse()
	conf := runConfig()

	var encs cpc.MultiEncoder
	encs = append(encs, cpc.NewLogEncoder(log.New(os.Stderr, "", log.LstdFlags)))
	var gifEnc *gif.Encoder
	if *gifOut != "" {
		f, err := os.Create(*gifOut)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		gifEnc = gif.NewGifEncoder(300, 600)
		gifEnc.Writer = f
		encs = append(encs, gifEnc)
	}
	if *addr != "" {
		ws := NewEncoder(64)
		mj := mjpeg.NewEncoder(-1, -1)
		encs = append(encs, ws, mj)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/ws", ws)
			mux.Handle("/mjpeg", mj)
			log.Printf("http://%v/mjpeg", *addr)
			log.Println(http.ListenAndServe(*addr, mux))
		}()
	}

	conf.OutputEncoder = encs
	a, err := cpc.New(conf)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	defer a.Close()
	if *resume != "" {
		if err = a.Resume(*resume); err != nil {
			log.Fatalf("%+v", err)
		}
		log.Printf("resumed from %v", *resume)
	}
	nnConf := a.Model().Config
	log.Printf("%d frames of %d dims per crop, compression %d", nnConf.Frames(), nnConf.EmbeddingDim(), nnConf.CompressRatio())

	signals, err := load(*trainDir, *trainList, *synthetic, *seed)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	train, err := dataset.NewMemory(signals, nnConf.SeqLen, nnConf.BatchSize, dataset.WithSeed(*seed))
	if err != nil {
		log.Fatalf("%+v", err)
	}
	var val cpc.Loader
	if *valDir != "" || *trainDir == "" {
		if signals, err = load(*valDir, *valList, *synthetic/4, *seed+1); err != nil {
			log.Fatalf("%+v", err)
		}
		if val, err = dataset.NewMemory(signals, nnConf.SeqLen, nnConf.BatchSize, dataset.WithSeed(*seed+1)); err != nil {
			log.Fatalf("%+v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err = a.Learn(ctx, train, val); err != nil {
		log.Printf("%+v", err)
	}
	if best := a.BestSnapshot(); best != "" {
		log.Printf("best model in %v", best)
	}
	if *stats != "" {
		if err := a.Dump(*stats); err != nil {
			log.Fatal(err)
		}
	}
	if err := os.MkdirAll(*snapshots, 0755); err != nil {
		log.Fatal(err)
	}
	if err := a.Save(filepath.Join(*snapshots, *name+".model")); err != nil {
		log.Println(err)
	}
}
