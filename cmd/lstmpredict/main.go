// Command lstmpredict runs the online LSTM predictor over the bytes of a file
// and reports the ideal code length of the file under the model.
package main

import (
	"bufio"
	"flag"
	"io"
	"io/ioutil"
	"math"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gorgonia/onlinelstm"
	"github.com/gorgonia/onlinelstm/encoding/heatmap"
	"github.com/gorgonia/onlinelstm/kernels"
)

var (
	cells   = flag.Int("cells", 32, "memory cells per layer")
	layers  = flag.Int("layers", 2, "number of LSTM layers")
	hzn     = flag.Int("horizon", 40, "timesteps per backpropagation sweep")
	lr      = flag.Float64("lr", 0.02, "learning rate")
	clip    = flag.Float64("clip", 2, "gate error clipping, 0 disables")
	seed    = flag.Int64("seed", 1337, "weight initialization seed")
	context = flag.Int("context", 0, "previous bytes fed as one-hot features")
	decay   = flag.Float64("decay", 0.5, "weight of each older context byte relative to the next")
	kernel  = flag.String("kernel", "", "force a kernel (scalar, vec8); empty detects the CPU")
	load    = flag.String("load", "", "load weights from this file before predicting")
	save    = flag.String("save", "", "save weights to this file when done")
	bits    = flag.Uint("bits", 0, "weight file field width; 0 or more than 16 stores raw float32")
	exp     = flag.Uint("exp", 1, "posit exponent size of quantized weight files")
	stats   = flag.String("stats", "", "write per cycle statistics as CSV")
	dot     = flag.String("dot", "", "write the architecture as a graphviz file")
	gifOut  = flag.String("gif", "", "render every cycle's predictions as an animated GIF")
	gifRows = flag.Int("gifrows", 64, "symbols shown in the GIF")
	verbose = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Parse()
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	if flag.NArg() != 1 {
		log.Fatal("usage: lstmpredict [flags] file")
	}
	if err := run(flag.Arg(0)); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(path string) error {
	q, err := onlinelstm.NewQuantization(*bits, *exp)
	if err != nil {
		return err
	}

	conf := onlinelstm.DefaultConf(256)
	conf.Cells = *cells
	conf.Layers = *layers
	conf.Horizon = *hzn
	conf.LearningRate = float32(*lr)
	conf.GradientClip = float32(*clip)
	conf.Seed = *seed
	conf.InputSize = *context * conf.OutputSize
	if !conf.IsValid() {
		return errors.Errorf("invalid configuration %+v", conf)
	}

	opts := []onlinelstm.ConsOpt{onlinelstm.WithLogger(log.StandardLogger())}
	if *kernel != "" {
		k, err := kernels.ByName(*kernel)
		if err != nil {
			return err
		}
		opts = append(opts, onlinelstm.WithKernel(k))
	}
	if *stats != "" {
		opts = append(opts, onlinelstm.WithStatistics())
	}
	var enc *heatmap.Encoder
	if *gifOut != "" {
		f, err := os.Create(*gifOut)
		if err != nil {
			return errors.WithStack(err)
		}
		defer f.Close()
		enc = heatmap.NewEncoder(f, 4, *gifRows)
		opts = append(opts, onlinelstm.WithOutputEncoder(enc))
	}
	l := onlinelstm.New(conf, opts...)

	if *dot != "" {
		if err := ioutil.WriteFile(*dot, []byte(l.ToDot()), 0644); err != nil {
			return errors.WithStack(err)
		}
	}
	if *load != "" {
		if err := l.LoadFromDisk(*load, q); err != nil {
			return err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	baseline := onlinelstm.NewUniform(256)
	models := []onlinelstm.Predictor{l, baseline}
	dists := make([][]float32, len(models))
	costs := make([]float64, len(models))
	for i := range dists {
		dists[i] = baseline.Predict(0)
	}
	var history []int
	var features []float32
	r := bufio.NewReader(f)
	for {
		b, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		if *context > 0 {
			features = onlinelstm.EncodeHistory(history, conf.OutputSize, *context, float32(*decay), features)
			l.SetInput(features)
			if history = append(history, int(b)); len(history) > *context {
				history = history[1:]
			}
		}
		for i, m := range models {
			costs[i] -= math.Log2(float64(dists[i][b]))
			dists[i] = m.Perceive(int(b))
		}
	}

	log.WithFields(log.Fields{
		"bytes":   l.Steps,
		"bits":    costs[0],
		"uniform": costs[1],
		"bpc":     l.BitsPerSymbol(),
		"sweeps":  l.Sweeps(),
		"kernel":  l.Kernel().Name(),
		"encoded": int64(costs[0]+7) / 8,
	}).Info("done")

	if *save != "" {
		if err := l.SaveToDisk(*save, q); err != nil {
			return err
		}
	}
	if *stats != "" {
		if err := l.Dump(*stats); err != nil {
			return err
		}
	}
	if enc != nil && enc.Frames() > 0 {
		if err := enc.Flush(); err != nil {
			return err
		}
	}
	return nil
}
