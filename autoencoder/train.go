package autoencoder

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/RyanBlaney/sonido-sentinel/logging"
	"github.com/RyanBlaney/sonido-sentinel/tensor"
)

// adam holds first and second moment estimates for every parameter slice.
type adam struct {
	lr, beta1, beta2, eps float64
	step                  int
	m, v                  [][]float64
}

func newAdam(config Config, params [][]float64) *adam {
	a := &adam{
		lr:    config.LearningRate,
		beta1: config.Beta1,
		beta2: config.Beta2,
		eps:   config.Epsilon,
	}
	for _, p := range params {
		a.m = append(a.m, make([]float64, len(p)))
		a.v = append(a.v, make([]float64, len(p)))
	}
	return a
}

// update applies one bias-corrected Adam step in place.
func (a *adam) update(params, grads [][]float64) {
	a.step++
	t := float64(a.step)
	lrT := a.lr * math.Sqrt(1-math.Pow(a.beta2, t)) / (1 - math.Pow(a.beta1, t))

	for i, p := range params {
		m, v, g := a.m[i], a.v[i], grads[i]
		for j := range p {
			m[j] = a.beta1*m[j] + (1-a.beta1)*g[j]
			v[j] = a.beta2*v[j] + (1-a.beta2)*g[j]*g[j]
			p[j] -= lrT * m[j] / (math.Sqrt(v[j]) + a.eps)
		}
	}
}

// flatParams lists every parameter slice in layer order.
func (m *Model) flatParams() [][]float64 {
	var params [][]float64
	for _, l := range m.layers {
		params = append(params, l.params()...)
	}
	return params
}

// newGrads allocates zeroed gradient buffers shaped like the parameters,
// grouped per layer.
func (m *Model) newGrads() [][][]float64 {
	grads := make([][][]float64, len(m.layers))
	for i, l := range m.layers {
		for _, p := range l.params() {
			grads[i] = append(grads[i], make([]float64, len(p)))
		}
	}
	return grads
}

// sampleGradient runs forward and backward for one sample under
// loss = sum((y - x)^2) / scale and returns the squared error sum.
func (m *Model) sampleGradient(x *tensor.Tensor, scale float64, grads [][][]float64) float64 {
	acts := m.activations(x)
	y := acts[len(acts)-1]

	grad := tensor.New(y.Shape)
	sse := 0.0
	for i, v := range y.Data {
		d := v - x.Data[i]
		sse += d * d
		grad.Data[i] = 2 * d / scale
	}

	for i := len(m.layers) - 1; i >= 0; i-- {
		grad = m.layers[i].backward(acts[i], acts[i+1], grad, grads[i], i > 0)
	}

	return sse
}

// Fit trains the model to reconstruct x. Per-sample gradients within a batch
// are computed concurrently and then summed in sample order, so two runs
// with the same weights, data and options produce identical weights.
// The context is checked between batches.
func (m *Model) Fit(ctx context.Context, x []*tensor.Tensor, opts FitOptions) (*History, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("no training samples")
	}
	if opts.Epochs <= 0 || opts.BatchSize <= 0 {
		return nil, fmt.Errorf("epochs and batch size must be positive, got %d/%d", opts.Epochs, opts.BatchSize)
	}
	if err := m.checkInputs(x); err != nil {
		return nil, err
	}

	logger := m.logger.WithFields(logging.Fields{
		"function":   "Fit",
		"samples":    len(x),
		"epochs":     opts.Epochs,
		"batch_size": opts.BatchSize,
	})

	params := m.flatParams()
	if m.opt == nil {
		m.opt = newAdam(m.config, params)
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0xda3e39cb94b95bdb))
	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}

	elements := float64(m.shape.Size())
	history := &History{}
	start := time.Now()

	for epoch := range opts.Epochs {
		if opts.Shuffle {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		epochSSE := 0.0
		for lo := 0; lo < len(order); lo += opts.BatchSize {
			if err := ctx.Err(); err != nil {
				return history, err
			}

			batch := order[lo:min(lo+opts.BatchSize, len(order))]
			sse, grads, err := m.batchGradient(ctx, x, batch, elements)
			if err != nil {
				return history, err
			}
			epochSSE += sse
			m.opt.update(params, grads)
		}

		loss := epochSSE / (elements * float64(len(x)))
		history.Loss = append(history.Loss, loss)
		if opts.OnEpoch != nil {
			opts.OnEpoch(epoch, loss)
		}

		logger.Debug("Epoch complete", logging.Fields{
			"epoch": epoch + 1,
			"loss":  loss,
		})
	}

	logger.Debug("Training complete", logging.Fields{
		"final_loss": history.FinalLoss(),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})

	return history, nil
}

// batchGradient computes the mean-squared-error gradient of one batch and
// returns it flattened in parameter order along with the batch's squared
// error sum.
func (m *Model) batchGradient(ctx context.Context, x []*tensor.Tensor, batch []int, elements float64) (float64, [][]float64, error) {
	scale := elements * float64(len(batch))
	perSample := make([][][][]float64, len(batch))
	sse := make([]float64, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers())
	for i, idx := range batch {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			grads := m.newGrads()
			sse[i] = m.sampleGradient(x[idx], scale, grads)
			perSample[i] = grads
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}

	// sum in sample order
	total := perSample[0]
	batchSSE := sse[0]
	for i := 1; i < len(batch); i++ {
		batchSSE += sse[i]
		for l := range total {
			for p := range total[l] {
				floats.Add(total[l][p], perSample[i][l][p])
			}
		}
	}

	var flat [][]float64
	for _, layerGrads := range total {
		flat = append(flat, layerGrads...)
	}
	return batchSSE, flat, nil
}
