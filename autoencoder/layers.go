package autoencoder

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/RyanBlaney/sonido-sentinel/tensor"
)

type activation string

const (
	activationReLU    activation = "relu"
	activationSigmoid activation = "sigmoid"
)

func (a activation) apply(x []float64) {
	switch a {
	case activationReLU:
		for i, v := range x {
			if v < 0 {
				x[i] = 0
			}
		}
	case activationSigmoid:
		for i, v := range x {
			x[i] = 1 / (1 + math.Exp(-v))
		}
	}
}

// derivative of the activation expressed through its output y.
func (a activation) derivative(y float64) float64 {
	switch a {
	case activationReLU:
		if y > 0 {
			return 1
		}
		return 0
	case activationSigmoid:
		return y * (1 - y)
	default:
		return 1
	}
}

const (
	kindConv     = "conv2d"
	kindMaxPool  = "maxpool2d"
	kindUpSample = "upsample2d"
	kindCrop     = "crop2d"
)

// layer is one stage of the network. Layers keep no per-call state, so a
// single model can run forward and backward passes for many samples at once.
type layer interface {
	kind() string
	inputShape() tensor.Shape
	outputShape() tensor.Shape
	forward(in *tensor.Tensor) *tensor.Tensor
	// backward takes the forward input and output plus dLoss/dOutput,
	// accumulates parameter gradients into grads (laid out like params) and
	// returns dLoss/dInput when wantInput is set.
	backward(in, out, gradOut *tensor.Tensor, grads [][]float64, wantInput bool) *tensor.Tensor
	params() [][]float64
}

// conv2d is a stride-1 convolution with "same" zero padding and a fused
// activation. Weights are laid out [ky][kx][in channel][out channel].
type conv2d struct {
	in, out tensor.Shape
	kernel  int
	act     activation
	weights []float64
	bias    []float64
}

func newConv2D(in tensor.Shape, filters, kernel int, act activation) *conv2d {
	return &conv2d{
		in:      in,
		out:     tensor.Shape{Height: in.Height, Width: in.Width, Channels: filters},
		kernel:  kernel,
		act:     act,
		weights: make([]float64, kernel*kernel*in.Channels*filters),
		bias:    make([]float64, filters),
	}
}

// glorotUniform draws weights from U(-l, l) with l = sqrt(6 / (fanIn + fanOut)).
// Biases stay zero.
func (c *conv2d) glorotUniform(rng *rand.Rand) {
	receptive := c.kernel * c.kernel
	fanIn := float64(receptive * c.in.Channels)
	fanOut := float64(receptive * c.out.Channels)
	limit := math.Sqrt(6 / (fanIn + fanOut))
	for i := range c.weights {
		c.weights[i] = (rng.Float64()*2 - 1) * limit
	}
}

func (c *conv2d) kind() string              { return kindConv }
func (c *conv2d) inputShape() tensor.Shape  { return c.in }
func (c *conv2d) outputShape() tensor.Shape { return c.out }
func (c *conv2d) params() [][]float64       { return [][]float64{c.weights, c.bias} }

func (c *conv2d) rowOffset(ky, kx, ci int) int {
	return ((ky*c.kernel+kx)*c.in.Channels + ci) * c.out.Channels
}

func (c *conv2d) forward(in *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(c.out)
	pad := c.kernel / 2
	cout := c.out.Channels

	for h := range c.out.Height {
		for w := range c.out.Width {
			dst := out.Pixel(h, w)
			copy(dst, c.bias)
			for ky := range c.kernel {
				ih := h + ky - pad
				if ih < 0 || ih >= c.in.Height {
					continue
				}
				for kx := range c.kernel {
					iw := w + kx - pad
					if iw < 0 || iw >= c.in.Width {
						continue
					}
					for ci, v := range in.Pixel(ih, iw) {
						if v == 0 {
							continue
						}
						off := c.rowOffset(ky, kx, ci)
						floats.AddScaled(dst, v, c.weights[off:off+cout])
					}
				}
			}
			c.act.apply(dst)
		}
	}

	return out
}

func (c *conv2d) backward(in, out, gradOut *tensor.Tensor, grads [][]float64, wantInput bool) *tensor.Tensor {
	pad := c.kernel / 2
	cout := c.out.Channels
	gradW, gradB := grads[0], grads[1]

	// gradient w.r.t. the pre-activation
	dz := tensor.New(c.out)
	for i, y := range out.Data {
		dz.Data[i] = gradOut.Data[i] * c.act.derivative(y)
	}

	var gradIn *tensor.Tensor
	if wantInput {
		gradIn = tensor.New(c.in)
	}

	for h := range c.out.Height {
		for w := range c.out.Width {
			d := dz.Pixel(h, w)
			if allZero(d) {
				continue
			}
			floats.Add(gradB, d)
			for ky := range c.kernel {
				ih := h + ky - pad
				if ih < 0 || ih >= c.in.Height {
					continue
				}
				for kx := range c.kernel {
					iw := w + kx - pad
					if iw < 0 || iw >= c.in.Width {
						continue
					}
					src := in.Pixel(ih, iw)
					var dst []float64
					if wantInput {
						dst = gradIn.Pixel(ih, iw)
					}
					for ci, v := range src {
						off := c.rowOffset(ky, kx, ci)
						if v != 0 {
							floats.AddScaled(gradW[off:off+cout], v, d)
						}
						if wantInput {
							dst[ci] += floats.Dot(c.weights[off:off+cout], d)
						}
					}
				}
			}
		}
	}

	return gradIn
}

func allZero(x []float64) bool {
	for _, v := range x {
		if v != 0 {
			return false
		}
	}
	return true
}

// maxPool2d is 2x2 max pooling with stride 2 and "same" padding: odd edges
// produce a final pool over the single remaining row or column.
type maxPool2d struct {
	in, out tensor.Shape
}

func newMaxPool2D(in tensor.Shape) *maxPool2d {
	return &maxPool2d{
		in:  in,
		out: tensor.Shape{Height: (in.Height + 1) / 2, Width: (in.Width + 1) / 2, Channels: in.Channels},
	}
}

func (p *maxPool2d) kind() string              { return kindMaxPool }
func (p *maxPool2d) inputShape() tensor.Shape  { return p.in }
func (p *maxPool2d) outputShape() tensor.Shape { return p.out }
func (p *maxPool2d) params() [][]float64       { return nil }

// argmax returns the flat input index of the largest element in the pool
// feeding output (oh, ow, c). Ties go to the first in row-major order.
func (p *maxPool2d) argmax(in *tensor.Tensor, oh, ow, c int) int {
	best := in.Index(2*oh, 2*ow, c)
	for dy := range 2 {
		ih := 2*oh + dy
		if ih >= p.in.Height {
			break
		}
		for dx := range 2 {
			iw := 2*ow + dx
			if iw >= p.in.Width {
				break
			}
			if idx := in.Index(ih, iw, c); in.Data[idx] > in.Data[best] {
				best = idx
			}
		}
	}
	return best
}

func (p *maxPool2d) forward(in *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(p.out)
	for oh := range p.out.Height {
		for ow := range p.out.Width {
			for c := range p.out.Channels {
				out.Set(oh, ow, c, in.Data[p.argmax(in, oh, ow, c)])
			}
		}
	}
	return out
}

func (p *maxPool2d) backward(in, _, gradOut *tensor.Tensor, _ [][]float64, wantInput bool) *tensor.Tensor {
	if !wantInput {
		return nil
	}
	gradIn := tensor.New(p.in)
	for oh := range p.out.Height {
		for ow := range p.out.Width {
			for c := range p.out.Channels {
				gradIn.Data[p.argmax(in, oh, ow, c)] += gradOut.At(oh, ow, c)
			}
		}
	}
	return gradIn
}

// upSample2d repeats every pixel into a 2x2 block.
type upSample2d struct {
	in, out tensor.Shape
}

func newUpSample2D(in tensor.Shape) *upSample2d {
	return &upSample2d{
		in:  in,
		out: tensor.Shape{Height: in.Height * 2, Width: in.Width * 2, Channels: in.Channels},
	}
}

func (u *upSample2d) kind() string              { return kindUpSample }
func (u *upSample2d) inputShape() tensor.Shape  { return u.in }
func (u *upSample2d) outputShape() tensor.Shape { return u.out }
func (u *upSample2d) params() [][]float64       { return nil }

func (u *upSample2d) forward(in *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(u.out)
	for h := range u.out.Height {
		for w := range u.out.Width {
			copy(out.Pixel(h, w), in.Pixel(h/2, w/2))
		}
	}
	return out
}

func (u *upSample2d) backward(_, _, gradOut *tensor.Tensor, _ [][]float64, wantInput bool) *tensor.Tensor {
	if !wantInput {
		return nil
	}
	gradIn := tensor.New(u.in)
	for h := range u.out.Height {
		for w := range u.out.Width {
			floats.Add(gradIn.Pixel(h/2, w/2), gradOut.Pixel(h, w))
		}
	}
	return gradIn
}

// crop2d keeps the top-left region of its input. It trims the rows and
// columns the pool/upsample round trip adds when a dimension is not a
// multiple of four.
type crop2d struct {
	in, out tensor.Shape
}

func newCrop2D(in, out tensor.Shape) (*crop2d, error) {
	if out.Height > in.Height || out.Width > in.Width || out.Channels != in.Channels {
		return nil, fmt.Errorf("cannot crop %s to %s", in, out)
	}
	return &crop2d{in: in, out: out}, nil
}

func (c *crop2d) kind() string              { return kindCrop }
func (c *crop2d) inputShape() tensor.Shape  { return c.in }
func (c *crop2d) outputShape() tensor.Shape { return c.out }
func (c *crop2d) params() [][]float64       { return nil }

func (c *crop2d) forward(in *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(c.out)
	for h := range c.out.Height {
		for w := range c.out.Width {
			copy(out.Pixel(h, w), in.Pixel(h, w))
		}
	}
	return out
}

func (c *crop2d) backward(_, _, gradOut *tensor.Tensor, _ [][]float64, wantInput bool) *tensor.Tensor {
	if !wantInput {
		return nil
	}
	gradIn := tensor.New(c.in)
	for h := range c.out.Height {
		for w := range c.out.Width {
			copy(gradIn.Pixel(h, w), gradOut.Pixel(h, w))
		}
	}
	return gradIn
}
