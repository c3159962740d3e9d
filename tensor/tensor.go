// Package tensor holds the dense height x width x channel arrays passed
// between the spectrogram extractor and the autoencoder.
package tensor

import (
	"fmt"
)

// Shape describes an HWC tensor. For spectrograms Height is the mel band
// axis and Width is the time-frame axis.
type Shape struct {
	Height   int `json:"height" msgpack:"h"`
	Width    int `json:"width" msgpack:"w"`
	Channels int `json:"channels" msgpack:"c"`
}

// Size returns the number of elements a tensor of this shape holds.
func (s Shape) Size() int {
	return s.Height * s.Width * s.Channels
}

// Valid reports whether every dimension is positive.
func (s Shape) Valid() bool {
	return s.Height > 0 && s.Width > 0 && s.Channels > 0
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s.Height, s.Width, s.Channels)
}

// Tensor is a row-major HWC array: element (h, w, c) lives at
// Data[(h*Width+w)*Channels+c].
type Tensor struct {
	Shape Shape
	Data  []float64
}

// New allocates a zeroed tensor.
func New(shape Shape) *Tensor {
	return &Tensor{
		Shape: shape,
		Data:  make([]float64, shape.Size()),
	}
}

// Index returns the flat offset of element (h, w, c).
func (t *Tensor) Index(h, w, c int) int {
	return (h*t.Shape.Width+w)*t.Shape.Channels + c
}

// At returns element (h, w, c).
func (t *Tensor) At(h, w, c int) float64 {
	return t.Data[t.Index(h, w, c)]
}

// Set assigns element (h, w, c).
func (t *Tensor) Set(h, w, c int, v float64) {
	t.Data[t.Index(h, w, c)] = v
}

// Pixel returns the channel vector at (h, w). The slice aliases Data.
func (t *Tensor) Pixel(h, w int) []float64 {
	off := (h*t.Shape.Width + w) * t.Shape.Channels
	return t.Data[off : off+t.Shape.Channels]
}
