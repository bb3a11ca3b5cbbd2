// Package vision defines the face detection and embedding capability
// consumed by the recognition pipeline. The default implementation talks to
// an HTTP embedding server; tests and tools can plug in their own Engine.
package vision

import (
	"context"
	"image"
	"math"
)

// Box is a face bounding box in (top, right, bottom, left) order.
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Width returns the horizontal extent of the box.
func (b Box) Width() int {
	return b.Right - b.Left
}

// Height returns the vertical extent of the box.
func (b Box) Height() int {
	return b.Bottom - b.Top
}

// Area returns the box area in pixels.
func (b Box) Area() int {
	return b.Width() * b.Height()
}

// Scale returns the box with every coordinate multiplied by factor.
func (b Box) Scale(factor int) Box {
	return Box{
		Top:    b.Top * factor,
		Right:  b.Right * factor,
		Bottom: b.Bottom * factor,
		Left:   b.Left * factor,
	}
}

// Rect converts the box to a stdlib image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

// Engine is the face detection and embedding capability.
//
// Detect returns zero or more face boxes found in the image. Embed computes
// one fixed-length embedding per box, in box order.
type Engine interface {
	Detect(ctx context.Context, img image.Image) ([]Box, error)
	Embed(ctx context.Context, img image.Image, boxes []Box) ([][]float32, error)
}

// Distance returns the euclidean distance between two embeddings. Vectors of
// different lengths are treated as maximally distant.
func Distance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.MaxFloat64
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
