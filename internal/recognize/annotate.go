package recognize

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/newaysecurity/cctv-clocking/internal/vision"
)

var (
	boxColor  = color.RGBA{G: 255, A: 255}
	textColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// annotate draws a bounding box and a name label onto the frame. Known
// identities get a confidence percentage appended to the label.
func annotate(dst *image.RGBA, box vision.Box, name string, confidence float64, known bool) {
	drawRect(dst, box.Rect(), boxColor, 2)

	label := name
	if known {
		label = fmt.Sprintf("%s (%.0f%%)", name, confidence*100)
	}

	face := basicfont.Face7x13
	width := font.MeasureString(face, label).Ceil()
	height := face.Metrics().Height.Ceil()

	y := box.Top - 10
	if y < height {
		y = box.Top + 10 + height
	}

	// Label background.
	bg := image.Rect(box.Left, y-height, box.Left+width+4, y+4)
	draw.Draw(dst, bg.Intersect(dst.Bounds()), &image.Uniform{boxColor}, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  &image.Uniform{textColor},
		Face: face,
		Dot:  fixed.P(box.Left+2, y),
	}
	d.DrawString(label)
}

// drawRect strokes a rectangle outline with the given thickness.
func drawRect(dst *image.RGBA, r image.Rectangle, c color.Color, thickness int) {
	src := &image.Uniform{c}
	for i := 0; i < thickness; i++ {
		top := image.Rect(r.Min.X, r.Min.Y+i, r.Max.X, r.Min.Y+i+1)
		bottom := image.Rect(r.Min.X, r.Max.Y-i-1, r.Max.X, r.Max.Y-i)
		left := image.Rect(r.Min.X+i, r.Min.Y, r.Min.X+i+1, r.Max.Y)
		right := image.Rect(r.Max.X-i-1, r.Min.Y, r.Max.X-i, r.Max.Y)
		for _, edge := range []image.Rectangle{top, bottom, left, right} {
			draw.Draw(dst, edge.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
		}
	}
}
