package video

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/psg-sentry/sentry/internal/targeting"
	"github.com/psg-sentry/sentry/pkg/core"
)

var (
	shootableColour = color.RGBA{R: 255, A: 255}
	safeColour      = color.RGBA{G: 255, A: 255}
	otherColour     = color.RGBA{R: 255, G: 255, A: 255}
)

const minMarkerRadius = 6

// Annotate copies frame and marks the detections on it. With autofire off
// every group is drawn in its own colour; with autofire on only the engaged
// target is marked.
func Annotate(frame image.Image, d targeting.Decision) *image.RGBA {
	out := toRGBA(frame)

	if !d.Autofire {
		drawTargets(out, d.Shootable, shootableColour)
		drawTargets(out, d.Safe, safeColour)
		drawTargets(out, d.Other, otherColour)
		return out
	}

	if d.Target != nil {
		r := markerRadius(d.Target.Size)
		drawCircle(out, d.Target.PixelX, d.Target.PixelY, r, shootableColour)
		drawCrosshair(out, d.Target.PixelX, d.Target.PixelY, r+4, shootableColour)
	}
	return out
}

func drawTargets(img *image.RGBA, targets []core.DetectedTarget, c color.RGBA) {
	for _, t := range targets {
		drawCircle(img, t.PixelX, t.PixelY, markerRadius(t.Size), c)
	}
}

func markerRadius(size float64) int {
	r := int(size / 2)
	if r < minMarkerRadius {
		return minMarkerRadius
	}
	return r
}

func drawCircle(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	// enough steps to leave no gaps in the outline
	steps := int(2*math.Pi*float64(r)) + 8
	for i := 0; i < steps; i++ {
		a := 2 * math.Pi * float64(i) / float64(steps)
		x := cx + int(math.Round(float64(r)*math.Cos(a)))
		y := cy + int(math.Round(float64(r)*math.Sin(a)))
		setPixel(img, x, y, c)
	}
}

func drawCrosshair(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	for d := -r; d <= r; d++ {
		setPixel(img, cx+d, cy, c)
		setPixel(img, cx, cy+d, c)
	}
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func toRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// Resize scales frame down to width with nearest-neighbour sampling, keeping
// the aspect ratio. Frames already narrow enough are returned untouched.
func Resize(frame image.Image, width int) image.Image {
	b := frame.Bounds()
	if width <= 0 || b.Dx() <= width {
		return frame
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		sy := b.Min.Y + y*b.Dy()/height
		for x := 0; x < width; x++ {
			sx := b.Min.X + x*b.Dx()/width
			dst.Set(x, y, frame.At(sx, sy))
		}
	}
	return dst
}
