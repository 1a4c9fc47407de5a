package record

import (
	"image"
	"image/color"
	"image/draw"
)

// Canvas geometry of the composited recording. The remote participant fills
// the frame; the local preview sits in the lower-right corner.
const (
	CanvasWidth  = 1280
	CanvasHeight = 720
	PiPWidth     = 320
	PiPHeight    = 180
	PiPMargin    = 20
	FrameRate    = 30
)

// compositor reuses one canvas across frames to keep the 30fps loop out of
// the allocator.
type compositor struct {
	canvas *image.RGBA
}

func newCompositor() *compositor {
	return &compositor{canvas: image.NewRGBA(image.Rect(0, 0, CanvasWidth, CanvasHeight))}
}

// Compose renders one recording frame. Either input may be nil when the
// corresponding capture has no frame yet; missing regions stay black.
func (c *compositor) Compose(remote, local *image.RGBA) *image.RGBA {
	draw.Draw(c.canvas, c.canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	if remote != nil {
		scaleInto(c.canvas, c.canvas.Bounds(), remote)
	}
	if local != nil {
		pip := image.Rect(
			CanvasWidth-PiPWidth-PiPMargin,
			CanvasHeight-PiPHeight-PiPMargin,
			CanvasWidth-PiPMargin,
			CanvasHeight-PiPMargin,
		)
		scaleInto(c.canvas, pip, local)
	}

	return c.canvas
}

// scaleInto draws src scaled to dst's rect with nearest-neighbor sampling.
// Quality is secondary to keeping frame time well under the 33ms budget.
func scaleInto(dst *image.RGBA, rect image.Rectangle, src *image.RGBA) {
	srcBounds := src.Bounds()
	sw, sh := srcBounds.Dx(), srcBounds.Dy()
	dw, dh := rect.Dx(), rect.Dy()
	if sw == 0 || sh == 0 || dw == 0 || dh == 0 {
		return
	}

	for y := 0; y < dh; y++ {
		sy := srcBounds.Min.Y + y*sh/dh
		for x := 0; x < dw; x++ {
			sx := srcBounds.Min.X + x*sw/dw

			si := src.PixOffset(sx, sy)
			di := dst.PixOffset(rect.Min.X+x, rect.Min.Y+y)
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
}
