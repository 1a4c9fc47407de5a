package media

import "image"

// DefaultBlurRadius matches the strength of the original background filter.
const DefaultBlurRadius = 10

// NewBlurSource runs a per-frame compositing loop: it copies the latest
// camera frame, applies a box blur, and emits the result as a synthetic
// captured track. The camera FrameSource is shared with the live camera
// source, so closing the blur source must not close the camera; the caller
// passes a non-owning view (see SharedFrames).
func NewBlurSource(camera FrameSource, codec Codec, fps, radius int) (Source, error) {
	if radius <= 0 {
		radius = DefaultBlurRadius
	}

	return newCaptureSource(SourceBlur, camera, codec, fps, func(frame *image.RGBA) *image.RGBA {
		return boxBlur(frame, radius)
	})
}

// SharedFrames wraps a FrameSource so a secondary consumer can be closed
// without releasing the underlying capture.
func SharedFrames(src FrameSource) FrameSource {
	return nonOwningFrames{src}
}

type nonOwningFrames struct {
	FrameSource
}

func (nonOwningFrames) Close() error { return nil }

// boxBlur applies a separable box blur. Two passes (horizontal then
// vertical) approximate a gaussian well enough for a background filter.
func boxBlur(src *image.RGBA, radius int) *image.RGBA {
	bounds := src.Bounds()
	tmp := image.NewRGBA(bounds)
	dst := image.NewRGBA(bounds)

	blurPass(src, tmp, radius, true)
	blurPass(tmp, dst, radius, false)

	return dst
}

func blurPass(src, dst *image.RGBA, radius int, horizontal bool) {
	bounds := src.Bounds()

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			var r, g, b, a, n uint32

			for d := -radius; d <= radius; d++ {
				sx, sy := x, y
				if horizontal {
					sx += d
				} else {
					sy += d
				}

				if sx < bounds.Min.X || sx >= bounds.Max.X || sy < bounds.Min.Y || sy >= bounds.Max.Y {
					continue
				}

				i := src.PixOffset(sx, sy)
				r += uint32(src.Pix[i])
				g += uint32(src.Pix[i+1])
				b += uint32(src.Pix[i+2])
				a += uint32(src.Pix[i+3])
				n++
			}

			i := dst.PixOffset(x, y)
			dst.Pix[i] = uint8(r / n)
			dst.Pix[i+1] = uint8(g / n)
			dst.Pix[i+2] = uint8(b / n)
			dst.Pix[i+3] = uint8(a / n)
		}
	}
}
