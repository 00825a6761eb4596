package media

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Size is a display box in pixels.
type Size struct {
	Width  int
	Height int
}

var (
	ThumbnailSize  = Size{Width: 200, Height: 200}
	PreviewMaxSize = Size{Width: 1200, Height: 700}
)

// Fill crops and scales img to exactly size, keeping the center (aspect-fit thumbnail).
func Fill(img image.Image, size Size) *image.NRGBA {
	return imaging.Fill(img, size.Width, size.Height, imaging.Center, imaging.Lanczos)
}

// Contain scales img up or down to the largest size that fits inside box,
// preserving the aspect ratio.
func Contain(img image.Image, box Size) *image.NRGBA {
	b := img.Bounds()
	if b.Empty() || box.Width <= 0 || box.Height <= 0 {
		return imaging.Clone(img)
	}
	scale := math.Min(float64(box.Width)/float64(b.Dx()), float64(box.Height)/float64(b.Dy()))
	w := int(math.Round(float64(b.Dx()) * scale))
	h := int(math.Round(float64(b.Dy()) * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if w == b.Dx() && h == b.Dy() {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

// Thumbnail renders the selection thumbnail for ref: the image itself or the
// first frame of a video.
func (a *Accessor) Thumbnail(ctx context.Context, ref Reference, size Size) (*image.NRGBA, error) {
	frame, err := a.Frame(ctx, ref.Path, 0)
	if err != nil {
		return nil, err
	}
	return Fill(frame, size), nil
}
