package processor

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/andresmejia3/mirage/internal/face"
	"github.com/andresmejia3/mirage/internal/types"
)

// Style selects how the redactor obscures a face region.
type Style string

const (
	StylePixel  Style = "pixel"
	StyleBlack  Style = "black"
	StyleGauss  Style = "gauss"
	StyleSecure Style = "secure"
)

// ParseStyle validates a style name.
func ParseStyle(s string) (Style, error) {
	switch Style(s) {
	case StylePixel, StyleBlack, StyleGauss, StyleSecure:
		return Style(s), nil
	}
	return "", fmt.Errorf("invalid style '%s'. Must be one of: pixel, black, gauss, secure", s)
}

// Redactor obscures the faces matching the reference face, or every face when
// AllFaces is set. Without a reference face (and AllFaces unset) the frame is
// passed through.
type Redactor struct {
	Faces    face.Locator
	Style    Style
	Strength int
	AllFaces bool
	Distance float64
}

func (r *Redactor) Name() string { return "redactor" }

func (r *Redactor) Apply(ctx context.Context, _, reference *types.Face, frame *image.RGBA) (*image.RGBA, error) {
	if !r.AllFaces && reference == nil {
		return frame, nil
	}
	faces, err := r.Faces.LocateAll(ctx, frame)
	if err != nil {
		return nil, err
	}
	maxDist := r.Distance
	if maxDist <= 0 {
		maxDist = DefaultSimilarFaceDistance
	}
	for i := range faces {
		if r.AllFaces || FindSimilar(faces[i:i+1], reference, maxDist) != nil {
			Obscure(frame, faces[i].Rect(), r.Style, r.Strength)
		}
	}
	return frame, nil
}

// blurBufferPool recycles scratch buffers for the box blur.
var blurBufferPool = sync.Pool{
	New: func() interface{} { return make([]uint8, 0, 1024*1024) }, // Start with 1MB capacity
}

// colSumsPool recycles column accumulators for the box blur.
var colSumsPool = sync.Pool{
	New: func() interface{} { return make([]uint32, 0, 1024) },
}

// Obscure redacts rect of img in place.
func Obscure(img *image.RGBA, rect image.Rectangle, style Style, strength int) {
	// Clip rect to image bounds to prevent panics
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	switch style {
	case StyleBlack:
		fillRect(img, rect, 0, 0, 0)
	case StyleSecure:
		r, g, b := borderAverage(img, rect)
		fillRect(img, rect, r, g, b)
	case StyleGauss:
		boxBlur(img, rect, strength)
	default:
		pixelate(img, rect, strength)
	}
}

func fillRect(img *image.RGBA, rect image.Rectangle, r, g, b uint8) {
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		off := img.PixOffset(rect.Min.X, y)
		for x := 0; x < rect.Dx(); x++ {
			img.Pix[off] = r
			img.Pix[off+1] = g
			img.Pix[off+2] = b
			img.Pix[off+3] = 255
			off += 4
		}
	}
}

// borderAverage averages the pixels just outside rect so the fill blends into
// the background.
func borderAverage(img *image.RGBA, rect image.Rectangle) (uint8, uint8, uint8) {
	var r, g, b, count uint64
	bounds := img.Bounds()
	add := func(x, y int) {
		if !(image.Point{X: x, Y: y}).In(bounds) {
			return
		}
		off := img.PixOffset(x, y)
		r += uint64(img.Pix[off])
		g += uint64(img.Pix[off+1])
		b += uint64(img.Pix[off+2])
		count++
	}
	for x := rect.Min.X; x < rect.Max.X; x++ {
		add(x, rect.Min.Y-1)
		add(x, rect.Max.Y)
	}
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		add(rect.Min.X-1, y)
		add(rect.Max.X, y)
	}
	if count == 0 {
		return 0, 0, 0
	}
	return uint8(r / count), uint8(g / count), uint8(b / count)
}

// boxBlur is a separable box blur with kernel radius = strength.
func boxBlur(img *image.RGBA, rect image.Rectangle, strength int) {
	w, h := rect.Dx(), rect.Dy()
	radius := strength
	if radius < 1 {
		radius = 1
	}
	// Clamp radius to the face bounds
	if radius > w/2 {
		radius = w / 2
	}
	if radius > h/2 {
		radius = h / 2
	}
	if radius < 1 {
		return
	}
	clampIdx := func(i, n int) int {
		if i < 0 {
			return 0
		}
		if i >= n {
			return n - 1
		}
		return i
	}
	count := uint32(2*radius + 1)

	needed := w * h * 4
	bufPtr := blurBufferPool.Get().([]uint8)
	if cap(bufPtr) < needed {
		bufPtr = make([]uint8, needed)
	}
	buf := bufPtr[:needed]
	defer blurBufferPool.Put(bufPtr)

	// 1. Horizontal pass: image -> buffer
	for y := 0; y < h; y++ {
		row := img.PixOffset(rect.Min.X, rect.Min.Y+y)
		var sum [3]uint32
		for k := -radius; k <= radius; k++ {
			off := row + clampIdx(k, w)*4
			for c := 0; c < 3; c++ {
				sum[c] += uint32(img.Pix[off+c])
			}
		}
		for x := 0; x < w; x++ {
			dst := (y*w + x) * 4
			for c := 0; c < 3; c++ {
				buf[dst+c] = uint8(sum[c] / count)
			}
			buf[dst+3] = 255

			// Slide window: drop the leaving pixel, add the entering one
			rm := row + clampIdx(x-radius, w)*4
			ad := row + clampIdx(x+radius+1, w)*4
			for c := 0; c < 3; c++ {
				sum[c] = sum[c] - uint32(img.Pix[rm+c]) + uint32(img.Pix[ad+c])
			}
		}
	}

	// 2. Vertical pass: buffer -> image, row by row with per-column running sums
	// for cache locality.
	csPtr := colSumsPool.Get().([]uint32)
	if cap(csPtr) < w*3 {
		csPtr = make([]uint32, w*3)
	}
	colSums := csPtr[:w*3]
	for i := range colSums {
		colSums[i] = 0
	}
	defer colSumsPool.Put(csPtr)

	for k := -radius; k <= radius; k++ {
		row := clampIdx(k, h) * w * 4
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				colSums[x*3+c] += uint32(buf[row+x*4+c])
			}
		}
	}
	for y := 0; y < h; y++ {
		dstRow := img.PixOffset(rect.Min.X, rect.Min.Y+y)
		rmRow := clampIdx(y-radius, h) * w * 4
		adRow := clampIdx(y+radius+1, h) * w * 4
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				img.Pix[dstRow+x*4+c] = uint8(colSums[x*3+c] / count)
				colSums[x*3+c] = colSums[x*3+c] - uint32(buf[rmRow+x*4+c]) + uint32(buf[adRow+x*4+c])
			}
		}
	}
}

// pixelate fills blocks of size strength with their top-left color.
func pixelate(img *image.RGBA, rect image.Rectangle, strength int) {
	block := strength
	if block < 1 {
		block = 1
	}
	for y := rect.Min.Y; y < rect.Max.Y; y += block {
		for x := rect.Min.X; x < rect.Max.X; x += block {
			src := img.PixOffset(x, y)
			px := [4]uint8{img.Pix[src], img.Pix[src+1], img.Pix[src+2], img.Pix[src+3]}
			cell := image.Rect(x, y, x+block, y+block).Intersect(rect)
			for by := cell.Min.Y; by < cell.Max.Y; by++ {
				off := img.PixOffset(cell.Min.X, by)
				for bx := cell.Min.X; bx < cell.Max.X; bx++ {
					copy(img.Pix[off:off+4], px[:])
					off += 4
				}
			}
		}
	}
}
