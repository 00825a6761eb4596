package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"

	"github.com/andresmejia3/mirage/internal/utils"
	"github.com/disintegration/imaging"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DecodeError reports a frame that could not be read.
type DecodeError struct {
	Path  string
	Frame int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode frame %d of %s: %v", e.Frame, e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type frameKey struct {
	mediaID string
	index   int
}

// Accessor extracts single decoded frames from images and videos.
// It is safe for concurrent use.
type Accessor struct {
	frames *lru.Cache[frameKey, *image.RGBA]
	probes ProbeCache

	// Seams for tests; default to ffprobe/ffmpeg.
	probeVideo  func(ctx context.Context, path string) (Probe, error)
	decodeVideo func(ctx context.Context, path string, seconds float64) ([]byte, error)
}

// NewAccessor builds an Accessor memoising up to cacheSize decoded video frames.
// probes may be nil, in which case probes are kept in memory.
func NewAccessor(cacheSize int, probes ProbeCache) (*Accessor, error) {
	if cacheSize < 1 {
		cacheSize = 1
	}
	frames, err := lru.New[frameKey, *image.RGBA](cacheSize)
	if err != nil {
		return nil, err
	}
	if probes == nil {
		probes = NewMemoryProbeCache()
	}
	return &Accessor{
		frames:      frames,
		probes:      probes,
		probeVideo:  probeVideo,
		decodeVideo: decodeVideo,
	}, nil
}

// Describe validates path and returns its media reference.
func (a *Accessor) Describe(ctx context.Context, path string) (Reference, error) {
	kind, err := Detect(path)
	if err != nil {
		return Reference{}, err
	}
	ref := Reference{Path: path, Kind: kind, TotalFrames: 1}
	if kind == Video {
		ref.TotalFrames = a.TotalFrames(ctx, path)
	}
	return ref, nil
}

// TotalFrames returns the decoder-reported frame count; images report 1.
// Unreadable videos report 0.
func (a *Accessor) TotalFrames(ctx context.Context, path string) int {
	if kind, err := Detect(path); err != nil || kind != Video {
		return 1
	}
	p, err := a.probe(ctx, path)
	if err != nil {
		return 0
	}
	return p.TotalFrames
}

func (a *Accessor) probe(ctx context.Context, path string) (Probe, error) {
	id, err := utils.GenerateMediaID(path)
	if err != nil {
		return Probe{}, err
	}
	if p, ok := a.probes.Get(ctx, id); ok {
		return p, nil
	}
	p, err := a.probeVideo(ctx, path)
	if err != nil {
		return Probe{}, err
	}
	a.probes.Set(ctx, id, p)
	return p, nil
}

// Frame returns frame n of path. For images n is ignored and the whole image is returned.
// The returned image is owned by the caller.
func (a *Accessor) Frame(ctx context.Context, path string, n int) (*image.RGBA, error) {
	kind, err := Detect(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Frame: n, Err: err}
	}
	if kind == Image {
		img, err := imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			return nil, &DecodeError{Path: path, Frame: n, Err: err}
		}
		return ToRGBA(img), nil
	}
	return a.videoFrame(ctx, path, n)
}

func (a *Accessor) videoFrame(ctx context.Context, path string, n int) (*image.RGBA, error) {
	if n < 0 {
		return nil, &DecodeError{Path: path, Frame: n, Err: fmt.Errorf("negative frame index")}
	}
	id, err := utils.GenerateMediaID(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Frame: n, Err: err}
	}
	key := frameKey{mediaID: id, index: n}
	if cached, ok := a.frames.Get(key); ok {
		return cloneRGBA(cached), nil
	}

	p, err := a.probe(ctx, path)
	if err != nil {
		return nil, &DecodeError{Path: path, Frame: n, Err: err}
	}
	if p.FPS <= 0 {
		return nil, &DecodeError{Path: path, Frame: n, Err: fmt.Errorf("unknown frame rate")}
	}

	data, err := a.decodeVideo(ctx, path, float64(n)/p.FPS)
	if err != nil {
		return nil, &DecodeError{Path: path, Frame: n, Err: err}
	}
	if len(data) == 0 {
		return nil, &DecodeError{Path: path, Frame: n, Err: fmt.Errorf("no frame at index (end of stream)")}
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Path: path, Frame: n, Err: err}
	}
	frame := ToRGBA(img)
	a.frames.Add(key, frame)
	return cloneRGBA(frame), nil
}

func probeVideo(ctx context.Context, path string) (Probe, error) {
	fps, err := utils.GetVideoFPS(ctx, path)
	if err != nil {
		return Probe{}, err
	}
	return Probe{TotalFrames: utils.GetTotalFrames(ctx, path), FPS: fps}, nil
}

func decodeVideo(ctx context.Context, path string, seconds float64) ([]byte, error) {
	ffmpeg := utils.NewFFmpegFrameCmd(ctx, path, seconds)
	var stderrBuf bytes.Buffer
	ffmpeg.Stderr = &stderrBuf
	out, err := ffmpeg.Output()
	if err != nil {
		if stderrBuf.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderrBuf.Bytes()))
		}
		return nil, err
	}
	return out, nil
}

// ToRGBA converts img to a zero-origin *image.RGBA.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	out := &image.RGBA{
		Pix:    make([]byte, len(src.Pix)),
		Stride: src.Stride,
		Rect:   src.Rect,
	}
	copy(out.Pix, src.Pix)
	return out
}
