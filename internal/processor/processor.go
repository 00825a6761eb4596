// Package processor implements the ordered frame-processor chain applied to each
// preview frame.
package processor

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/andresmejia3/mirage/internal/types"
)

// ErrNoSourceFace is returned by stages that need a source face and got none.
var ErrNoSourceFace = errors.New("no face detected in source image")

// FrameProcessor transforms one frame given the source and reference faces.
// Either face may be nil; stages that can work without one pass the frame through.
type FrameProcessor interface {
	Name() string
	Apply(ctx context.Context, source, reference *types.Face, frame *image.RGBA) (*image.RGBA, error)
}

// ProcessingError reports the stage that could not process a frame.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processor %s failed: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Pipeline is an ordered processor chain, fixed for a session.
type Pipeline []FrameProcessor

// Names lists the stages in order.
func (p Pipeline) Names() []string {
	names := make([]string, len(p))
	for i, fp := range p {
		names[i] = fp.Name()
	}
	return names
}

// Apply threads frame through every stage left to right. The input frame is never
// modified, so callers can fall back to it when a stage fails.
// An empty pipeline returns frame unchanged.
func (p Pipeline) Apply(ctx context.Context, source, reference *types.Face, frame *image.RGBA) (*image.RGBA, error) {
	if len(p) == 0 {
		return frame, nil
	}
	out := clone(frame)
	for _, fp := range p {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := fp.Apply(ctx, source, reference, out)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &ProcessingError{Stage: fp.Name(), Err: err}
		}
		if next == nil {
			return nil, &ProcessingError{Stage: fp.Name(), Err: errors.New("stage returned no frame")}
		}
		out = next
	}
	return out, nil
}

func clone(src *image.RGBA) *image.RGBA {
	out := &image.RGBA{
		Pix:    make([]byte, len(src.Pix)),
		Stride: src.Stride,
		Rect:   src.Rect,
	}
	copy(out.Pix, src.Pix)
	return out
}
