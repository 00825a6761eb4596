// Package face locates face descriptors in decoded frames.
package face

import (
	"context"
	"image"

	"github.com/andresmejia3/mirage/internal/types"
)

// Detector returns every face in a frame, in the model's native order.
type Detector interface {
	Detect(ctx context.Context, frame *image.RGBA) ([]types.Face, error)
}

// Locator selects faces by ordinal position.
type Locator interface {
	// Locate returns the face at the zero-based position, or nil when there is no
	// face there. A nil face is a normal result, not an error.
	Locate(ctx context.Context, frame *image.RGBA, position int) (*types.Face, error)
	// LocateAll returns every face in detector order.
	LocateAll(ctx context.Context, frame *image.RGBA) ([]types.Face, error)
}

// DetectorLocator adapts a Detector to the Locator contract.
type DetectorLocator struct {
	Detector Detector
}

func NewLocator(d Detector) *DetectorLocator {
	return &DetectorLocator{Detector: d}
}

func (l *DetectorLocator) LocateAll(ctx context.Context, frame *image.RGBA) ([]types.Face, error) {
	if frame == nil {
		return nil, nil
	}
	return l.Detector.Detect(ctx, frame)
}

func (l *DetectorLocator) Locate(ctx context.Context, frame *image.RGBA, position int) (*types.Face, error) {
	if position < 0 {
		return nil, nil
	}
	faces, err := l.LocateAll(ctx, frame)
	if err != nil {
		return nil, err
	}
	if position >= len(faces) {
		return nil, nil
	}
	f := faces[position]
	return &f, nil
}
