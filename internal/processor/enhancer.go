package processor

import (
	"context"
	"image"

	"github.com/andresmejia3/mirage/internal/face"
	"github.com/andresmejia3/mirage/internal/types"
)

// EnhanceModel restores the region of one face.
type EnhanceModel interface {
	Enhance(ctx context.Context, target *types.Face, frame *image.RGBA) (*image.RGBA, error)
}

// Enhancer restores every detected face. It needs neither source nor reference.
type Enhancer struct {
	Faces face.Locator
	Model EnhanceModel
}

func (e *Enhancer) Name() string { return "enhancer" }

func (e *Enhancer) Apply(ctx context.Context, _, _ *types.Face, frame *image.RGBA) (*image.RGBA, error) {
	faces, err := e.Faces.LocateAll(ctx, frame)
	if err != nil {
		return nil, err
	}
	for i := range faces {
		frame, err = e.Model.Enhance(ctx, &faces[i], frame)
		if err != nil {
			return nil, err
		}
	}
	return frame, nil
}
