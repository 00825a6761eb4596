package processor

import (
	"context"
	"image"

	"github.com/andresmejia3/mirage/internal/face"
	"github.com/andresmejia3/mirage/internal/types"
	"github.com/andresmejia3/mirage/internal/utils"
)

// DefaultSimilarFaceDistance is the squared distance between normalized embeddings
// below which a frame face counts as the reference face.
const DefaultSimilarFaceDistance = 0.85

// SwapModel pastes a source identity onto one target face.
type SwapModel interface {
	Swap(ctx context.Context, source, target *types.Face, frame *image.RGBA) (*image.RGBA, error)
}

// Swapper replaces the reference face (or every face) with the source identity.
type Swapper struct {
	Faces     face.Locator
	Model     SwapModel
	ManyFaces bool
	Distance  float64
}

func (s *Swapper) Name() string { return "swapper" }

func (s *Swapper) Apply(ctx context.Context, source, reference *types.Face, frame *image.RGBA) (*image.RGBA, error) {
	if source == nil {
		return nil, ErrNoSourceFace
	}
	if !s.ManyFaces && reference == nil {
		return frame, nil
	}

	faces, err := s.Faces.LocateAll(ctx, frame)
	if err != nil {
		return nil, err
	}

	var targets []types.Face
	if s.ManyFaces {
		targets = faces
	} else if t := FindSimilar(faces, reference, s.distance()); t != nil {
		targets = []types.Face{*t}
	}

	for i := range targets {
		frame, err = s.Model.Swap(ctx, source, &targets[i], frame)
		if err != nil {
			return nil, err
		}
	}
	return frame, nil
}

func (s *Swapper) distance() float64 {
	if s.Distance <= 0 {
		return DefaultSimilarFaceDistance
	}
	return s.Distance
}

// FindSimilar returns the first face within maxDistance of reference, or nil.
func FindSimilar(faces []types.Face, reference *types.Face, maxDistance float64) *types.Face {
	if reference == nil {
		return nil
	}
	for i := range faces {
		if utils.FaceDistance(faces[i].Embedding, reference.Embedding) < maxDistance {
			return &faces[i]
		}
	}
	return nil
}
