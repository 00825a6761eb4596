package processor

import (
	"fmt"
	"strings"

	"github.com/andresmejia3/mirage/internal/face"
)

// Deps carries the collaborators and settings processors are built from.
type Deps struct {
	Faces          face.Locator
	Swap           SwapModel
	Enhance        EnhanceModel
	ManyFaces      bool
	FaceDistance   float64
	RedactStyle    Style
	RedactStrength int
}

// Known lists the processor names Build accepts.
var Known = []string{"swapper", "enhancer", "redactor"}

// Build resolves names into a Pipeline once, at session start.
func Build(names []string, deps Deps) (Pipeline, error) {
	var p Pipeline
	for _, raw := range names {
		name := strings.TrimSpace(strings.ToLower(raw))
		if name == "" {
			continue
		}
		var fp FrameProcessor
		switch name {
		case "swapper":
			if deps.Swap == nil || deps.Faces == nil {
				return nil, fmt.Errorf("processor %q needs a face locator and swap model", name)
			}
			fp = &Swapper{Faces: deps.Faces, Model: deps.Swap, ManyFaces: deps.ManyFaces, Distance: deps.FaceDistance}
		case "enhancer":
			if deps.Enhance == nil || deps.Faces == nil {
				return nil, fmt.Errorf("processor %q needs a face locator and enhance model", name)
			}
			fp = &Enhancer{Faces: deps.Faces, Model: deps.Enhance}
		case "redactor":
			if deps.Faces == nil {
				return nil, fmt.Errorf("processor %q needs a face locator", name)
			}
			style := deps.RedactStyle
			if style == "" {
				style = StylePixel
			}
			fp = &Redactor{Faces: deps.Faces, Style: style, Strength: deps.RedactStrength, AllFaces: deps.ManyFaces, Distance: deps.FaceDistance}
		default:
			return nil, fmt.Errorf("unknown processor %q (known: %s)", raw, strings.Join(Known, ", "))
		}
		p = append(p, fp)
	}
	return p, nil
}
