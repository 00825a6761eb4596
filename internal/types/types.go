package types

import "image"

// Face is the descriptor produced by the detection/embedding model.
// The preview core passes it between components without inspecting it.
type Face struct {
	Box       [4]int    `json:"box"`       // [x1, y1, x2, y2]
	Embedding []float64 `json:"embedding"` // 512-d identity embedding
	Score     float64   `json:"score"`     // detector confidence
}

// Rect returns the face bounding box as an image.Rectangle.
func (f *Face) Rect() image.Rectangle {
	return image.Rect(f.Box[0], f.Box[1], f.Box[2], f.Box[3])
}
