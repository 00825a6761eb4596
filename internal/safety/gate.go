package safety

import (
	"context"
	"fmt"
	"image"
)

// Verdict is the outcome of a content-safety check.
type Verdict int

const (
	Clean Verdict = iota
	Flagged
)

func (v Verdict) String() string {
	if v == Flagged {
		return "flagged"
	}
	return "clean"
}

// DefaultThreshold is the unsafe probability above which a frame is flagged.
const DefaultThreshold = 0.85

// PolicyViolation is returned when a preview frame is flagged.
type PolicyViolation struct {
	Frame       int
	Probability float64
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("frame %d flagged by content safety gate (p=%.2f)", e.Frame, e.Probability)
}

// Gate classifies frames as clean or policy-violating.
type Gate interface {
	Check(ctx context.Context, frame *image.RGBA) (Verdict, float64, error)
	// Reset releases the classifier's warm state.
	Reset() error
}

// Classifier scores a frame with the probability that it is unsafe.
type Classifier interface {
	Classify(ctx context.Context, frame *image.RGBA) (float64, error)
	Reset() error
}

// ClassifierGate flags frames whose unsafe probability exceeds Threshold.
type ClassifierGate struct {
	Classifier Classifier
	Threshold  float64
}

func NewGate(c Classifier, threshold float64) *ClassifierGate {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &ClassifierGate{Classifier: c, Threshold: threshold}
}

func (g *ClassifierGate) Check(ctx context.Context, frame *image.RGBA) (Verdict, float64, error) {
	p, err := g.Classifier.Classify(ctx, frame)
	if err != nil {
		return Clean, 0, fmt.Errorf("safety classifier failed: %w", err)
	}
	if p > g.Threshold {
		return Flagged, p, nil
	}
	return Clean, p, nil
}

func (g *ClassifierGate) Reset() error {
	if err := g.Classifier.Reset(); err != nil {
		return fmt.Errorf("safety classifier reset failed: %w", err)
	}
	return nil
}
