// Package preview orchestrates the interactive face-swap preview: it turns a
// requested frame number into a rendered, swapped frame and owns the reference
// face that anchors identity while the user scrubs.
package preview

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/andresmejia3/mirage/internal/face"
	"github.com/andresmejia3/mirage/internal/media"
	"github.com/andresmejia3/mirage/internal/processor"
	"github.com/andresmejia3/mirage/internal/reference"
	"github.com/andresmejia3/mirage/internal/safety"
	"github.com/andresmejia3/mirage/internal/types"
	"github.com/andresmejia3/mirage/internal/utils"
)

var (
	// ErrSuperseded is returned when a newer request started before this one
	// could commit its rendered frame. The result was discarded.
	ErrSuperseded = errors.New("preview request superseded by a newer one")
	// ErrNotReady is returned by ComputePreview without both selections.
	ErrNotReady = errors.New("source and target must both be selected")
)

// Status texts shown for invalid selections.
const (
	StatusInvalidImage  = "Invalid Image"
	StatusInvalidTarget = "Invalid Target"
)

// MediaSource is the frame access the controller needs.
type MediaSource interface {
	Describe(ctx context.Context, path string) (media.Reference, error)
	Frame(ctx context.Context, path string, n int) (*image.RGBA, error)
	Thumbnail(ctx context.Context, ref media.Reference, size media.Size) (*image.NRGBA, error)
}

// Options configure a Controller.
type Options struct {
	PreviewSize   media.Size
	ThumbnailSize media.Size
	OnViolation   ViolationPolicy
	// Terminate is called for a flagged frame under the Terminate policy.
	// Defaults to printing the error and exiting the process.
	Terminate   func(err error)
	Directories DirectoryMemory
	Settings    Settings
}

// State is a read-only snapshot of the controller.
type State struct {
	Visibility    Visibility
	CurrentFrame  int
	TotalFrames   int
	Anchor        reference.Anchor
	HasReference  bool
	Source        string
	Target        string
	TargetKind    media.Kind
	Output        string
	RenderedFrame int // -1 until a frame is rendered
}

// Controller is one user's preview session. All operations are safe for
// concurrent use; when requests overlap, only the most recently started one
// commits its rendered frame.
type Controller struct {
	media   MediaSource
	faces   face.Locator
	gate    safety.Gate
	chain   processor.Pipeline
	ref     *reference.Cache
	display Display
	opts    Options

	mu            sync.Mutex
	source        *media.Reference
	target        *media.Reference
	output        string
	visibility    Visibility
	current       int
	rendered      image.Image
	renderedFrame int
	seq           uint64
}

// NewController wires one session. display may be nil.
func NewController(m MediaSource, faces face.Locator, gate safety.Gate, chain processor.Pipeline, display Display, opts Options) *Controller {
	if display == nil {
		display = NopDisplay{}
	}
	if opts.PreviewSize == (media.Size{}) {
		opts.PreviewSize = media.PreviewMaxSize
	}
	if opts.ThumbnailSize == (media.Size{}) {
		opts.ThumbnailSize = media.ThumbnailSize
	}
	if opts.Terminate == nil {
		opts.Terminate = func(err error) { utils.Die("Content safety violation", err, nil) }
	}
	if opts.Directories == nil {
		opts.Directories = NewMemoryDirectories()
	}
	return &Controller{
		media:         m,
		faces:         faces,
		gate:          gate,
		chain:         chain,
		ref:           reference.New(),
		display:       display,
		opts:          opts,
		renderedFrame: -1,
	}
}

// State returns a snapshot of the session.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, anchor, _ := c.ref.Snapshot()
	s := State{
		Visibility:    c.visibility,
		CurrentFrame:  c.current,
		Anchor:        anchor,
		HasReference:  cached != nil,
		Output:        c.output,
		RenderedFrame: c.renderedFrame,
	}
	if c.source != nil {
		s.Source = c.source.Path
	}
	if c.target != nil {
		s.Target = c.target.Path
		s.TargetKind = c.target.Kind
		s.TotalFrames = c.target.TotalFrames
	}
	return s
}

// Rendered returns the last committed preview image, or nil.
func (c *Controller) Rendered() image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rendered
}

// ReferenceFace returns the cached reference descriptor, or nil.
func (c *Controller) ReferenceFace() *types.Face {
	return c.ref.Get()
}

// RecentDirectory is the last directory picked for slot, as a dialog hint.
func (c *Controller) RecentDirectory(ctx context.Context, slot Slot) string {
	dir, err := c.opts.Directories.Recent(ctx, slot)
	if err != nil {
		return ""
	}
	return dir
}

func (c *Controller) remember(ctx context.Context, slot Slot, path string) {
	if err := c.opts.Directories.Remember(ctx, slot, filepath.Dir(path)); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remember %s directory: %v\n", slot, err)
	}
}

// SelectSource validates path as an image and returns its thumbnail.
// On failure the source is cleared and "Invalid Image" is shown.
func (c *Controller) SelectSource(ctx context.Context, path string) (image.Image, error) {
	ref, err := c.media.Describe(ctx, path)
	if err == nil && ref.Kind != media.Image {
		err = &media.ValidationError{Path: path, Reason: "not an image"}
	}
	var thumb image.Image
	if err == nil {
		thumb, err = c.media.Thumbnail(ctx, ref, c.opts.ThumbnailSize)
	}

	c.mu.Lock()
	c.seq++
	if err != nil {
		c.source = nil
		c.display.ShowStatus(StatusInvalidImage)
		c.mu.Unlock()
		return nil, err
	}
	c.source = &ref
	c.mu.Unlock()

	c.remember(ctx, SlotSource, path)
	return thumb, c.refresh(ctx)
}

// SelectTarget validates path as an image or video and returns its thumbnail
// (the first frame for videos). The reference face is always cleared and its
// anchor returned to (0, 0). On failure the target is cleared and
// "Invalid Target" is shown. Renders still in flight for the previous target
// are discarded.
func (c *Controller) SelectTarget(ctx context.Context, path string) (image.Image, error) {
	c.mu.Lock()
	c.ref.Reset()
	c.seq++
	c.mu.Unlock()

	ref, err := c.media.Describe(ctx, path)
	var thumb image.Image
	if err == nil {
		thumb, err = c.media.Thumbnail(ctx, ref, c.opts.ThumbnailSize)
	}

	c.mu.Lock()
	// Reset again: a render started while the file was being described has
	// seen the old target under the new epoch.
	c.ref.Reset()
	c.seq++
	c.current = 0
	if err != nil {
		c.target = nil
		c.display.ShowStatus(StatusInvalidTarget)
		c.mu.Unlock()
		return nil, err
	}
	c.target = &ref
	c.mu.Unlock()

	c.remember(ctx, SlotTarget, path)
	return thumb, c.refresh(ctx)
}

// SelectOutput stores the output path and invokes start. An empty path (a
// cancelled dialog) or a missing target is a no-op and start is not called.
// Paths without an extension get .png for image targets and .mp4 for videos.
func (c *Controller) SelectOutput(ctx context.Context, path string, start StartFunc) error {
	c.mu.Lock()
	if path == "" || c.target == nil {
		c.mu.Unlock()
		return nil
	}
	if filepath.Ext(path) == "" {
		path += c.target.Kind.DefaultExtension()
	}
	c.output = path
	sel := Selection{
		Output:   path,
		Target:   c.target.Path,
		Kind:     c.target.Kind,
		Settings: c.opts.Settings,
	}
	if c.source != nil {
		sel.Source = c.source.Path
	}
	c.mu.Unlock()

	c.remember(ctx, SlotOutput, path)
	if start == nil {
		return nil
	}
	return start(ctx, sel)
}

// Toggle shows or hides the preview. Showing requires both selections and is
// silently ignored otherwise. Hiding discards renders in flight and releases
// the safety gate's warm state.
func (c *Controller) Toggle(ctx context.Context) error {
	c.mu.Lock()
	if c.visibility == Visible {
		c.visibility = Hidden
		c.seq++
		c.display.ShowVisibility(Hidden)
		c.mu.Unlock()
		if err := c.gate.Reset(); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
		}
		return nil
	}
	if c.source == nil || c.target == nil {
		c.mu.Unlock()
		return nil
	}
	c.visibility = Visible
	n := c.enterVisibleLocked()
	c.display.ShowVisibility(Visible)
	c.mu.Unlock()

	return c.ignoreSuperseded(c.ComputePreview(ctx, n))
}

// enterVisibleLocked publishes the navigable range and returns the frame to render.
func (c *Controller) enterVisibleLocked() int {
	c.current = c.ref.Anchor().FrameNumber
	if c.target.Kind == media.Video {
		c.current = clamp(c.current, 0, c.target.TotalFrames)
		c.display.ShowRange(0, c.target.TotalFrames)
	} else {
		c.display.HideRange()
	}
	return c.current
}

// refresh re-initialises an open preview after a selection changed.
func (c *Controller) refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.visibility != Visible || c.source == nil || c.target == nil {
		c.mu.Unlock()
		return nil
	}
	n := c.enterVisibleLocked()
	c.mu.Unlock()
	return c.ignoreSuperseded(c.ComputePreview(ctx, n))
}

// StepFrame moves the current frame by delta, clamped to [0, totalFrames], and
// renders it. The reference face is untouched.
func (c *Controller) StepFrame(ctx context.Context, delta int) error {
	if !c.MoveFrame(delta) {
		return nil
	}
	return c.RenderCurrent(ctx)
}

// SetFrameNumber jumps to frame n, clamped to [0, totalFrames], and renders it.
func (c *Controller) SetFrameNumber(ctx context.Context, n int) error {
	if !c.SeekFrame(n) {
		return nil
	}
	return c.RenderCurrent(ctx)
}

// StepReferenceFace re-anchors identity on the face delta positions away, in
// the frame currently displayed, and re-renders that frame.
func (c *Controller) StepReferenceFace(ctx context.Context, delta int) error {
	if !c.MoveReference(delta) {
		return nil
	}
	return c.RenderCurrent(ctx)
}

// MoveFrame is StepFrame without the render. It reports false when source or
// target is missing and nothing changed.
func (c *Controller) MoveFrame(delta int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == nil || c.target == nil {
		return false
	}
	c.seekLocked(c.current + delta)
	return true
}

// SeekFrame is SetFrameNumber without the render.
func (c *Controller) SeekFrame(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == nil || c.target == nil {
		return false
	}
	c.seekLocked(n)
	return true
}

// MoveReference is StepReferenceFace without the render.
func (c *Controller) MoveReference(delta int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == nil || c.target == nil {
		return false
	}
	anchor := c.ref.Anchor()
	c.ref.Move(reference.Anchor{FrameNumber: c.current, Position: anchor.Position + delta})
	return true
}

func (c *Controller) seekLocked(n int) {
	c.current = clamp(n, 0, c.target.TotalFrames)
}

// RenderCurrent renders the current frame if the preview is Visible. While
// Hidden, navigation only updates state and the gate is left cold.
func (c *Controller) RenderCurrent(ctx context.Context) error {
	c.mu.Lock()
	if c.visibility != Visible || c.source == nil || c.target == nil {
		c.mu.Unlock()
		return nil
	}
	n := c.current
	c.mu.Unlock()
	return c.ComputeAndDiscardStale(ctx, n)
}

// ComputeAndDiscardStale renders frame n and treats supersession as success.
func (c *Controller) ComputeAndDiscardStale(ctx context.Context, n int) error {
	_, err := c.ComputePreview(ctx, n)
	return c.ignoreSuperseded(nil, err)
}

func (c *Controller) ignoreSuperseded(_ image.Image, err error) error {
	if errors.Is(err, ErrSuperseded) {
		return nil
	}
	return err
}

// ComputePreview renders frame n of the target with the source identity swapped in.
//
// A frame that cannot be decoded leaves the previous image displayed. A stage
// failure in the processor chain displays the unmodified frame. A frame flagged
// by the safety gate is escalated according to Options.OnViolation.
func (c *Controller) ComputePreview(ctx context.Context, n int) (image.Image, error) {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	if c.source == nil || c.target == nil {
		c.mu.Unlock()
		return nil, ErrNotReady
	}
	sourcePath, targetPath := c.source.Path, c.target.Path
	cached, anchor, epoch := c.ref.Snapshot()
	c.mu.Unlock()

	// 1. Decode
	frame, err := c.media.Frame(ctx, targetPath, n)
	if err != nil {
		c.status(fmt.Sprintf("No preview available for frame %d", n))
		return nil, err
	}

	// 2. Safety gate
	verdict, p, err := c.gate.Check(ctx, frame)
	if err != nil {
		c.status(fmt.Sprintf("Safety check failed for frame %d", n))
		return nil, err
	}
	if verdict == safety.Flagged {
		return nil, c.escalate(&safety.PolicyViolation{Frame: n, Probability: p})
	}

	// 3. Reference face, computed lazily from the anchor
	referenceFace := cached
	if referenceFace == nil {
		referenceFace = c.locateReference(ctx, targetPath, n, frame, anchor, epoch)
	}

	// 4. Source face, recomputed every call
	sourceFace := c.sourceFace(ctx, sourcePath)

	// 5. Processor chain
	output, err := c.chain.Apply(ctx, sourceFace, referenceFace, frame)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var perr *processor.ProcessingError
		if !errors.As(err, &perr) {
			return nil, err
		}
		c.status(fmt.Sprintf("Showing original frame %d: %v", n, perr))
		output = frame
	}

	// 6. Fit to the preview box
	rendered := media.Contain(output, c.opts.PreviewSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq {
		return nil, ErrSuperseded
	}
	c.rendered = rendered
	c.renderedFrame = n
	c.display.ShowPreview(n, rendered)
	return rendered, nil
}

// locateReference finds the face at anchor and caches it unless the cache was
// cleared after epoch was observed.
func (c *Controller) locateReference(ctx context.Context, targetPath string, n int, frame *image.RGBA, anchor reference.Anchor, epoch uint64) *types.Face {
	refFrame := frame
	if anchor.FrameNumber != n {
		var err error
		refFrame, err = c.media.Frame(ctx, targetPath, anchor.FrameNumber)
		if err != nil {
			c.status(fmt.Sprintf("Reference frame %d unreadable", anchor.FrameNumber))
			return nil
		}
	}

	found, err := c.faces.Locate(ctx, refFrame, anchor.Position)
	if err != nil {
		c.status(fmt.Sprintf("Face detection failed: %v", err))
		return nil
	}
	if found == nil {
		return nil
	}
	c.ref.SetIfEpoch(found, anchor, epoch)
	return found
}

func (c *Controller) sourceFace(ctx context.Context, sourcePath string) *types.Face {
	sourceFrame, err := c.media.Frame(ctx, sourcePath, 0)
	if err != nil {
		c.status("Source image unreadable")
		return nil
	}
	found, err := c.faces.Locate(ctx, sourceFrame, 0)
	if err != nil {
		c.status(fmt.Sprintf("Face detection failed: %v", err))
		return nil
	}
	return found
}

func (c *Controller) escalate(v *safety.PolicyViolation) error {
	if c.opts.OnViolation == Terminate {
		c.opts.Terminate(v)
		return v
	}
	c.status(fmt.Sprintf("Frame %d blocked by content safety gate", v.Frame))
	return v
}

func (c *Controller) status(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.display.ShowStatus(text)
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
